package filter

import (
	"strings"

	"projectservice/internal/domain"
)

// StageView pairs a stage with the statuses of its tasks so the task
// status filter does not need store access.
type StageView struct {
	Stage        domain.Stage
	TaskStatuses []string
}

type StageCriteria struct {
	TeamRolePattern   string
	TaskStatusPattern string
}

func StageChain() Chain[StageView, StageCriteria] {
	return Chain[StageView, StageCriteria]{
		Func[StageView, StageCriteria]{
			When: func(c StageCriteria) bool { return strings.TrimSpace(c.TeamRolePattern) != "" },
			Match: func(v StageView, c StageCriteria) bool {
				return v.Stage.RequiresRole(domain.TeamRole(domain.NormalizeStatus(c.TeamRolePattern)))
			},
		},
		Func[StageView, StageCriteria]{
			When: func(c StageCriteria) bool { return strings.TrimSpace(c.TaskStatusPattern) != "" },
			Match: func(v StageView, c StageCriteria) bool {
				want := domain.NormalizeStatus(c.TaskStatusPattern)
				for _, s := range v.TaskStatuses {
					if s == want {
						return true
					}
				}
				return false
			},
		},
	}
}
