package filter

import (
	"strings"

	"projectservice/internal/domain"
)

type TaskCriteria struct {
	Status      string
	PerformerID string
	StageID     string
}

func TaskChain() Chain[domain.Task, TaskCriteria] {
	return Chain[domain.Task, TaskCriteria]{
		Func[domain.Task, TaskCriteria]{
			When: func(c TaskCriteria) bool { return strings.TrimSpace(c.Status) != "" },
			Match: func(t domain.Task, c TaskCriteria) bool {
				return t.Status == domain.NormalizeStatus(c.Status)
			},
		},
		Func[domain.Task, TaskCriteria]{
			When: func(c TaskCriteria) bool { return c.PerformerID != "" },
			Match: func(t domain.Task, c TaskCriteria) bool {
				return t.PerformerID != nil && *t.PerformerID == c.PerformerID
			},
		},
		Func[domain.Task, TaskCriteria]{
			When: func(c TaskCriteria) bool { return c.StageID != "" },
			Match: func(t domain.Task, c TaskCriteria) bool {
				return t.StageID != nil && *t.StageID == c.StageID
			},
		},
	}
}
