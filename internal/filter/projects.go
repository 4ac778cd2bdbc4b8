package filter

import (
	"strings"

	"projectservice/internal/domain"
)

// ProjectCriteria selects projects by status, visibility and a
// case-insensitive name fragment.
type ProjectCriteria struct {
	NamePattern string
	Status      string
	Visibility  string
}

func ProjectChain() Chain[domain.Project, ProjectCriteria] {
	return Chain[domain.Project, ProjectCriteria]{
		Func[domain.Project, ProjectCriteria]{
			When: func(c ProjectCriteria) bool { return strings.TrimSpace(c.Status) != "" },
			Match: func(p domain.Project, c ProjectCriteria) bool {
				return p.Status == domain.NormalizeStatus(c.Status)
			},
		},
		Func[domain.Project, ProjectCriteria]{
			When: func(c ProjectCriteria) bool { return strings.TrimSpace(c.NamePattern) != "" },
			Match: func(p domain.Project, c ProjectCriteria) bool {
				return strings.Contains(strings.ToLower(p.Name), strings.ToLower(strings.TrimSpace(c.NamePattern)))
			},
		},
		Func[domain.Project, ProjectCriteria]{
			When: func(c ProjectCriteria) bool { return strings.TrimSpace(c.Visibility) != "" },
			Match: func(p domain.Project, c ProjectCriteria) bool {
				return p.Visibility == domain.NormalizeStatus(c.Visibility)
			},
		},
	}
}
