package filter

import (
	"strings"

	"projectservice/internal/domain"
)

type MemberCriteria struct {
	RolePattern string
	UserID      string
}

func MemberChain() Chain[domain.TeamMember, MemberCriteria] {
	return Chain[domain.TeamMember, MemberCriteria]{
		Func[domain.TeamMember, MemberCriteria]{
			When: func(c MemberCriteria) bool { return strings.TrimSpace(c.RolePattern) != "" },
			Match: func(m domain.TeamMember, c MemberCriteria) bool {
				return m.HasRole(domain.TeamRole(domain.NormalizeStatus(c.RolePattern)))
			},
		},
		Func[domain.TeamMember, MemberCriteria]{
			When: func(c MemberCriteria) bool { return c.UserID != "" },
			Match: func(m domain.TeamMember, c MemberCriteria) bool {
				return m.UserID == c.UserID
			},
		},
	}
}
