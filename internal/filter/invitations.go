package filter

import (
	"strings"

	"projectservice/internal/domain"
)

type InvitationCriteria struct {
	Status   string
	StageID  string
	AuthorID string
}

func InvitationChain() Chain[domain.StageInvitation, InvitationCriteria] {
	return Chain[domain.StageInvitation, InvitationCriteria]{
		Func[domain.StageInvitation, InvitationCriteria]{
			When: func(c InvitationCriteria) bool { return strings.TrimSpace(c.Status) != "" },
			Match: func(inv domain.StageInvitation, c InvitationCriteria) bool {
				return inv.Status == domain.NormalizeStatus(c.Status)
			},
		},
		Func[domain.StageInvitation, InvitationCriteria]{
			When: func(c InvitationCriteria) bool { return c.StageID != "" },
			Match: func(inv domain.StageInvitation, c InvitationCriteria) bool {
				return inv.StageID == c.StageID
			},
		},
		Func[domain.StageInvitation, InvitationCriteria]{
			When: func(c InvitationCriteria) bool { return c.AuthorID != "" },
			Match: func(inv domain.StageInvitation, c InvitationCriteria) bool {
				return inv.AuthorID != nil && *inv.AuthorID == c.AuthorID
			},
		},
	}
}
