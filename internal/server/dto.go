package server

import (
	"projectservice/internal/domain"
	"projectservice/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	OwnerID     string  `json:"owner_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	Visibility  *string `json:"visibility,omitempty" enum:"PUBLIC,PRIVATE"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"CREATED,IN_PROGRESS,COMPLETED,ON_HOLD,CANCELLED"`
	Visibility  *string `json:"visibility,omitempty" enum:"PUBLIC,PRIVATE"`
}

type AddTeamMemberRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
}

type RoleRequirementRequest struct {
	Role  string `json:"role"`
	Count int    `json:"count" minimum:"0"`
}

type CreateStageRequest struct {
	Name      string                   `json:"name"`
	Roles     []RoleRequirementRequest `json:"roles,omitempty"`
	Executors []string                 `json:"executors,omitempty"`
}

type UpdateStageRequest struct {
	Name    *string                  `json:"name,omitempty"`
	Roles   []RoleRequirementRequest `json:"roles,omitempty"`
	Version int                      `json:"version,omitempty"`
}

type CreateTaskRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	StageID     *string `json:"stage_id,omitempty"`
	PerformerID *string `json:"performer_id,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"TODO,IN_PROGRESS,TESTING,DONE,CANCELLED"`
	Force  bool   `json:"force,omitempty"`
}

type SendInvitationRequest struct {
	InvitedID string `json:"invited_id"`
}

type RejectInvitationRequest struct {
	Reason string `json:"reason"`
}

// Response payloads

type FulfillmentResponse struct {
	Stage       domain.Stage             `json:"stage"`
	Roles       []engine.RoleOutcome     `json:"roles"`
	Invitations []domain.StageInvitation `json:"invitations"`
	Fulfilled   bool                     `json:"fulfilled"`
}

func fulfillmentResponse(res engine.FulfillmentResult) FulfillmentResponse {
	roles := res.Roles
	if roles == nil {
		roles = []engine.RoleOutcome{}
	}
	invs := res.Invitations
	if invs == nil {
		invs = []domain.StageInvitation{}
	}
	return FulfillmentResponse{
		Stage:       res.Stage,
		Roles:       roles,
		Invitations: invs,
		Fulfilled:   res.Fulfilled(),
	}
}

func requirements(in []RoleRequirementRequest) []engine.RoleRequirement {
	if in == nil {
		return nil
	}
	out := make([]engine.RoleRequirement, 0, len(in))
	for _, r := range in {
		out = append(out, engine.RoleRequirement{Role: r.Role, Count: r.Count})
	}
	return out
}
