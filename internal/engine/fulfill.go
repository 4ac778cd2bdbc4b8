package engine

import (
	"context"
	"database/sql"

	log "github.com/sirupsen/logrus"

	"projectservice/internal/domain"
	"projectservice/internal/events"
	"projectservice/internal/repo"
)

// RoleOutcome reports one requirement after a fulfillment pass.
// Remaining > 0 means the roster could not cover the deficit; that is not
// an error.
type RoleOutcome struct {
	Role      domain.TeamRole `json:"role"`
	Required  int             `json:"required"`
	Current   int             `json:"current"`
	Invited   int             `json:"invited"`
	Remaining int             `json:"remaining"`
}

type FulfillmentResult struct {
	Stage       domain.Stage             `json:"stage"`
	Roles       []RoleOutcome            `json:"roles"`
	Invitations []domain.StageInvitation `json:"invitations"`
}

// Fulfilled reports whether every requirement is covered.
func (r FulfillmentResult) Fulfilled() bool {
	for _, o := range r.Roles {
		if o.Remaining > 0 {
			return false
		}
	}
	return true
}

// roleCounts is the fold accumulator. Values are never mutated in place;
// with returns an advanced copy.
type roleCounts map[domain.TeamRole]int

func (c roleCounts) with(role domain.TeamRole, delta int) roleCounts {
	next := make(roleCounts, len(c)+1)
	for k, v := range c {
		next[k] = v
	}
	next[role] += delta
	return next
}

func countRoles(executors []domain.TeamMember) roleCounts {
	acc := roleCounts{}
	for _, m := range executors {
		for _, r := range m.Roles {
			acc = acc.with(r, 1)
		}
	}
	return acc
}

type pick struct {
	MemberID string
	Role     domain.TeamRole
}

type fulfillmentPlan struct {
	Outcomes []RoleOutcome
	Picks    []pick
}

// planFulfillment walks the requirements in order and picks, for each
// deficit, the first roster members holding the role who are neither
// executors, already picked, nor holding a pending invitation to the stage.
// Pending invitees that are not executors yet count toward the role they
// were invited for.
func planFulfillment(stage domain.Stage, executors, roster []domain.TeamMember, pending map[string]domain.TeamRole) fulfillmentPlan {
	taken := make(map[string]bool, len(stage.Executors)+len(pending))
	for _, id := range stage.Executors {
		taken[id] = true
	}
	acc := countRoles(executors)
	for id, role := range pending {
		if !taken[id] && role != "" {
			acc = acc.with(role, 1)
		}
		taken[id] = true
	}
	var plan fulfillmentPlan
	for _, req := range stage.Roles {
		current := acc[req.Role]
		deficit := req.Count - current
		if deficit < 0 {
			deficit = 0
		}
		var chosen []pick
		for _, m := range roster {
			if len(chosen) == deficit {
				break
			}
			if taken[m.ID] || !m.HasRole(req.Role) {
				continue
			}
			taken[m.ID] = true
			chosen = append(chosen, pick{MemberID: m.ID, Role: req.Role})
		}
		plan.Picks = append(plan.Picks, chosen...)
		plan.Outcomes = append(plan.Outcomes, RoleOutcome{
			Role:      req.Role,
			Required:  req.Count,
			Current:   current,
			Invited:   len(chosen),
			Remaining: deficit - len(chosen),
		})
		acc = acc.with(req.Role, len(chosen))
	}
	return plan
}

// FulfillStageRoles invites roster members until every required role of
// the stage is covered or the roster runs out of candidates.
func (e Engine) FulfillStageRoles(ctx context.Context, stageID, actorID string) (FulfillmentResult, error) {
	var res FulfillmentResult
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		stage, err := r.GetStage(ctx, stageID)
		if err != nil {
			return notFound(err, "stage", stageID)
		}
		res, err = e.fulfill(ctx, tx, r, ob, stage, actorID, false)
		return err
	})
	if err != nil {
		return FulfillmentResult{}, err
	}
	return res, nil
}

// fulfill plans and persists one pass for stage. dirty forces a save even
// when nobody is picked, for callers that already changed the stage.
func (e Engine) fulfill(ctx context.Context, tx *sql.Tx, r repo.Repo, ob *outbox, stage domain.Stage, actorID string, dirty bool) (FulfillmentResult, error) {
	executors, err := r.ListMembersByID(ctx, stage.Executors)
	if err != nil {
		return FulfillmentResult{}, err
	}
	roster, err := r.ListProjectMembers(ctx, stage.ProjectID)
	if err != nil {
		return FulfillmentResult{}, err
	}
	pending, err := r.PendingInvitees(ctx, stage.ID)
	if err != nil {
		return FulfillmentResult{}, err
	}
	plan := planFulfillment(stage, executors, roster, pending)
	res := FulfillmentResult{Roles: plan.Outcomes, Invitations: []domain.StageInvitation{}}

	if len(plan.Picks) == 0 && !dirty {
		res.Stage = stage
		return res, nil
	}
	now := e.timestamp()
	if e.reserveOnInvite() {
		executorIDs := append([]string{}, stage.Executors...)
		for _, p := range plan.Picks {
			executorIDs = append(executorIDs, p.MemberID)
		}
		stage.Executors = executorIDs
	}
	stage.UpdatedAt = now
	version, err := saveStage(ctx, r, stage)
	if err != nil {
		return FulfillmentResult{}, err
	}
	stage.Version = version

	for _, p := range plan.Picks {
		inv := domain.StageInvitation{
			ID:        e.newID(),
			StageID:   stage.ID,
			InvitedID: p.MemberID,
			Role:      p.Role,
			Status:    domain.InvitationPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertInvitation(ctx, inv); err != nil {
			return FulfillmentResult{}, err
		}
		if err := e.record(ctx, tx, ob, "invitation.sent", stage.ProjectID, "stage_invitation", inv.ID, actorID, events.EventPayload{
			"stage_id":   stage.ID,
			"invited_id": p.MemberID,
			"role":       string(p.Role),
		}); err != nil {
			return FulfillmentResult{}, err
		}
		res.Invitations = append(res.Invitations, inv)
	}
	res.Stage = stage
	if len(plan.Picks) > 0 {
		if err := e.record(ctx, tx, ob, "stage.fulfilled", stage.ProjectID, "stage", stage.ID, actorID, events.EventPayload{
			"invited":  len(plan.Picks),
			"reserved": e.reserveOnInvite(),
		}); err != nil {
			return FulfillmentResult{}, err
		}
	}
	log.WithFields(log.Fields{
		"stage_id":  stage.ID,
		"invited":   len(plan.Picks),
		"fulfilled": res.Fulfilled(),
	}).Info("stage roles fulfilled")
	return res, nil
}
