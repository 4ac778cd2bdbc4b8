package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"projectservice/internal/domain"
	"projectservice/internal/engine/membership"
	"projectservice/internal/events"
	"projectservice/internal/filter"
	"projectservice/internal/repo"
)

type SendInvitationOptions struct {
	StageID   string
	AuthorID  string
	InvitedID string
}

// SendInvitation records a PENDING invitation from one member to another.
func (e Engine) SendInvitation(ctx context.Context, opts SendInvitationOptions) (domain.StageInvitation, error) {
	var inv domain.StageInvitation
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		if _, err := r.GetTeamMember(ctx, opts.AuthorID); err != nil {
			return notFound(err, "team member", opts.AuthorID)
		}
		if _, err := r.GetTeamMember(ctx, opts.InvitedID); err != nil {
			return notFound(err, "team member", opts.InvitedID)
		}
		stage, err := r.GetStage(ctx, opts.StageID)
		if err != nil {
			return notFound(err, "stage", opts.StageID)
		}
		if stage.HasExecutor(opts.InvitedID) {
			return validationf("member %s already executes stage %s", opts.InvitedID, stage.ID)
		}
		pending, err := r.PendingInvitees(ctx, stage.ID)
		if err != nil {
			return err
		}
		if _, ok := pending[opts.InvitedID]; ok {
			return ConflictError{Message: "member " + opts.InvitedID + " already has a pending invitation to stage " + stage.ID}
		}
		now := e.timestamp()
		inv = domain.StageInvitation{
			ID:        e.newID(),
			StageID:   stage.ID,
			AuthorID:  optionalString(opts.AuthorID),
			InvitedID: opts.InvitedID,
			Status:    domain.InvitationPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertInvitation(ctx, inv); err != nil {
			return err
		}
		return e.record(ctx, tx, ob, "invitation.sent", stage.ProjectID, "stage_invitation", inv.ID, opts.AuthorID, events.EventPayload{
			"stage_id":   stage.ID,
			"invited_id": inv.InvitedID,
		})
	})
	if err != nil {
		return domain.StageInvitation{}, err
	}
	return inv, nil
}

// AcceptInvitation marks the caller's pending invitation ACCEPTED and adds
// the caller to the stage executors.
func (e Engine) AcceptInvitation(ctx context.Context, invitationID, callerID string) (domain.StageInvitation, error) {
	var inv domain.StageInvitation
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		var err error
		inv, err = e.pendingInvitationFor(ctx, r, invitationID, callerID)
		if err != nil {
			return err
		}
		stage, err := r.GetStage(ctx, inv.StageID)
		if err != nil {
			return notFound(err, "stage", inv.StageID)
		}
		if err := e.Members.EnsureProjectParticipant(ctx, tx, stage.ProjectID, callerID); err != nil {
			var np membership.NotParticipantError
			if errors.As(err, &np) {
				return ValidationError{Message: np.Error()}
			}
			return err
		}
		now := e.timestamp()
		if err := updateInvitation(ctx, r, inv.ID, domain.InvitationAccepted, inv.Description, now); err != nil {
			return err
		}
		inv.Status = domain.InvitationAccepted
		inv.UpdatedAt = now
		if !stage.HasExecutor(callerID) {
			stage.Executors = append(stage.Executors, callerID)
			stage.UpdatedAt = now
			if _, err := saveStage(ctx, r, stage); err != nil {
				return err
			}
		}
		return e.record(ctx, tx, ob, "invitation.accepted", stage.ProjectID, "stage_invitation", inv.ID, callerID, events.EventPayload{
			"stage_id": stage.ID,
		})
	})
	if err != nil {
		return domain.StageInvitation{}, err
	}
	log.WithFields(log.Fields{"invitation_id": inv.ID, "member_id": callerID}).Info("invitation accepted")
	return inv, nil
}

// RejectInvitation marks the caller's pending invitation REJECTED with a
// mandatory reason. Stage executors are left as they are.
func (e Engine) RejectInvitation(ctx context.Context, invitationID, callerID, reason string) (domain.StageInvitation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.StageInvitation{}, validationf("a rejection reason is required")
	}
	var inv domain.StageInvitation
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		var err error
		inv, err = e.pendingInvitationFor(ctx, r, invitationID, callerID)
		if err != nil {
			return err
		}
		stage, err := r.GetStage(ctx, inv.StageID)
		if err != nil {
			return notFound(err, "stage", inv.StageID)
		}
		now := e.timestamp()
		if err := updateInvitation(ctx, r, inv.ID, domain.InvitationRejected, reason, now); err != nil {
			return err
		}
		inv.Status = domain.InvitationRejected
		inv.Description = reason
		inv.UpdatedAt = now
		return e.record(ctx, tx, ob, "invitation.rejected", stage.ProjectID, "stage_invitation", inv.ID, callerID, events.EventPayload{
			"stage_id": stage.ID,
			"reason":   reason,
		})
	})
	if err != nil {
		return domain.StageInvitation{}, err
	}
	log.WithFields(log.Fields{"invitation_id": inv.ID, "member_id": callerID}).Info("invitation rejected")
	return inv, nil
}

// ListInvitationsForMember returns invitations addressed to memberID,
// narrowed by the invitation filter chain.
func (e Engine) ListInvitationsForMember(ctx context.Context, memberID string, criteria filter.InvitationCriteria) ([]domain.StageInvitation, error) {
	if strings.TrimSpace(criteria.Status) != "" && !domain.IsValidInvitationStatus(domain.NormalizeStatus(criteria.Status)) {
		return nil, validationf("invalid invitation status %q", criteria.Status)
	}
	items, err := e.Repo.ListInvitations(ctx, repo.InvitationQuery{InvitedID: memberID})
	if err != nil {
		return nil, err
	}
	return filter.InvitationChain().Apply(items, criteria), nil
}

func (e Engine) GetInvitation(ctx context.Context, id string) (domain.StageInvitation, error) {
	inv, err := e.Repo.GetInvitation(ctx, id)
	if err != nil {
		return domain.StageInvitation{}, notFound(err, "invitation", id)
	}
	return inv, nil
}

// pendingInvitationFor loads an invitation the caller may still answer.
func (e Engine) pendingInvitationFor(ctx context.Context, r repo.Repo, invitationID, callerID string) (domain.StageInvitation, error) {
	inv, err := r.GetInvitation(ctx, invitationID)
	if err != nil {
		return inv, notFound(err, "invitation", invitationID)
	}
	if inv.InvitedID != callerID {
		return inv, validationf("invitation %s was not sent to member %s", invitationID, callerID)
	}
	if inv.Status != domain.InvitationPending {
		return inv, validationf("invitation %s is %s; only pending invitations can be answered", invitationID, inv.Status)
	}
	return inv, nil
}

func updateInvitation(ctx context.Context, r repo.Repo, id, status, description, now string) error {
	err := r.UpdateInvitationStatus(ctx, id, status, description, now)
	if errors.Is(err, repo.ErrVersionConflict) {
		return ConflictError{Message: "invitation " + id + " was answered concurrently"}
	}
	return notFound(err, "invitation", id)
}
