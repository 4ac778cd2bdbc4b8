package engine

import (
	"context"
	"database/sql"
	"strings"

	log "github.com/sirupsen/logrus"

	"projectservice/internal/domain"
	"projectservice/internal/events"
	"projectservice/internal/repo"
)

// DeleteAction says what happens to a stage's tasks when it is deleted.
type DeleteAction string

const (
	// ActionCascade detaches the tasks from the stage.
	ActionCascade DeleteAction = "CASCADE"
	// ActionClose cancels the tasks.
	ActionClose DeleteAction = "CLOSE"
	// ActionTransfer moves the tasks to another stage of the project.
	ActionTransfer DeleteAction = "TRANSFER"
)

// ParseDeleteAction matches the action tag exactly; other casings are
// unknown actions.
func ParseDeleteAction(s string) (DeleteAction, error) {
	switch a := DeleteAction(s); a {
	case ActionCascade, ActionClose, ActionTransfer:
		return a, nil
	}
	return "", validationf("unknown stage delete action %q; expected CASCADE, CLOSE or TRANSFER", s)
}

type DeleteStageOptions struct {
	StageID    string
	Action     string
	TransferTo string
	ActorID    string
}

type DeleteStageResult struct {
	StageID            string       `json:"stage_id"`
	Action             DeleteAction `json:"action"`
	TransferredTo      string       `json:"transferred_to,omitempty"`
	TasksAffected      int64        `json:"tasks_affected"`
	InvitationsRemoved int64        `json:"invitations_removed"`
}

// DeleteStage removes a stage and applies the action to its tasks. Every
// input is validated before the first write; the task update, invitation
// cleanup and stage removal commit together.
func (e Engine) DeleteStage(ctx context.Context, opts DeleteStageOptions) (DeleteStageResult, error) {
	action, err := ParseDeleteAction(opts.Action)
	if err != nil {
		return DeleteStageResult{}, err
	}
	res := DeleteStageResult{StageID: opts.StageID, Action: action}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		stage, err := r.GetStage(ctx, opts.StageID)
		if err != nil {
			return notFound(err, "stage", opts.StageID)
		}
		var target domain.Stage
		if action == ActionTransfer {
			if target, err = transferTarget(ctx, r, stage, opts.TransferTo); err != nil {
				return err
			}
		}

		now := e.timestamp()
		switch action {
		case ActionCascade:
			res.TasksAffected, err = r.DetachStageTasks(ctx, stage.ID, now)
		case ActionClose:
			res.TasksAffected, err = r.CancelStageTasks(ctx, stage.ID, now)
		case ActionTransfer:
			res.TasksAffected, err = r.MoveStageTasks(ctx, stage.ID, target.ID, now)
			if err == nil {
				target.UpdatedAt = now
				_, err = saveStage(ctx, r, target)
			}
			res.TransferredTo = target.ID
		}
		if err != nil {
			return err
		}
		if res.InvitationsRemoved, err = r.DeleteStageInvitations(ctx, stage.ID); err != nil {
			return err
		}
		if err := r.DeleteStage(ctx, stage.ID); err != nil {
			return notFound(err, "stage", stage.ID)
		}
		return e.record(ctx, tx, ob, "stage.deleted", stage.ProjectID, "stage", stage.ID, opts.ActorID, events.EventPayload{
			"action":         string(action),
			"tasks_affected": res.TasksAffected,
			"transferred_to": res.TransferredTo,
		})
	})
	if err != nil {
		return DeleteStageResult{}, err
	}
	log.WithFields(log.Fields{
		"stage_id": res.StageID,
		"action":   res.Action,
		"tasks":    res.TasksAffected,
	}).Info("stage deleted")
	return res, nil
}

func transferTarget(ctx context.Context, r repo.Repo, stage domain.Stage, targetID string) (domain.Stage, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return domain.Stage{}, validationf("TRANSFER requires a target stage")
	}
	if targetID == stage.ID {
		return domain.Stage{}, validationf("cannot transfer tasks of stage %s to itself", stage.ID)
	}
	target, err := r.GetStage(ctx, targetID)
	if err != nil {
		return domain.Stage{}, notFound(err, "stage", targetID)
	}
	if target.ProjectID != stage.ProjectID {
		return domain.Stage{}, validationf("target stage %s belongs to another project", targetID)
	}
	return target, nil
}
