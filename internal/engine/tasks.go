package engine

import (
	"context"
	"database/sql"
	"strings"

	"projectservice/internal/domain"
	"projectservice/internal/events"
	"projectservice/internal/filter"
	"projectservice/internal/repo"
)

type CreateTaskOptions struct {
	ProjectID   string
	StageID     string
	Name        string
	Description string
	PerformerID string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Task{}, validationf("task name is required")
	}
	var t domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		if _, err := ensureLiveProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		if opts.StageID != "" {
			stage, err := r.GetStage(ctx, opts.StageID)
			if err != nil {
				return notFound(err, "stage", opts.StageID)
			}
			if stage.ProjectID != opts.ProjectID {
				return validationf("stage %s belongs to another project", opts.StageID)
			}
		}
		now := e.timestamp()
		t = domain.Task{
			ID:          e.newID(),
			ProjectID:   opts.ProjectID,
			StageID:     optionalString(opts.StageID),
			Name:        name,
			Description: opts.Description,
			Status:      domain.TaskTodo,
			PerformerID: optionalString(opts.PerformerID),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.InsertTask(ctx, t); err != nil {
			return err
		}
		return e.record(ctx, tx, ob, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
			"stage_id": opts.StageID,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, notFound(err, "task", id)
	}
	return t, nil
}

// ListTasks returns a project's tasks narrowed by the task filter chain.
func (e Engine) ListTasks(ctx context.Context, projectID string, criteria filter.TaskCriteria) ([]domain.Task, error) {
	if strings.TrimSpace(criteria.Status) != "" {
		if _, err := domain.ParseTaskStatus(criteria.Status); err != nil {
			return nil, ValidationError{Message: err.Error()}
		}
	}
	items, err := e.Repo.ListTasks(ctx, repo.TaskQuery{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return filter.TaskChain().Apply(items, criteria), nil
}

func ensureTaskTransition(oldStatus, newStatus string, force bool) error {
	if force || oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case domain.TaskTodo:
		if newStatus == domain.TaskInProgress || newStatus == domain.TaskCancelled {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskTesting || newStatus == domain.TaskDone || newStatus == domain.TaskTodo || newStatus == domain.TaskCancelled {
			return nil
		}
	case domain.TaskTesting:
		if newStatus == domain.TaskDone || newStatus == domain.TaskInProgress || newStatus == domain.TaskCancelled {
			return nil
		}
	case domain.TaskCancelled:
		if newStatus == domain.TaskTodo {
			return nil
		}
	}
	return validationf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) UpdateTaskStatus(ctx context.Context, id, status, actorID string, force bool) (domain.Task, error) {
	next, err := domain.ParseTaskStatus(status)
	if err != nil {
		return domain.Task{}, ValidationError{Message: err.Error()}
	}
	var t domain.Task
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		var err error
		t, err = r.GetTask(ctx, id)
		if err != nil {
			return notFound(err, "task", id)
		}
		if err := ensureTaskTransition(t.Status, next, force); err != nil {
			return err
		}
		prev := t.Status
		t.Status = next
		t.UpdatedAt = e.timestamp()
		if err := r.UpdateTaskStatus(ctx, t.ID, t.Status, t.UpdatedAt); err != nil {
			return notFound(err, "task", t.ID)
		}
		return e.record(ctx, tx, ob, "task.status", t.ProjectID, "task", t.ID, actorID, events.EventPayload{
			"from": prev,
			"to":   next,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, projectID, limit)
}
