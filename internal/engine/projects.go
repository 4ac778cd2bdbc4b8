package engine

import (
	"context"
	"database/sql"
	"strings"

	log "github.com/sirupsen/logrus"

	"projectservice/internal/domain"
	"projectservice/internal/events"
	"projectservice/internal/filter"
	"projectservice/internal/repo"
)

type CreateProjectOptions struct {
	Name        string
	Description string
	OwnerID     string
	ParentID    string
	Visibility  string
}

func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, validationf("project name is required")
	}
	if strings.TrimSpace(opts.OwnerID) == "" {
		return domain.Project{}, validationf("project owner is required")
	}
	visibility := domain.NormalizeStatus(opts.Visibility)
	if visibility == "" {
		visibility = e.Config.Projects.DefaultVisibility
	}
	if !domain.IsValidVisibility(visibility) {
		return domain.Project{}, validationf("invalid visibility %q", opts.Visibility)
	}
	now := e.timestamp()
	p := domain.Project{
		ID:             e.newID(),
		Name:           name,
		Description:    opts.Description,
		OwnerID:        opts.OwnerID,
		ParentID:       optionalString(opts.ParentID),
		Status:         domain.ProjectCreated,
		Visibility:     visibility,
		MaxStorageSize: e.Config.Projects.DefaultMaxStorageSize,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		if opts.ParentID != "" {
			parent, err := r.GetProject(ctx, opts.ParentID)
			if err != nil {
				return notFound(err, "project", opts.ParentID)
			}
			if parent.Status == domain.ProjectDeleted {
				return validationf("parent project %s is deleted", parent.ID)
			}
		}
		owned, err := r.ListProjects(ctx, repo.ProjectQuery{OwnerID: opts.OwnerID, ExcludeDeleted: true})
		if err != nil {
			return err
		}
		for _, o := range owned {
			if strings.EqualFold(o.Name, name) {
				return ConflictError{Message: "owner " + opts.OwnerID + " already has a project named " + name}
			}
		}
		if err := r.InsertProject(ctx, p); err != nil {
			return err
		}
		return e.record(ctx, tx, ob, "project.created", p.ID, "project", p.ID, opts.OwnerID, events.EventPayload{
			"name":       p.Name,
			"visibility": p.Visibility,
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	log.WithFields(log.Fields{"project_id": p.ID, "owner_id": p.OwnerID}).Debug("project created")
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, notFound(err, "project", id)
	}
	return p, nil
}

// ListProjects returns live projects visible to viewerUserID, narrowed by
// the project filter chain. PRIVATE projects are visible to their owner and
// participants only.
func (e Engine) ListProjects(ctx context.Context, viewerUserID string, criteria filter.ProjectCriteria) ([]domain.Project, error) {
	items, err := e.Repo.ListProjects(ctx, repo.ProjectQuery{ExcludeDeleted: true})
	if err != nil {
		return nil, err
	}
	seats := map[string]bool{}
	if viewerUserID != "" {
		if seats, err = e.Members.UserProjects(ctx, e.DB, viewerUserID); err != nil {
			return nil, err
		}
	}
	visible := make([]domain.Project, 0, len(items))
	for _, p := range items {
		if p.Visibility == domain.VisibilityPrivate && p.OwnerID != viewerUserID && !seats[p.ID] {
			continue
		}
		visible = append(visible, p)
	}
	return filter.ProjectChain().Apply(visible, criteria), nil
}

type UpdateProjectOptions struct {
	ID          string
	Name        *string
	Description *string
	Status      *string
	Visibility  *string
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, opts UpdateProjectOptions) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		var err error
		p, err = r.GetProject(ctx, opts.ID)
		if err != nil {
			return notFound(err, "project", opts.ID)
		}
		if p.Status == domain.ProjectDeleted {
			return validationf("project %s is deleted", p.ID)
		}
		if opts.Name != nil {
			name := strings.TrimSpace(*opts.Name)
			if name == "" {
				return validationf("project name cannot be blank")
			}
			p.Name = name
		}
		if opts.Description != nil {
			p.Description = *opts.Description
		}
		if opts.Status != nil {
			status := domain.NormalizeStatus(*opts.Status)
			if !domain.IsValidProjectStatus(status) {
				return validationf("invalid project status %q", *opts.Status)
			}
			if status == domain.ProjectDeleted {
				return validationf("use project delete to remove a project")
			}
			p.Status = status
		}
		if opts.Visibility != nil {
			v := domain.NormalizeStatus(*opts.Visibility)
			if !domain.IsValidVisibility(v) {
				return validationf("invalid visibility %q", *opts.Visibility)
			}
			p.Visibility = v
		}
		p.UpdatedAt = e.timestamp()
		if err := r.UpdateProject(ctx, p); err != nil {
			return notFound(err, "project", p.ID)
		}
		return e.record(ctx, tx, ob, "project.updated", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
			"status":     p.Status,
			"visibility": p.Visibility,
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject soft-deletes a project by moving it to DELETED.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		var err error
		p, err = r.GetProject(ctx, id)
		if err != nil {
			return notFound(err, "project", id)
		}
		if p.Status == domain.ProjectDeleted {
			return nil
		}
		p.Status = domain.ProjectDeleted
		p.UpdatedAt = e.timestamp()
		if err := r.UpdateProject(ctx, p); err != nil {
			return err
		}
		return e.record(ctx, tx, ob, "project.deleted", p.ID, "project", p.ID, actorID, nil)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ensureLiveProject loads a project that can still take new work.
func ensureLiveProject(ctx context.Context, r repo.Repo, id string) (domain.Project, error) {
	p, err := r.GetProject(ctx, id)
	if err != nil {
		return p, notFound(err, "project", id)
	}
	if p.Status == domain.ProjectDeleted {
		return p, validationf("project %s is deleted", id)
	}
	return p, nil
}
