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

// RoleRequirement is the unparsed form of a stage requirement.
type RoleRequirement struct {
	Role  string
	Count int
}

type CreateStageOptions struct {
	ProjectID string
	Name      string
	Roles     []RoleRequirement
	Executors []string
	ActorID   string
}

func parseRequirements(in []RoleRequirement) ([]domain.StageRole, error) {
	out := make([]domain.StageRole, 0, len(in))
	seen := map[domain.TeamRole]bool{}
	for _, req := range in {
		role, err := domain.ParseTeamRole(req.Role)
		if err != nil {
			return nil, ValidationError{Message: err.Error()}
		}
		if req.Count < 0 {
			return nil, validationf("required count for %s must be >= 0", role)
		}
		if seen[role] {
			return nil, validationf("role %s is listed more than once", role)
		}
		seen[role] = true
		out = append(out, domain.StageRole{Role: role, Count: req.Count})
	}
	return out, nil
}

func (e Engine) CreateStage(ctx context.Context, opts CreateStageOptions) (domain.Stage, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Stage{}, validationf("stage name is required")
	}
	roles, err := parseRequirements(opts.Roles)
	if err != nil {
		return domain.Stage{}, err
	}
	var s domain.Stage
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		if _, err := ensureLiveProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		executors := make([]string, 0, len(opts.Executors))
		for _, id := range opts.Executors {
			if contains(executors, id) {
				continue
			}
			if _, err := r.GetTeamMember(ctx, id); err != nil {
				return notFound(err, "team member", id)
			}
			ok, err := e.Members.IsProjectParticipant(ctx, tx, opts.ProjectID, id)
			if err != nil {
				return err
			}
			if !ok {
				return validationf("member %s is not a participant of project %s", id, opts.ProjectID)
			}
			executors = append(executors, id)
		}
		now := e.timestamp()
		s = domain.Stage{
			ID:        e.newID(),
			ProjectID: opts.ProjectID,
			Name:      name,
			Roles:     roles,
			Executors: executors,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertStage(ctx, s); err != nil {
			return err
		}
		return e.record(ctx, tx, ob, "stage.created", s.ProjectID, "stage", s.ID, opts.ActorID, events.EventPayload{
			"name":  s.Name,
			"roles": s.Roles,
		})
	})
	if err != nil {
		return domain.Stage{}, err
	}
	return s, nil
}

func (e Engine) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	s, err := e.Repo.GetStage(ctx, id)
	if err != nil {
		return domain.Stage{}, notFound(err, "stage", id)
	}
	return s, nil
}

// ListProjectStages returns the project's stages narrowed by the stage
// filter chain.
func (e Engine) ListProjectStages(ctx context.Context, projectID string, criteria filter.StageCriteria) ([]domain.Stage, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(criteria.TeamRolePattern) != "" {
		if _, err := domain.ParseTeamRole(criteria.TeamRolePattern); err != nil {
			return nil, ValidationError{Message: err.Error()}
		}
	}
	if strings.TrimSpace(criteria.TaskStatusPattern) != "" {
		if _, err := domain.ParseTaskStatus(criteria.TaskStatusPattern); err != nil {
			return nil, ValidationError{Message: err.Error()}
		}
	}
	stages, err := e.Repo.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskQuery{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	statuses := map[string][]string{}
	for _, t := range tasks {
		if t.StageID != nil {
			statuses[*t.StageID] = append(statuses[*t.StageID], t.Status)
		}
	}
	views := make([]filter.StageView, 0, len(stages))
	for _, s := range stages {
		views = append(views, filter.StageView{Stage: s, TaskStatuses: statuses[s.ID]})
	}
	views = filter.StageChain().Apply(views, criteria)
	out := make([]domain.Stage, 0, len(views))
	for _, v := range views {
		out = append(out, v.Stage)
	}
	return out, nil
}

// StageUpdate changes a stage and re-runs role fulfillment. Nil fields are
// left as they are; a non-zero Version must match the stored version.
type StageUpdate struct {
	ID      string
	Name    *string
	Roles   []RoleRequirement
	Version int
	ActorID string
}

func (e Engine) UpdateStage(ctx context.Context, upd StageUpdate) (FulfillmentResult, error) {
	var roles []domain.StageRole
	if upd.Roles != nil {
		var err error
		if roles, err = parseRequirements(upd.Roles); err != nil {
			return FulfillmentResult{}, err
		}
	}
	var res FulfillmentResult
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		stage, err := r.GetStage(ctx, upd.ID)
		if err != nil {
			return notFound(err, "stage", upd.ID)
		}
		if upd.Version != 0 && upd.Version != stage.Version {
			return ConflictError{Message: "stage " + stage.ID + " was modified concurrently; reload and retry"}
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return validationf("stage name cannot be blank")
			}
			stage.Name = name
		}
		if upd.Roles != nil {
			stage.Roles = roles
		}
		if err := e.record(ctx, tx, ob, "stage.updated", stage.ProjectID, "stage", stage.ID, upd.ActorID, events.EventPayload{
			"name":  stage.Name,
			"roles": stage.Roles,
		}); err != nil {
			return err
		}
		res, err = e.fulfill(ctx, tx, r, ob, stage, upd.ActorID, true)
		return err
	})
	if err != nil {
		return FulfillmentResult{}, err
	}
	return res, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
