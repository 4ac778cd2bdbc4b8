package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"projectservice/internal/domain"
	"projectservice/internal/events"
	"projectservice/internal/filter"
	"projectservice/internal/repo"
)

func (e Engine) CreateTeam(ctx context.Context, projectID, actorID string) (domain.Team, error) {
	var t domain.Team
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		if _, err := ensureLiveProject(ctx, r, projectID); err != nil {
			return err
		}
		t = domain.Team{ID: e.newID(), ProjectID: projectID, CreatedAt: e.timestamp()}
		if err := r.InsertTeam(ctx, t); err != nil {
			return err
		}
		return e.record(ctx, tx, ob, "team.created", projectID, "team", t.ID, actorID, nil)
	})
	if err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

type AddTeamMemberOptions struct {
	TeamID  string
	UserID  string
	Roles   []string
	ActorID string
}

// AddTeamMember seats a user in a team. Adding a user already in the team
// merges the new roles into the existing seat.
func (e Engine) AddTeamMember(ctx context.Context, opts AddTeamMemberOptions) (domain.TeamMember, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return domain.TeamMember{}, validationf("user id is required")
	}
	roles := make([]domain.TeamRole, 0, len(opts.Roles))
	for _, raw := range opts.Roles {
		role, err := domain.ParseTeamRole(raw)
		if err != nil {
			return domain.TeamMember{}, ValidationError{Message: err.Error()}
		}
		roles = append(roles, role)
	}
	var m domain.TeamMember
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo, ob *outbox) error {
		team, err := r.GetTeam(ctx, opts.TeamID)
		if err != nil {
			return notFound(err, "team", opts.TeamID)
		}
		if _, err := ensureLiveProject(ctx, r, team.ProjectID); err != nil {
			return err
		}
		existing, err := r.FindTeamMember(ctx, team.ID, opts.UserID)
		switch {
		case err == nil:
			m = existing
			m.Roles = domain.NormalizeRoles(append(existing.Roles, roles...))
			if err := r.UpdateTeamMemberRoles(ctx, m.ID, m.Roles); err != nil {
				return err
			}
		case errors.Is(err, repo.ErrNotFound):
			m = domain.TeamMember{
				ID:        e.newID(),
				UserID:    opts.UserID,
				TeamID:    team.ID,
				Roles:     domain.NormalizeRoles(roles),
				CreatedAt: e.timestamp(),
			}
			if err := r.InsertTeamMember(ctx, m); err != nil {
				return err
			}
		default:
			return err
		}
		return e.record(ctx, tx, ob, "team.member_added", team.ProjectID, "team_member", m.ID, opts.ActorID, events.EventPayload{
			"team_id": team.ID,
			"user_id": m.UserID,
			"roles":   m.Roles,
		})
	})
	if err != nil {
		return domain.TeamMember{}, err
	}
	return m, nil
}

func (e Engine) GetTeamMember(ctx context.Context, id string) (domain.TeamMember, error) {
	m, err := e.Repo.GetTeamMember(ctx, id)
	if err != nil {
		return domain.TeamMember{}, notFound(err, "team member", id)
	}
	return m, nil
}

// ListProjectMembers returns the project roster narrowed by the member
// filter chain.
func (e Engine) ListProjectMembers(ctx context.Context, projectID string, criteria filter.MemberCriteria) ([]domain.TeamMember, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(criteria.RolePattern) != "" {
		if _, err := domain.ParseTeamRole(criteria.RolePattern); err != nil {
			return nil, ValidationError{Message: err.Error()}
		}
	}
	roster, err := e.Repo.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return filter.MemberChain().Apply(roster, criteria), nil
}
