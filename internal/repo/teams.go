package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"projectservice/internal/domain"
)

func (r Repo) InsertTeam(ctx context.Context, t domain.Team) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO teams(id,project_id,created_at) VALUES (?,?,?)`, t.ID, t.ProjectID, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.conn().QueryRowContext(ctx, `SELECT id,project_id,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.ProjectID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTeams(ctx context.Context, projectID string) ([]domain.Team, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id,project_id,created_at FROM teams WHERE project_id=? ORDER BY rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Team{}
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func scanMember(row rowScanner) (domain.TeamMember, error) {
	var m domain.TeamMember
	var rolesJSON string
	if err := row.Scan(&m.ID, &m.UserID, &m.TeamID, &rolesJSON, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return m, ErrNotFound
		}
		return m, err
	}
	roles, err := domain.UnmarshalRoles(rolesJSON)
	if err != nil {
		return m, err
	}
	m.Roles = roles
	return m, nil
}

func (r Repo) InsertTeamMember(ctx context.Context, m domain.TeamMember) error {
	rolesJSON, err := domain.MarshalRoles(m.Roles)
	if err != nil {
		return err
	}
	_, err = r.conn().ExecContext(ctx, `INSERT INTO team_members(id,user_id,team_id,roles_json,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.UserID, m.TeamID, rolesJSON, m.CreatedAt)
	return err
}

func (r Repo) UpdateTeamMemberRoles(ctx context.Context, id string, roles []domain.TeamRole) error {
	rolesJSON, err := domain.MarshalRoles(roles)
	if err != nil {
		return err
	}
	res, err := r.conn().ExecContext(ctx, `UPDATE team_members SET roles_json=? WHERE id=?`, rolesJSON, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTeamMember(ctx context.Context, id string) (domain.TeamMember, error) {
	return scanMember(r.conn().QueryRowContext(ctx, `SELECT id,user_id,team_id,roles_json,created_at FROM team_members WHERE id=?`, id))
}

func (r Repo) FindTeamMember(ctx context.Context, teamID, userID string) (domain.TeamMember, error) {
	return scanMember(r.conn().QueryRowContext(ctx, `SELECT id,user_id,team_id,roles_json,created_at FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID))
}

// ListProjectMembers returns the project roster: members of every team of
// the project, teams in creation order, members in insertion order.
func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.TeamMember, error) {
	q := squirrel.Select("m.id", "m.user_id", "m.team_id", "m.roles_json", "m.created_at").
		From("team_members m").
		Join("teams t ON t.id = m.team_id").
		Where(squirrel.Eq{"t.project_id": projectID}).
		OrderBy("t.rowid", "m.rowid")
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TeamMember{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListMembersByID loads members in the order of ids; missing ids are skipped.
func (r Repo) ListMembersByID(ctx context.Context, ids []string) ([]domain.TeamMember, error) {
	if len(ids) == 0 {
		return []domain.TeamMember{}, nil
	}
	q := squirrel.Select("id", "user_id", "team_id", "roles_json", "created_at").
		From("team_members").
		Where(squirrel.Eq{"id": ids})
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]domain.TeamMember, len(ids))
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.TeamMember, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			res = append(res, m)
		}
	}
	return res, nil
}
