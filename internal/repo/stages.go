package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"projectservice/internal/domain"
)

// InsertStage writes the stage row with its requirements and executors.
func (r Repo) InsertStage(ctx context.Context, s domain.Stage) error {
	if s.Version == 0 {
		s.Version = 1
	}
	if _, err := r.conn().ExecContext(ctx, `INSERT INTO stages(id,project_id,name,version,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Version, s.CreatedAt, s.UpdatedAt); err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	if err := r.replaceStageRoles(ctx, s.ID, s.Roles); err != nil {
		return err
	}
	return r.replaceStageExecutors(ctx, s.ID, s.Executors)
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var s domain.Stage
	err := r.conn().QueryRowContext(ctx, `SELECT id,project_id,name,version,created_at,updated_at FROM stages WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.Roles, err = r.stageRoles(ctx, s.ID); err != nil {
		return s, err
	}
	if s.Executors, err = r.stageExecutors(ctx, s.ID); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) ListStages(ctx context.Context, projectID string) ([]domain.Stage, error) {
	q := squirrel.Select("id").From("stages").Where(squirrel.Eq{"project_id": projectID}).OrderBy("created_at", "rowid")
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Stage, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetStage(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// SaveStage persists name, requirements and executors guarded by the
// version the caller read. It returns the new version.
func (r Repo) SaveStage(ctx context.Context, s domain.Stage) (int, error) {
	res, err := r.conn().ExecContext(ctx, `UPDATE stages SET name=?,version=version+1,updated_at=? WHERE id=? AND version=?`,
		s.Name, s.UpdatedAt, s.ID, s.Version)
	if err != nil {
		return 0, fmt.Errorf("update stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := r.conn().QueryRowContext(ctx, `SELECT 1 FROM stages WHERE id=?`, s.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrVersionConflict
	}
	if err := r.replaceStageRoles(ctx, s.ID, s.Roles); err != nil {
		return 0, err
	}
	if err := r.replaceStageExecutors(ctx, s.ID, s.Executors); err != nil {
		return 0, err
	}
	return s.Version + 1, nil
}

func (r Repo) DeleteStage(ctx context.Context, id string) error {
	res, err := r.conn().ExecContext(ctx, `DELETE FROM stages WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) stageRoles(ctx context.Context, stageID string) ([]domain.StageRole, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT role,count FROM stage_roles WHERE stage_id=? ORDER BY position`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StageRole{}
	for rows.Next() {
		var sr domain.StageRole
		var role string
		if err := rows.Scan(&role, &sr.Count); err != nil {
			return nil, err
		}
		sr.Role = domain.TeamRole(role)
		res = append(res, sr)
	}
	return res, rows.Err()
}

func (r Repo) stageExecutors(ctx context.Context, stageID string) ([]string, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT member_id FROM stage_executors WHERE stage_id=? ORDER BY position`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r Repo) replaceStageRoles(ctx context.Context, stageID string, roles []domain.StageRole) error {
	if _, err := r.conn().ExecContext(ctx, `DELETE FROM stage_roles WHERE stage_id=?`, stageID); err != nil {
		return fmt.Errorf("clear stage roles: %w", err)
	}
	for i, sr := range roles {
		if _, err := r.conn().ExecContext(ctx, `INSERT INTO stage_roles(stage_id,position,role,count) VALUES (?,?,?,?)`,
			stageID, i, string(sr.Role), sr.Count); err != nil {
			return fmt.Errorf("insert stage role: %w", err)
		}
	}
	return nil
}

func (r Repo) replaceStageExecutors(ctx context.Context, stageID string, executors []string) error {
	if _, err := r.conn().ExecContext(ctx, `DELETE FROM stage_executors WHERE stage_id=?`, stageID); err != nil {
		return fmt.Errorf("clear stage executors: %w", err)
	}
	for i, memberID := range executors {
		if _, err := r.conn().ExecContext(ctx, `INSERT INTO stage_executors(stage_id,member_id,position) VALUES (?,?,?)`,
			stageID, memberID, i); err != nil {
			return fmt.Errorf("insert stage executor: %w", err)
		}
	}
	return nil
}
