package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"projectservice/internal/domain"
)

const taskColumns = `id,project_id,stage_id,name,COALESCE(description,''),status,performer_id,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var stageID, performer sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &stageID, &t.Name, &t.Description, &t.Status, &performer, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.StageID = optionalString(stageID)
	t.PerformerID = optionalString(performer)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO tasks(id,project_id,stage_id,name,description,status,performer_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullablePtr(t.StageID), t.Name, nullable(t.Description), t.Status, nullablePtr(t.PerformerID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.conn().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// TaskQuery narrows ListTasks at the SQL level.
type TaskQuery struct {
	ProjectID   string
	StageID     string
	Status      string
	PerformerID string
}

func (r Repo) ListTasks(ctx context.Context, tq TaskQuery) ([]domain.Task, error) {
	q := squirrel.Select(taskColumns).From("tasks").OrderBy("created_at", "rowid")
	if tq.ProjectID != "" {
		q = q.Where(squirrel.Eq{"project_id": tq.ProjectID})
	}
	if tq.StageID != "" {
		q = q.Where(squirrel.Eq{"stage_id": tq.StageID})
	}
	if tq.Status != "" {
		q = q.Where(squirrel.Eq{"status": tq.Status})
	}
	if tq.PerformerID != "" {
		q = q.Where(squirrel.Eq{"performer_id": tq.PerformerID})
	}
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE tasks SET status=?,updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DetachStageTasks clears the stage reference of every task in the stage.
func (r Repo) DetachStageTasks(ctx context.Context, stageID, updatedAt string) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `UPDATE tasks SET stage_id=NULL,updated_at=? WHERE stage_id=?`, updatedAt, stageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CancelStageTasks forces every task in the stage to CANCELLED and drops
// the stage reference.
func (r Repo) CancelStageTasks(ctx context.Context, stageID, updatedAt string) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `UPDATE tasks SET status=?,stage_id=NULL,updated_at=? WHERE stage_id=?`,
		domain.TaskCancelled, updatedAt, stageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MoveStageTasks repoints every task of fromID to toID.
func (r Repo) MoveStageTasks(ctx context.Context, fromID, toID, updatedAt string) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `UPDATE tasks SET stage_id=?,updated_at=? WHERE stage_id=?`, toID, updatedAt, fromID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
