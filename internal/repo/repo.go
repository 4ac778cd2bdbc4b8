package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"projectservice/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
	q  DBTX
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Tx returns a Repo whose statements run inside tx.
func (r Repo) Tx(tx *sql.Tx) Repo {
	return Repo{DB: r.DB, q: tx}
}

func (r Repo) conn() DBTX {
	if r.q != nil {
		return r.q
	}
	return r.DB
}

func (r Repo) selectRows(ctx context.Context, q squirrel.SelectBuilder) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.conn().QueryContext(ctx, query, args...)
}

const projectColumns = `id,name,COALESCE(description,''),owner_id,parent_id,status,visibility,storage_size,max_storage_size,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var parent sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &parent, &p.Status, &p.Visibility,
		&p.StorageSize, &p.MaxStorageSize, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ParentID = optionalString(parent)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO projects(id,name,description,owner_id,parent_id,status,visibility,storage_size,max_storage_size,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.OwnerID, nullablePtr(p.ParentID), p.Status, p.Visibility,
		p.StorageSize, p.MaxStorageSize, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.conn().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ProjectQuery narrows ListProjects at the SQL level.
type ProjectQuery struct {
	OwnerID        string
	ParentID       string
	ExcludeDeleted bool
	Limit          int
}

func (r Repo) ListProjects(ctx context.Context, pq ProjectQuery) ([]domain.Project, error) {
	q := squirrel.Select(projectColumns).From("projects").OrderBy("created_at", "rowid")
	if pq.OwnerID != "" {
		q = q.Where(squirrel.Eq{"owner_id": pq.OwnerID})
	}
	if pq.ParentID != "" {
		q = q.Where(squirrel.Eq{"parent_id": pq.ParentID})
	}
	if pq.ExcludeDeleted {
		q = q.Where(squirrel.NotEq{"status": domain.ProjectDeleted})
	}
	if pq.Limit > 0 {
		q = q.Limit(uint64(pq.Limit))
	}
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject overwrites the mutable project fields.
func (r Repo) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE projects SET name=?,description=?,status=?,visibility=?,storage_size=?,max_storage_size=?,updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.Status, p.Visibility, p.StorageSize, p.MaxStorageSize, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	q := squirrel.Select("id", "ts", "type", "COALESCE(project_id,'')", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json").
		From("events").
		OrderBy("id DESC")
	if projectID != "" {
		q = q.Where(squirrel.Eq{"project_id": projectID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.ProjectID, &ev.EntityKind, &ev.EntityID, &ev.ActorID, &ev.PayloadJSON); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
