package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"projectservice/internal/domain"
)

const invitationColumns = `id,stage_id,author_id,invited_id,COALESCE(role,''),status,COALESCE(description,''),created_at,updated_at`

func scanInvitation(row rowScanner) (domain.StageInvitation, error) {
	var inv domain.StageInvitation
	var author sql.NullString
	var role string
	err := row.Scan(&inv.ID, &inv.StageID, &author, &inv.InvitedID, &role, &inv.Status, &inv.Description, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	inv.AuthorID = optionalString(author)
	inv.Role = domain.TeamRole(role)
	return inv, nil
}

func (r Repo) InsertInvitation(ctx context.Context, inv domain.StageInvitation) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO stage_invitations(id,stage_id,author_id,invited_id,role,status,description,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.StageID, nullablePtr(inv.AuthorID), inv.InvitedID, nullable(string(inv.Role)), inv.Status, nullable(inv.Description), inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r Repo) GetInvitation(ctx context.Context, id string) (domain.StageInvitation, error) {
	return scanInvitation(r.conn().QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM stage_invitations WHERE id=?`, id))
}

// UpdateInvitationStatus moves an invitation out of PENDING. The status
// guard in the WHERE clause makes a lost race surface as ErrVersionConflict.
func (r Repo) UpdateInvitationStatus(ctx context.Context, id, status, description, updatedAt string) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE stage_invitations SET status=?,description=?,updated_at=? WHERE id=? AND status=?`,
		status, nullable(description), updatedAt, id, domain.InvitationPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetInvitation(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

// InvitationQuery narrows ListInvitations at the SQL level.
type InvitationQuery struct {
	InvitedID string
	StageID   string
	Status    string
}

func (r Repo) ListInvitations(ctx context.Context, iq InvitationQuery) ([]domain.StageInvitation, error) {
	q := squirrel.Select(invitationColumns).From("stage_invitations").OrderBy("created_at", "rowid")
	if iq.InvitedID != "" {
		q = q.Where(squirrel.Eq{"invited_id": iq.InvitedID})
	}
	if iq.StageID != "" {
		q = q.Where(squirrel.Eq{"stage_id": iq.StageID})
	}
	if iq.Status != "" {
		q = q.Where(squirrel.Eq{"status": iq.Status})
	}
	rows, err := r.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StageInvitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// PendingInvitees maps members holding a PENDING invitation to the stage
// to the role they were invited for ("" when none was recorded).
func (r Repo) PendingInvitees(ctx context.Context, stageID string) (map[string]domain.TeamRole, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT invited_id,COALESCE(role,'') FROM stage_invitations WHERE stage_id=? AND status=?`, stageID, domain.InvitationPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.TeamRole{}
	for rows.Next() {
		var id, role string
		if err := rows.Scan(&id, &role); err != nil {
			return nil, err
		}
		res[id] = domain.TeamRole(role)
	}
	return res, rows.Err()
}

func (r Repo) DeleteStageInvitations(ctx context.Context, stageID string) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `DELETE FROM stage_invitations WHERE stage_id=?`, stageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
