package membership

import (
	"context"
	"database/sql"
	"fmt"

	"projectservice/internal/repo"
)

// NotParticipantError indicates the member has no seat in the project.
type NotParticipantError struct {
	ProjectID string
	MemberID  string
}

func (e NotParticipantError) Error() string {
	return fmt.Sprintf("member %s is not a participant of project %s", e.MemberID, e.ProjectID)
}

// Service answers team-membership questions backed by SQL. Every call takes
// the querier of the surrounding transaction.
type Service struct{}

// IsProjectParticipant reports whether the user behind memberID sits in any
// team of the project.
func (s Service) IsProjectParticipant(ctx context.Context, q repo.DBTX, projectID, memberID string) (bool, error) {
	row := q.QueryRowContext(ctx, `
SELECT 1 FROM team_members m
JOIN teams t ON t.id = m.team_id
WHERE t.project_id = ? AND m.user_id = (SELECT user_id FROM team_members WHERE id = ?)
LIMIT 1`, projectID, memberID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// EnsureProjectParticipant is IsProjectParticipant returning
// NotParticipantError on a miss.
func (s Service) EnsureProjectParticipant(ctx context.Context, q repo.DBTX, projectID, memberID string) error {
	ok, err := s.IsProjectParticipant(ctx, q, projectID, memberID)
	if err != nil {
		return err
	}
	if !ok {
		return NotParticipantError{ProjectID: projectID, MemberID: memberID}
	}
	return nil
}

func (s Service) UserIsParticipant(ctx context.Context, q repo.DBTX, projectID, userID string) (bool, error) {
	row := q.QueryRowContext(ctx, `
SELECT 1 FROM team_members m
JOIN teams t ON t.id = m.team_id
WHERE t.project_id = ? AND m.user_id = ?
LIMIT 1`, projectID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UserProjects returns the ids of projects the user has a seat in.
func (s Service) UserProjects(ctx context.Context, q repo.DBTX, userID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `
SELECT DISTINCT t.project_id FROM team_members m
JOIN teams t ON t.id = m.team_id
WHERE m.user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}
