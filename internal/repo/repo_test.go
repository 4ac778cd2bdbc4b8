package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectservice/internal/db"
	"projectservice/internal/domain"
	"projectservice/internal/migrate"
	"projectservice/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func seedProject(t *testing.T, r repo.Repo, id string) {
	t.Helper()
	require.NoError(t, r.InsertProject(context.Background(), domain.Project{
		ID: id, Name: id, OwnerID: "owner", Status: domain.ProjectCreated, Visibility: domain.VisibilityPublic,
		CreatedAt: ts, UpdatedAt: ts,
	}))
}

func seedMembers(t *testing.T, r repo.Repo, projectID string, ids ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertTeam(ctx, domain.Team{ID: projectID + "-team", ProjectID: projectID, CreatedAt: ts}))
	for _, id := range ids {
		require.NoError(t, r.InsertTeamMember(ctx, domain.TeamMember{
			ID: id, UserID: "u-" + id, TeamID: projectID + "-team", Roles: []domain.TeamRole{domain.RoleDesigner}, CreatedAt: ts,
		}))
	}
}

func TestRosterOrderFollowsTeamsThenMembers(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedProject(t, r, "p1")
	for _, team := range []string{"t1", "t2"} {
		require.NoError(t, r.InsertTeam(ctx, domain.Team{ID: team, ProjectID: "p1", CreatedAt: ts}))
	}
	for _, m := range []struct{ id, team string }{{"m3", "t2"}, {"m1", "t1"}, {"m2", "t1"}} {
		require.NoError(t, r.InsertTeamMember(ctx, domain.TeamMember{
			ID: m.id, UserID: "u-" + m.id, TeamID: m.team, Roles: []domain.TeamRole{domain.RoleTester}, CreatedAt: ts,
		}))
	}

	roster, err := r.ListProjectMembers(ctx, "p1")
	require.NoError(t, err)
	var ids []string
	for _, m := range roster {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	byID, err := r.ListMembersByID(ctx, []string{"m3", "missing", "m1"})
	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, "m3", byID[0].ID)
	assert.Equal(t, []domain.TeamRole{domain.RoleTester}, byID[0].Roles)
}

func TestSaveStageBumpsVersionAndDetectsConflicts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedProject(t, r, "p1")
	seedMembers(t, r, "p1", "a", "b")
	s := domain.Stage{
		ID: "s1", ProjectID: "p1", Name: "Design", Version: 1, CreatedAt: ts, UpdatedAt: ts,
		Roles: []domain.StageRole{{Role: domain.RoleDesigner, Count: 2}, {Role: domain.RoleTester, Count: 1}},
	}
	require.NoError(t, r.InsertStage(ctx, s))

	s.Executors = []string{"a", "b"}
	v, err := r.SaveStage(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, err := r.GetStage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, []string{"a", "b"}, got.Executors)
	assert.Equal(t, s.Roles, got.Roles)

	_, err = r.SaveStage(ctx, s)
	assert.ErrorIs(t, err, repo.ErrVersionConflict)

	s.ID = "missing"
	_, err = r.SaveStage(ctx, s)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestInvitationStatusGuard(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedProject(t, r, "p1")
	seedMembers(t, r, "p1", "m1")
	require.NoError(t, r.InsertStage(ctx, domain.Stage{ID: "s1", ProjectID: "p1", Name: "S", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertInvitation(ctx, domain.StageInvitation{
		ID: "i1", StageID: "s1", InvitedID: "m1", Role: domain.RoleDesigner, Status: domain.InvitationPending, CreatedAt: ts, UpdatedAt: ts,
	}))

	pending, err := r.PendingInvitees(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.TeamRole{"m1": domain.RoleDesigner}, pending)

	require.NoError(t, r.UpdateInvitationStatus(ctx, "i1", domain.InvitationRejected, "busy", ts))
	assert.ErrorIs(t, r.UpdateInvitationStatus(ctx, "i1", domain.InvitationAccepted, "", ts), repo.ErrVersionConflict)
	assert.ErrorIs(t, r.UpdateInvitationStatus(ctx, "nope", domain.InvitationAccepted, "", ts), repo.ErrNotFound)

	inv, err := r.GetInvitation(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationRejected, inv.Status)
	assert.Equal(t, "busy", inv.Description)
	assert.Nil(t, inv.AuthorID)

	n, err := r.DeleteStageInvitations(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStageTaskBulkUpdates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedProject(t, r, "p1")
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, r.InsertStage(ctx, domain.Stage{ID: id, ProjectID: "p1", Name: id, CreatedAt: ts, UpdatedAt: ts}))
	}
	s1 := "s1"
	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, r.InsertTask(ctx, domain.Task{ID: id, ProjectID: "p1", StageID: &s1, Name: id, Status: domain.TaskTodo, CreatedAt: ts, UpdatedAt: ts}))
	}

	n, err := r.MoveStageTasks(ctx, "s1", "s2", ts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	moved, err := r.ListTasks(ctx, repo.TaskQuery{StageID: "s2"})
	require.NoError(t, err)
	assert.Len(t, moved, 2)

	n, err = r.CancelStageTasks(ctx, "s2", ts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	cancelled, err := r.ListTasks(ctx, repo.TaskQuery{ProjectID: "p1", Status: domain.TaskCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 2)
	assert.Nil(t, cancelled[0].StageID)
}
