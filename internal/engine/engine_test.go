package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectservice/internal/config"
	"projectservice/internal/db"
	"projectservice/internal/domain"
	"projectservice/internal/engine"
	"projectservice/internal/filter"
	"projectservice/internal/migrate"
	"projectservice/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	Team    domain.Team
	// Members A..D in roster order: A and B are designers, C a tester and
	// D a developer.
	A, B, C, D domain.TeamMember
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	env := testEnv{Engine: eng, Ctx: ctx}
	env.Project, err = eng.CreateProject(ctx, engine.CreateProjectOptions{Name: "Apollo", OwnerID: "owner"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	env.Team, err = eng.CreateTeam(ctx, env.Project.ID, "owner")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	env.A = env.addMember(t, env.Team.ID, "user-a", "DESIGNER")
	env.B = env.addMember(t, env.Team.ID, "user-b", "DESIGNER")
	env.C = env.addMember(t, env.Team.ID, "user-c", "TESTER")
	env.D = env.addMember(t, env.Team.ID, "user-d", "DEVELOPER")
	return env
}

func (env testEnv) addMember(t *testing.T, teamID, userID string, roles ...string) domain.TeamMember {
	t.Helper()
	m, err := env.Engine.AddTeamMember(env.Ctx, engine.AddTeamMemberOptions{TeamID: teamID, UserID: userID, Roles: roles, ActorID: "owner"})
	if err != nil {
		t.Fatalf("add member %s: %v", userID, err)
	}
	return m
}

func (env testEnv) newStage(t *testing.T, name string, roles []engine.RoleRequirement, executors ...string) domain.Stage {
	t.Helper()
	s, err := env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{
		ProjectID: env.Project.ID,
		Name:      name,
		Roles:     roles,
		Executors: executors,
		ActorID:   "owner",
	})
	if err != nil {
		t.Fatalf("create stage: %v", err)
	}
	return s
}

func (env testEnv) newTask(t *testing.T, stageID, name string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{ProjectID: env.Project.ID, StageID: stageID, Name: name, ActorID: "owner"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) stageInvitations(t *testing.T, stageID string) []domain.StageInvitation {
	t.Helper()
	items, err := env.Engine.Repo.ListInvitations(env.Ctx, repo.InvitationQuery{StageID: stageID})
	require.NoError(t, err)
	return items
}

func workedExampleRoles() []engine.RoleRequirement {
	return []engine.RoleRequirement{{Role: "DESIGNER", Count: 2}, {Role: "TESTER", Count: 1}}
}

func TestFulfillWorkedExample(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Design", workedExampleRoles(), env.A.ID)

	res, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)

	require.Len(t, res.Invitations, 2)
	assert.Equal(t, env.B.ID, res.Invitations[0].InvitedID)
	assert.Equal(t, domain.RoleDesigner, res.Invitations[0].Role)
	assert.Equal(t, env.C.ID, res.Invitations[1].InvitedID)
	assert.Equal(t, domain.RoleTester, res.Invitations[1].Role)
	for _, inv := range res.Invitations {
		assert.Equal(t, domain.InvitationPending, inv.Status)
		assert.Nil(t, inv.AuthorID)
	}
	assert.Equal(t, []string{env.A.ID, env.B.ID, env.C.ID}, res.Stage.Executors)
	assert.True(t, res.Fulfilled())

	stored, err := env.Engine.GetStage(env.Ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{env.A.ID, env.B.ID, env.C.ID}, stored.Executors)
	assert.Equal(t, stage.Version+1, stored.Version)
	assert.Len(t, env.stageInvitations(t, stage.ID), 2)
}

func TestFulfillIsIdempotentOnceFulfilled(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Design", workedExampleRoles(), env.A.ID)
	_, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	before, err := env.Engine.GetStage(env.Ctx, stage.ID)
	require.NoError(t, err)

	res, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	assert.Empty(t, res.Invitations)

	after, err := env.Engine.GetStage(env.Ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, env.stageInvitations(t, stage.ID), 2)
}

func TestFulfillReportsUncoveredDeficit(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "QA", []engine.RoleRequirement{{Role: "TESTER", Count: 3}, {Role: "ANALYST", Count: 1}})

	res, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	require.Len(t, res.Roles, 2)
	assert.Equal(t, engine.RoleOutcome{Role: domain.RoleTester, Required: 3, Current: 0, Invited: 1, Remaining: 2}, res.Roles[0])
	assert.Equal(t, engine.RoleOutcome{Role: domain.RoleAnalyst, Required: 1, Current: 0, Invited: 0, Remaining: 1}, res.Roles[1])
	assert.False(t, res.Fulfilled())
	assert.Equal(t, []string{env.C.ID}, res.Stage.Executors)
}

func TestFulfillZeroCountAndSurplusInviteNobody(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", []engine.RoleRequirement{{Role: "DEVELOPER", Count: 0}, {Role: "DESIGNER", Count: 1}}, env.A.ID, env.B.ID)
	res, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	assert.Empty(t, res.Invitations)
	assert.True(t, res.Fulfilled())
}

func TestFulfillWithoutReservationCountsPendingInvitees(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Stages.ReserveOnInvite = false })
	extra := env.addMember(t, env.Team.ID, "user-e", "DESIGNER")
	stage := env.newStage(t, "Design", workedExampleRoles(), env.A.ID)

	res, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	require.Len(t, res.Invitations, 2)
	assert.Equal(t, []string{env.A.ID}, res.Stage.Executors)

	res, err = env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	assert.Empty(t, res.Invitations, "pending invitees cover the deficit; %s must not be invited", extra.ID)

	_, err = env.Engine.AcceptInvitation(env.Ctx, firstFor(t, env, stage.ID, env.B.ID).ID, env.B.ID)
	require.NoError(t, err)
	s, err := env.Engine.GetStage(env.Ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{env.A.ID, env.B.ID}, s.Executors)
}

func TestUpdateStageRunsFulfillment(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Design", nil, env.A.ID)
	name := "Design review"
	res, err := env.Engine.UpdateStage(env.Ctx, engine.StageUpdate{
		ID:      stage.ID,
		Name:    &name,
		Roles:   workedExampleRoles(),
		Version: stage.Version,
		ActorID: "owner",
	})
	require.NoError(t, err)
	assert.Equal(t, name, res.Stage.Name)
	assert.Len(t, res.Invitations, 2)
	assert.Equal(t, stage.Version+1, res.Stage.Version)

	_, err = env.Engine.UpdateStage(env.Ctx, engine.StageUpdate{ID: stage.ID, Name: &name, Version: stage.Version})
	var ce engine.ConflictError
	assert.True(t, errors.As(err, &ce), "stale version should conflict, got %v", err)
}

func TestCreateStageValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{ProjectID: env.Project.ID, Name: " "})
	assertValidation(t, err)
	_, err = env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{ProjectID: env.Project.ID, Name: "x", Roles: []engine.RoleRequirement{{Role: "WIZARD", Count: 1}}})
	assertValidation(t, err)
	_, err = env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{ProjectID: env.Project.ID, Name: "x", Roles: []engine.RoleRequirement{{Role: "TESTER", Count: -1}}})
	assertValidation(t, err)
	_, err = env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{ProjectID: "missing", Name: "x"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

type snapshot struct {
	Stage       domain.Stage
	Tasks       []domain.Task
	Invitations []domain.StageInvitation
}

func takeSnapshot(t *testing.T, env testEnv, stageID string) snapshot {
	t.Helper()
	s, err := env.Engine.GetStage(env.Ctx, stageID)
	require.NoError(t, err)
	tasks, err := env.Engine.ListTasks(env.Ctx, env.Project.ID, filter.TaskCriteria{})
	require.NoError(t, err)
	return snapshot{Stage: s, Tasks: tasks, Invitations: env.stageInvitations(t, stageID)}
}

func TestDeleteStageCascade(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", workedExampleRoles(), env.A.ID)
	t1 := env.newTask(t, stage.ID, "one")
	t2 := env.newTask(t, stage.ID, "two")
	_, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)

	res, err := env.Engine.DeleteStage(env.Ctx, engine.DeleteStageOptions{StageID: stage.ID, Action: "CASCADE", ActorID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, engine.ActionCascade, res.Action)
	assert.EqualValues(t, 2, res.TasksAffected)
	assert.EqualValues(t, 2, res.InvitationsRemoved)

	_, err = env.Engine.GetStage(env.Ctx, stage.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	for _, id := range []string{t1.ID, t2.ID} {
		task, err := env.Engine.GetTask(env.Ctx, id)
		require.NoError(t, err)
		assert.Nil(t, task.StageID)
		assert.Equal(t, domain.TaskTodo, task.Status)
	}
}

func TestDeleteStageClose(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", nil)
	t1 := env.newTask(t, stage.ID, "one")
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, t1.ID, "IN_PROGRESS", "owner", false)
	require.NoError(t, err)
	t2 := env.newTask(t, stage.ID, "two")

	_, err = env.Engine.DeleteStage(env.Ctx, engine.DeleteStageOptions{StageID: stage.ID, Action: "CLOSE"})
	require.NoError(t, err)

	_, err = env.Engine.GetStage(env.Ctx, stage.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	for _, id := range []string{t1.ID, t2.ID} {
		task, err := env.Engine.GetTask(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskCancelled, task.Status)
	}
}

func TestDeleteStageTransfer(t *testing.T) {
	env := newTestEnv(t)
	from := env.newStage(t, "Old", nil)
	to := env.newStage(t, "New", nil)
	t1 := env.newTask(t, from.ID, "one")
	t2 := env.newTask(t, from.ID, "two")

	res, err := env.Engine.DeleteStage(env.Ctx, engine.DeleteStageOptions{StageID: from.ID, Action: "TRANSFER", TransferTo: to.ID})
	require.NoError(t, err)
	assert.Equal(t, to.ID, res.TransferredTo)

	_, err = env.Engine.GetStage(env.Ctx, from.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	for _, id := range []string{t1.ID, t2.ID} {
		task, err := env.Engine.GetTask(env.Ctx, id)
		require.NoError(t, err)
		require.NotNil(t, task.StageID)
		assert.Equal(t, to.ID, *task.StageID)
	}
	target, err := env.Engine.GetStage(env.Ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, to.Version+1, target.Version)
}

func TestDeleteStageRejectsBadInputWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", workedExampleRoles(), env.A.ID)
	env.newTask(t, stage.ID, "one")
	_, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)

	other, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: "Other", OwnerID: "owner"})
	require.NoError(t, err)
	foreign, err := env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{ProjectID: other.ID, Name: "Foreign"})
	require.NoError(t, err)

	before := takeSnapshot(t, env, stage.ID)
	cases := []engine.DeleteStageOptions{
		{StageID: stage.ID, Action: "ARCHIVE"},
		{StageID: stage.ID, Action: ""},
		{StageID: stage.ID, Action: "cascade"},
		{StageID: stage.ID, Action: "Close"},
		{StageID: stage.ID, Action: "TRANSFER"},
		{StageID: stage.ID, Action: "TRANSFER", TransferTo: stage.ID},
		{StageID: stage.ID, Action: "TRANSFER", TransferTo: foreign.ID},
	}
	for _, opts := range cases {
		_, err := env.Engine.DeleteStage(env.Ctx, opts)
		assertValidation(t, err)
	}
	_, err = env.Engine.DeleteStage(env.Ctx, engine.DeleteStageOptions{StageID: stage.ID, Action: "TRANSFER", TransferTo: "missing"})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.Equal(t, before, takeSnapshot(t, env, stage.ID))
}

func TestDeleteStageRollsBackWhenALaterStepFails(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", workedExampleRoles(), env.A.ID)
	env.newTask(t, stage.ID, "one")
	env.newTask(t, stage.ID, "two")
	_, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	before := takeSnapshot(t, env, stage.ID)

	// The audit row is the last write of a deletion; without its table the
	// task update and stage removal must be undone.
	_, err = env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE events RENAME TO events_off`)
	require.NoError(t, err)
	for _, action := range []string{"CASCADE", "CLOSE"} {
		_, err = env.Engine.DeleteStage(env.Ctx, engine.DeleteStageOptions{StageID: stage.ID, Action: action, ActorID: "owner"})
		require.Error(t, err, action)
		assert.Equal(t, before, takeSnapshot(t, env, stage.ID), action)
	}

	_, err = env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE events_off RENAME TO events`)
	require.NoError(t, err)
	res, err := env.Engine.DeleteStage(env.Ctx, engine.DeleteStageOptions{StageID: stage.ID, Action: "CLOSE", ActorID: "owner"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.TasksAffected)
}

func TestSendInvitation(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", nil, env.A.ID)

	inv, err := env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: stage.ID, AuthorID: env.A.ID, InvitedID: env.D.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationPending, inv.Status)
	require.NotNil(t, inv.AuthorID)
	assert.Equal(t, env.A.ID, *inv.AuthorID)

	_, err = env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: stage.ID, AuthorID: env.A.ID, InvitedID: env.D.ID})
	var ce engine.ConflictError
	assert.True(t, errors.As(err, &ce), "duplicate pending invitation should conflict, got %v", err)

	for _, opts := range []engine.SendInvitationOptions{
		{StageID: stage.ID, AuthorID: "missing", InvitedID: env.D.ID},
		{StageID: stage.ID, AuthorID: env.A.ID, InvitedID: "missing"},
		{StageID: "missing", AuthorID: env.A.ID, InvitedID: env.D.ID},
	} {
		_, err := env.Engine.SendInvitation(env.Ctx, opts)
		var nf engine.NotFoundError
		assert.True(t, errors.As(err, &nf), "expected not found, got %v", err)
	}

	_, err = env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: stage.ID, AuthorID: env.D.ID, InvitedID: env.A.ID})
	assertValidation(t, err)
}

func TestAcceptInvitation(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", nil, env.A.ID)
	inv, err := env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: stage.ID, AuthorID: env.A.ID, InvitedID: env.D.ID})
	require.NoError(t, err)

	accepted, err := env.Engine.AcceptInvitation(env.Ctx, inv.ID, env.D.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationAccepted, accepted.Status)

	s, err := env.Engine.GetStage(env.Ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{env.A.ID, env.D.ID}, s.Executors)

	_, err = env.Engine.AcceptInvitation(env.Ctx, inv.ID, env.D.ID)
	assertValidation(t, err)
	_, err = env.Engine.RejectInvitation(env.Ctx, inv.ID, env.D.ID, "changed my mind")
	assertValidation(t, err)
}

func TestAcceptByNonTargetLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Build", nil, env.A.ID)
	inv, err := env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: stage.ID, AuthorID: env.A.ID, InvitedID: env.D.ID})
	require.NoError(t, err)
	before := takeSnapshot(t, env, stage.ID)

	_, err = env.Engine.AcceptInvitation(env.Ctx, inv.ID, env.C.ID)
	assertValidation(t, err)

	assert.Equal(t, before, takeSnapshot(t, env, stage.ID))
	stored, err := env.Engine.GetInvitation(env.Ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationPending, stored.Status)
}

func TestAcceptRequiresProjectParticipant(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: "Other", OwnerID: "owner"})
	require.NoError(t, err)
	otherTeam, err := env.Engine.CreateTeam(env.Ctx, other.ID, "owner")
	require.NoError(t, err)
	outsider := env.addMember(t, otherTeam.ID, "user-x", "TESTER")

	stage := env.newStage(t, "Build", nil, env.A.ID)
	inv, err := env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: stage.ID, AuthorID: env.A.ID, InvitedID: outsider.ID})
	require.NoError(t, err)

	_, err = env.Engine.AcceptInvitation(env.Ctx, inv.ID, outsider.ID)
	assertValidation(t, err)
	stored, err := env.Engine.GetInvitation(env.Ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationPending, stored.Status)
}

func TestRejectInvitation(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Design", workedExampleRoles(), env.A.ID)
	_, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)
	inv := firstFor(t, env, stage.ID, env.B.ID)

	for _, reason := range []string{"", "   "} {
		_, err := env.Engine.RejectInvitation(env.Ctx, inv.ID, env.B.ID, reason)
		assertValidation(t, err)
	}
	stored, err := env.Engine.GetInvitation(env.Ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationPending, stored.Status)

	_, err = env.Engine.RejectInvitation(env.Ctx, inv.ID, env.C.ID, "not mine")
	assertValidation(t, err)

	rejected, err := env.Engine.RejectInvitation(env.Ctx, inv.ID, env.B.ID, "on vacation")
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationRejected, rejected.Status)
	assert.Equal(t, "on vacation", rejected.Description)

	s, err := env.Engine.GetStage(env.Ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{env.A.ID, env.B.ID, env.C.ID}, s.Executors, "rejection leaves executors untouched")
}

func TestListInvitationsForMember(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.newStage(t, "One", nil)
	s2 := env.newStage(t, "Two", nil)
	i1, err := env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: s1.ID, AuthorID: env.A.ID, InvitedID: env.D.ID})
	require.NoError(t, err)
	_, err = env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: s2.ID, AuthorID: env.B.ID, InvitedID: env.D.ID})
	require.NoError(t, err)
	_, err = env.Engine.SendInvitation(env.Ctx, engine.SendInvitationOptions{StageID: s2.ID, AuthorID: env.B.ID, InvitedID: env.C.ID})
	require.NoError(t, err)
	_, err = env.Engine.RejectInvitation(env.Ctx, i1.ID, env.D.ID, "busy")
	require.NoError(t, err)

	all, err := env.Engine.ListInvitationsForMember(env.Ctx, env.D.ID, filter.InvitationCriteria{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := env.Engine.ListInvitationsForMember(env.Ctx, env.D.ID, filter.InvitationCriteria{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, s2.ID, pending[0].StageID)

	byAuthor, err := env.Engine.ListInvitationsForMember(env.Ctx, env.D.ID, filter.InvitationCriteria{AuthorID: env.A.ID})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, i1.ID, byAuthor[0].ID)

	_, err = env.Engine.ListInvitationsForMember(env.Ctx, env.D.ID, filter.InvitationCriteria{Status: "LOST"})
	assertValidation(t, err)
}

func TestListProjectStagesFilters(t *testing.T) {
	env := newTestEnv(t)
	design := env.newStage(t, "Design", []engine.RoleRequirement{{Role: "DESIGNER", Count: 1}})
	qa := env.newStage(t, "QA", []engine.RoleRequirement{{Role: "TESTER", Count: 1}})
	task := env.newTask(t, qa.ID, "verify")
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "IN_PROGRESS", "owner", false)
	require.NoError(t, err)

	got, err := env.Engine.ListProjectStages(env.Ctx, env.Project.ID, filter.StageCriteria{TeamRolePattern: " designer"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, design.ID, got[0].ID)

	got, err = env.Engine.ListProjectStages(env.Ctx, env.Project.ID, filter.StageCriteria{TaskStatusPattern: "in_progress"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, qa.ID, got[0].ID)

	_, err = env.Engine.ListProjectStages(env.Ctx, env.Project.ID, filter.StageCriteria{TeamRolePattern: "WIZARD"})
	assertValidation(t, err)
}

func TestProjectLifecycleAndVisibility(t *testing.T) {
	env := newTestEnv(t)
	private, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: "Secret", OwnerID: "owner", Visibility: "private"})
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPrivate, private.Visibility)
	assert.Equal(t, domain.ProjectCreated, private.Status)

	_, err = env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: "secret", OwnerID: "owner"})
	var ce engine.ConflictError
	assert.True(t, errors.As(err, &ce), "duplicate name per owner should conflict, got %v", err)

	visible, err := env.Engine.ListProjects(env.Ctx, "stranger", filter.ProjectCriteria{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
	visible, err = env.Engine.ListProjects(env.Ctx, "owner", filter.ProjectCriteria{NamePattern: "SEC"})
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	status := "in_progress"
	updated, err := env.Engine.UpdateProject(env.Ctx, engine.UpdateProjectOptions{ID: env.Project.ID, Status: &status, ActorID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectInProgress, updated.Status)

	bad := "FROZEN"
	_, err = env.Engine.UpdateProject(env.Ctx, engine.UpdateProjectOptions{ID: env.Project.ID, Status: &bad})
	assertValidation(t, err)

	deleted, err := env.Engine.DeleteProject(env.Ctx, private.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectDeleted, deleted.Status)
	visible, err = env.Engine.ListProjects(env.Ctx, "owner", filter.ProjectCriteria{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
	_, err = env.Engine.CreateTeam(env.Ctx, private.ID, "owner")
	assertValidation(t, err)
}

func TestAddTeamMemberMergesRoles(t *testing.T) {
	env := newTestEnv(t)
	m := env.addMember(t, env.Team.ID, "user-a", "tester", "DESIGNER")
	assert.Equal(t, env.A.ID, m.ID)
	assert.Equal(t, []domain.TeamRole{domain.RoleDesigner, domain.RoleTester}, m.Roles)

	testers, err := env.Engine.ListProjectMembers(env.Ctx, env.Project.ID, filter.MemberCriteria{RolePattern: "tester"})
	require.NoError(t, err)
	require.Len(t, testers, 2)
	assert.Equal(t, env.A.ID, testers[0].ID)
	assert.Equal(t, env.C.ID, testers[1].ID)

	_, err = env.Engine.AddTeamMember(env.Ctx, engine.AddTeamMemberOptions{TeamID: env.Team.ID, UserID: "u", Roles: []string{"WIZARD"}})
	assertValidation(t, err)
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, "", "Do work")
	var err error
	for _, next := range []string{"IN_PROGRESS", "TESTING", "DONE"} {
		task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, next, "owner", false)
		require.NoError(t, err)
		assert.Equal(t, next, task.Status)
	}
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "TODO", "owner", false)
	assertValidation(t, err)
	task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "TODO", "owner", true)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTodo, task.Status)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "PAUSED", "owner", true)
	assertValidation(t, err)
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	stage := env.newStage(t, "Design", workedExampleRoles(), env.A.ID)
	_, err := env.Engine.FulfillStageRoles(env.Ctx, stage.ID, "owner")
	require.NoError(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, env.Project.ID, 1)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "stage.fulfilled", evts[0].Type)
	assert.Equal(t, "owner", evts[0].ActorID)
}

func firstFor(t *testing.T, env testEnv, stageID, memberID string) domain.StageInvitation {
	t.Helper()
	for _, inv := range env.stageInvitations(t, stageID) {
		if inv.InvitedID == memberID {
			return inv
		}
	}
	t.Fatalf("no invitation for %s on stage %s", memberID, stageID)
	return domain.StageInvitation{}
}

func assertValidation(t *testing.T, err error) {
	t.Helper()
	var ve engine.ValidationError
	assert.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
}
