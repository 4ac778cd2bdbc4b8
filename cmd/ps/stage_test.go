package main

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectservice/internal/app"
	"projectservice/internal/engine"
	"projectservice/internal/repo"
)

func TestParseRoleFlags(t *testing.T) {
	got, err := parseRoleFlags([]string{"DESIGNER=2", " tester = 1", "ANALYST"})
	require.NoError(t, err)
	assert.Equal(t, []engine.RoleRequirement{
		{Role: "DESIGNER", Count: 2},
		{Role: "tester", Count: 1},
		{Role: "ANALYST", Count: 1},
	}, got)

	_, err = parseRoleFlags([]string{"DESIGNER=two"})
	assert.Error(t, err)
}

var commandsOnce sync.Once

// runCLI executes the root command the way main does and returns its error.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	commandsOnce.Do(func() {
		addPersistentFlags()
		registerCommands()
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestStageDeleteCommand(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	rt, err := app.Open(ctx, ws)
	require.NoError(t, err)
	p, err := rt.Engine.CreateProject(ctx, engine.CreateProjectOptions{Name: "Apollo", OwnerID: "owner"})
	require.NoError(t, err)
	stage, err := rt.Engine.CreateStage(ctx, engine.CreateStageOptions{ProjectID: p.ID, Name: "Build"})
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	err = runCLI(t, "stage", "delete", stage.ID, "--action", "TRANSFER", "-w", ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSFER requires a target stage")

	err = runCLI(t, "stage", "delete", stage.ID, "--action", "cascade", "-w", ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage delete action")

	require.NoError(t, runCLI(t, "stage", "delete", stage.ID, "--action", "CASCADE", "-w", ws))

	rt, err = app.Open(ctx, ws)
	require.NoError(t, err)
	defer rt.Close()
	_, err = rt.Engine.GetStage(ctx, stage.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
