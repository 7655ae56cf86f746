package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/domain"
	"droidship/internal/registry"
)

func newRepo(t *testing.T) registry.Repo {
	t.Helper()
	conn, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, registry.Migrate(conn))
	return registry.Repo{DB: conn}
}

func seedRun(t *testing.T, repo registry.Repo, id string) domain.PipelineRun {
	t.Helper()
	run := domain.PipelineRun{
		ID: id, Variant: "release", Bump: "patch",
		Status: domain.RunRunning, LogPath: "/logs/x.log",
		StartedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.InsertRun(context.Background(), run))
	return run
}

func TestRunLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	run := seedRun(t, repo, "run-1")

	require.NoError(t, repo.UpdateRunVersion(ctx, run.ID, "1.0.1", 2))
	ended := run.StartedAt.Add(5 * time.Minute)
	require.NoError(t, repo.CloseRun(ctx, run.ID, domain.RunSucceeded, ended))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", got.Version)
	assert.Equal(t, 2, got.VersionCode)
	assert.Equal(t, domain.RunSucceeded, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, ended, got.EndedAt.UTC())
}

func TestGetRunNotFound(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestOutcomesAreOrderedAndAppendOnly(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	run := seedRun(t, repo, "run-1")

	for _, stage := range []string{"prereq", "dependencies", "version"} {
		require.NoError(t, repo.AppendOutcome(ctx, domain.StageOutcome{
			RunID: run.ID, Stage: stage, Outcome: domain.OutcomeSuccess,
			TS: time.Now().UTC().Format(time.RFC3339),
		}))
	}

	outcomes, err := repo.ListOutcomes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{outcomes[0].Seq, outcomes[1].Seq, outcomes[2].Seq})
	assert.Equal(t, "prereq", outcomes[0].Stage)
	assert.Equal(t, "version", outcomes[2].Stage)
}

func TestArtifactRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	run := seedRun(t, repo, "run-1")

	a := domain.BuildArtifact{
		ID: "a-1", RunID: run.ID, Kind: domain.ArtifactAPK,
		Path: "/builds/testapp-1.0.1-release.apk", SizeBytes: 123456,
		State: domain.StateAligned, Version: "1.0.1",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	require.NoError(t, repo.RegisterArtifact(ctx, a))

	artifacts, err := repo.ListArtifacts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, a.Path, artifacts[0].Path)
	assert.Equal(t, domain.StateAligned, artifacts[0].State)
}

func TestListRunsNewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	old := seedRun(t, repo, "run-old")
	recent := domain.PipelineRun{
		ID: "run-new", Variant: "release", Bump: "minor",
		Status: domain.RunRunning, LogPath: "/logs/y.log",
		StartedAt: old.StartedAt.Add(time.Hour),
	}
	require.NoError(t, repo.InsertRun(ctx, recent))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
}
