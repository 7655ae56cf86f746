package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/registry"
	"droidship/internal/server"
	"droidship/internal/version"
)

func newHandler(t *testing.T, secret string) (http.Handler, registry.Repo) {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.Resolve(viper.New(), root)
	require.NoError(t, err)

	conn, err := registry.Open(root)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, registry.Migrate(conn))
	repo := registry.Repo{DB: conn}

	h := server.New(server.Config{
		Repo:      repo,
		Versions:  version.NewManager(cfg, proc.NewFake()),
		APISecret: secret,
	})
	return h, repo
}

func seedHistory(t *testing.T, repo registry.Repo) domain.PipelineRun {
	t.Helper()
	ctx := context.Background()
	run := domain.PipelineRun{
		ID: "run-1", Variant: "release", Bump: "patch",
		Status: domain.RunSucceeded, Version: "1.0.1", VersionCode: 1,
		LogPath: "/logs/release.log", StartedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertRun(ctx, run))
	require.NoError(t, repo.AppendOutcome(ctx, domain.StageOutcome{
		RunID: run.ID, Stage: "build", Outcome: domain.OutcomeSuccess,
		TS: time.Now().UTC().Format(time.RFC3339),
	}))
	require.NoError(t, repo.RegisterArtifact(ctx, domain.BuildArtifact{
		ID: "a-1", RunID: run.ID, Kind: domain.ArtifactAPK,
		Path: "/builds/app-1.0.1-release.apk", SizeBytes: 1024,
		State: domain.StateAligned, Version: "1.0.1",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}))
	return run
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newHandler(t, "")
	rec := get(t, h, "/v0/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestListRuns(t *testing.T) {
	h, repo := newHandler(t, "")
	seedHistory(t, repo)

	rec := get(t, h, "/v0/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []domain.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, domain.RunSucceeded, runs[0].Status)
}

func TestGetRunWithOutcomes(t *testing.T) {
	h, repo := newHandler(t, "")
	seedHistory(t, repo)

	rec := get(t, h, "/v0/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail server.RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "run-1", detail.Run.ID)
	require.Len(t, detail.Outcomes, 1)
	assert.Equal(t, "build", detail.Outcomes[0].Stage)
}

func TestGetRunNotFound(t *testing.T) {
	h, _ := newHandler(t, "")
	rec := get(t, h, "/v0/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListArtifacts(t *testing.T) {
	h, repo := newHandler(t, "")
	seedHistory(t, repo)

	rec := get(t, h, "/v0/artifacts")
	require.Equal(t, http.StatusOK, rec.Code)

	var artifacts []domain.BuildArtifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	require.Len(t, artifacts, 1)
	assert.Equal(t, domain.StateAligned, artifacts[0].State)
}

func TestVersionEndpointServesSeed(t *testing.T) {
	h, _ := newHandler(t, "")
	rec := get(t, h, "/v0/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var rec2 domain.VersionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rec2))
	assert.Equal(t, "1.0.0", rec2.Version)
	assert.Equal(t, 0, rec2.VersionCode)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	h, _ := newHandler(t, "topsecret")

	rec := get(t, h, "/v0/runs")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v0/runs", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	token, err := server.IssueToken("topsecret")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v0/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}
