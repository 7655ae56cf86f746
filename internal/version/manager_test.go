package version_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/testutil"
	"droidship/internal/version"
)

func newManager(t *testing.T) (*version.Manager, *proc.Fake) {
	t.Helper()
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	fake := proc.NewFake().WithoutTool("git")
	return version.NewManager(cfg, fake), fake
}

func TestBumpSeedsFreshTree(t *testing.T) {
	m, _ := newManager(t)
	rec, err := m.Bump(context.Background(), version.BumpPatch)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", rec.Version)
	assert.Equal(t, 1, rec.VersionCode)
	assert.Equal(t, "unknown", rec.GitCommit)
}

func TestBumpIncrementsBuildNumberByOne(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	prev, err := m.Bump(ctx, version.BumpPatch)
	require.NoError(t, err)
	for _, kind := range []version.BumpKind{version.BumpMinor, version.BumpMajor, version.BumpPatch} {
		rec, err := m.Bump(ctx, kind)
		require.NoError(t, err)
		assert.Equal(t, prev.VersionCode+1, rec.VersionCode, string(kind))
		prev = rec
	}
}

func TestBumpKinds(t *testing.T) {
	tests := []struct {
		kind version.BumpKind
		want string
	}{
		{version.BumpPatch, "1.2.4"},
		{version.BumpMinor, "1.3.0"},
		{version.BumpMajor, "2.0.0"},
	}
	for _, tt := range tests {
		m, _ := newManager(t)
		seed := `{"version":"1.2.3","versionCode":7,"buildTime":"","gitCommit":""}`
		testutil.WriteFile(t, filepath.Join(m.Config.ProjectRoot, "version.json"), seed)
		rec, err := m.Bump(context.Background(), tt.kind)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.Version, string(tt.kind))
		assert.Equal(t, 8, rec.VersionCode)
	}
}

func TestBumpPatchesDescriptorFieldsOnly(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Bump(context.Background(), version.BumpMinor)
	require.NoError(t, err)

	data, err := os.ReadFile(m.DescriptorPath())
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `versionName "1.1.0"`)
	assert.Contains(t, content, "versionCode 1")
	// unrelated descriptor content untouched
	assert.Contains(t, content, `applicationId "com.example.app"`)
	assert.Contains(t, content, "minSdkVersion 24")
}

func TestBumpFailsWithoutDescriptor(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, os.Remove(m.DescriptorPath()))

	_, err := m.Bump(context.Background(), version.BumpPatch)
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.VersionError, stageErr.Kind)
}

func TestBumpUsesGitRevision(t *testing.T) {
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	fake := proc.NewFake()
	fake.On("git rev-parse", proc.Result{Stdout: "abc1234\n"}, nil)
	m := version.NewManager(cfg, fake)

	rec, err := m.Bump(context.Background(), version.BumpPatch)
	require.NoError(t, err)
	assert.Equal(t, "abc1234", rec.GitCommit)
}

func TestRecordPersists(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	bumped, err := m.Bump(ctx, version.BumpMajor)
	require.NoError(t, err)

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, bumped.Version, cur.Version)
	assert.Equal(t, bumped.VersionCode, cur.VersionCode)

	data, err := os.ReadFile(filepath.Join(m.Config.ProjectRoot, "version.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"versionCode": 1`))
}
