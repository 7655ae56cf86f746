package prereq_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/prereq"
	"droidship/internal/proc"
	"droidship/internal/testutil"
)

func finding(t *testing.T, r prereq.Report, name string) prereq.Finding {
	t.Helper()
	for _, f := range r.Findings {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no finding named %q", name)
	return prereq.Finding{}
}

func TestAllRequiredPresent(t *testing.T) {
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	testutil.InstallBuildTools(t, cfg, "34.0.0")
	fake := proc.NewFake()
	fake.On("npm --version", proc.Result{Stdout: "10.2.4\n"}, nil)

	report := prereq.NewChecker(cfg, fake).Check(context.Background())
	assert.Empty(t, report.MissingRequired())
	assert.Equal(t, "10.2.4", finding(t, report, "npm").Detail)
}

func TestMissingToolBlocksRun(t *testing.T) {
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	testutil.InstallBuildTools(t, cfg, "34.0.0")
	fake := proc.NewFake().WithoutTool("keytool")

	report := prereq.NewChecker(cfg, fake).Check(context.Background())
	missing := report.MissingRequired()
	require.Len(t, missing, 1)
	assert.Equal(t, "keytool", missing[0].Name)
}

func TestMissingSDKBlocksRun(t *testing.T) {
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil) // sdk dir never created

	report := prereq.NewChecker(cfg, proc.NewFake()).Check(context.Background())
	missing := report.MissingRequired()
	require.Len(t, missing, 1)
	assert.Equal(t, "sdk", missing[0].Name)
}

func TestMissingADBIsOptional(t *testing.T) {
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	testutil.InstallBuildTools(t, cfg, "34.0.0")
	fake := proc.NewFake().WithoutTool("adb")

	report := prereq.NewChecker(cfg, fake).Check(context.Background())
	assert.Empty(t, report.MissingRequired())
	assert.False(t, finding(t, report, "adb").OK)
}

func TestCloudGateFollowsConfig(t *testing.T) {
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	testutil.InstallBuildTools(t, cfg, "34.0.0")

	report := prereq.NewChecker(cfg, proc.NewFake()).Check(context.Background())
	assert.False(t, report.CloudEnabled)

	cfg = testutil.NewConfig(t, root, map[string]any{
		"cloud-endpoint":   "s3.example.com",
		"cloud-bucket":     "releases",
		"cloud-access-key": "ak",
		"cloud-secret-key": "sk",
	})
	report = prereq.NewChecker(cfg, proc.NewFake()).Check(context.Background())
	assert.True(t, report.CloudEnabled)
	assert.Empty(t, report.MissingRequired())
}
