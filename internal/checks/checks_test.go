package checks_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/checks"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/testutil"
)

func newRunner(t *testing.T) (*checks.Runner, *proc.Fake) {
	t.Helper()
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	fake := proc.NewFake()
	return checks.NewRunner(cfg, fake, testutil.NewLogger(t, cfg)), fake
}

func findingFor(findings []checks.Finding, name string) checks.Finding {
	for _, f := range findings {
		if f.Name == name {
			return f
		}
	}
	return checks.Finding{}
}

func TestUnitFailureIsFatal(t *testing.T) {
	r, fake := newRunner(t)
	fake.On("npm test", proc.Result{ExitCode: 1, Stderr: "2 tests failed"}, nil)

	findings, err := r.RunAll(context.Background())
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.TestError, stageErr.Kind)
	// nothing after the unit stage ran
	assert.Len(t, findings, 1)
	assert.Equal(t, 0, fake.CallCount("npm run lint"))
}

func TestLintFailureIsAdvisory(t *testing.T) {
	r, fake := newRunner(t)
	fake.On("npm run lint", proc.Result{ExitCode: 1}, nil)

	findings, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWarning, findingFor(findings, "lint").Outcome)
	assert.Equal(t, domain.OutcomeSuccess, findingFor(findings, "unit").Outcome)
}

func TestTypeCheckSkippedWithoutConfig(t *testing.T) {
	r, fake := newRunner(t)
	findings, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, findingFor(findings, "types").Outcome)
	assert.Equal(t, 0, fake.CallCount("npx tsc"))
}

func TestTypeCheckAdvisoryWithConfig(t *testing.T) {
	r, fake := newRunner(t)
	testutil.WriteFile(t, filepath.Join(r.Config.ProjectRoot, "tsconfig.json"), "{}")
	fake.On("npx tsc", proc.Result{ExitCode: 2}, nil)

	findings, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWarning, findingFor(findings, "types").Outcome)
}

func TestInstrumentationSkippedWithoutDevice(t *testing.T) {
	r, fake := newRunner(t)
	fake.On("adb devices", proc.Result{Stdout: "List of devices attached\n\n"}, nil)

	findings, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, findingFor(findings, "instrumentation").Outcome)
}

func TestInstrumentationRunsWithDevice(t *testing.T) {
	r, fake := newRunner(t)
	fake.On("adb devices", proc.Result{Stdout: "List of devices attached\nemulator-5554\tdevice\n"}, nil)

	findings, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, findingFor(findings, "instrumentation").Outcome)
	assert.Equal(t, 1, fake.CallCount(r.Config.GradleWrapper()+" connectedAndroidTest"))
}
