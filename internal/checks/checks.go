// Package checks runs the pre-build verification suite. Unit tests are
// the only fatal check; lint, type and device checks degrade to warnings.
package checks

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/runlog"
)

const stageName = "checks"

// Finding is the result of one check within the stage.
type Finding struct {
	Name    string
	Outcome domain.Outcome
	Detail  string
}

// Runner executes the check suite in fixed order.
type Runner struct {
	Config *config.Config
	Runner proc.Runner
	Log    *runlog.Logger
}

func NewRunner(cfg *config.Config, runner proc.Runner, log *runlog.Logger) *Runner {
	return &Runner{Config: cfg, Runner: runner, Log: log}
}

// RunAll executes unit tests, lint, type checks and instrumentation tests
// in order. It returns every finding; the returned error is non-nil only
// when the unit tests fail.
func (r *Runner) RunAll(ctx context.Context) ([]Finding, error) {
	findings := []Finding{r.unit(ctx)}
	if findings[0].Outcome == domain.OutcomeFailed {
		return findings, domain.Failf(domain.TestError, stageName, "unit tests failed: %s", findings[0].Detail)
	}

	findings = append(findings, r.lint(ctx))
	findings = append(findings, r.typeCheck(ctx))
	findings = append(findings, r.instrumentation(ctx))

	for _, f := range findings[1:] {
		switch f.Outcome {
		case domain.OutcomeWarning:
			r.Log.Warning("%s: %s", f.Name, f.Detail)
		case domain.OutcomeSkipped:
			r.Log.Info("%s skipped: %s", f.Name, f.Detail)
		}
	}
	return findings, nil
}

func (r *Runner) unit(ctx context.Context) Finding {
	res, err := r.Runner.Run(ctx, proc.Command{
		Name: "npm", Args: []string{"test", "--", "--watchAll=false"}, Dir: r.Config.ProjectRoot,
	})
	if err != nil {
		return Finding{Name: "unit", Outcome: domain.OutcomeFailed, Detail: err.Error()}
	}
	if !res.Ok() {
		return Finding{Name: "unit", Outcome: domain.OutcomeFailed, Detail: tail(res.Stderr)}
	}
	r.Log.Success("unit tests passed")
	return Finding{Name: "unit", Outcome: domain.OutcomeSuccess}
}

func (r *Runner) lint(ctx context.Context) Finding {
	res, err := r.Runner.Run(ctx, proc.Command{
		Name: "npm", Args: []string{"run", "lint"}, Dir: r.Config.ProjectRoot,
	})
	if err != nil || !res.Ok() {
		return Finding{Name: "lint", Outcome: domain.OutcomeWarning, Detail: "lint reported issues"}
	}
	return Finding{Name: "lint", Outcome: domain.OutcomeSuccess}
}

// typeCheck runs tsc only when the tree carries a type config.
func (r *Runner) typeCheck(ctx context.Context) Finding {
	if _, err := os.Stat(filepath.Join(r.Config.ProjectRoot, "tsconfig.json")); err != nil {
		return Finding{Name: "types", Outcome: domain.OutcomeSkipped, Detail: "no tsconfig.json"}
	}
	res, err := r.Runner.Run(ctx, proc.Command{
		Name: "npx", Args: []string{"tsc", "--noEmit"}, Dir: r.Config.ProjectRoot,
	})
	if err != nil || !res.Ok() {
		return Finding{Name: "types", Outcome: domain.OutcomeWarning, Detail: "type check reported issues"}
	}
	return Finding{Name: "types", Outcome: domain.OutcomeSuccess}
}

// instrumentation runs device tests only when a device is attached.
func (r *Runner) instrumentation(ctx context.Context) Finding {
	if _, ok := r.Runner.LookPath("adb"); !ok {
		return Finding{Name: "instrumentation", Outcome: domain.OutcomeSkipped, Detail: "adb not installed"}
	}
	res, err := r.Runner.Run(ctx, proc.Command{Name: "adb", Args: []string{"devices"}})
	if err != nil || !deviceAttached(res.Stdout) {
		return Finding{Name: "instrumentation", Outcome: domain.OutcomeSkipped, Detail: "no device attached"}
	}
	res, err = r.Runner.Run(ctx, proc.Command{
		Name: r.Config.GradleWrapper(),
		Args: []string{"connectedAndroidTest"},
		Dir:  r.Config.AndroidDir,
	})
	if err != nil || !res.Ok() {
		return Finding{Name: "instrumentation", Outcome: domain.OutcomeWarning, Detail: "instrumentation tests reported failures"}
	}
	return Finding{Name: "instrumentation", Outcome: domain.OutcomeSuccess}
}

// deviceAttached parses `adb devices` output for at least one device line.
func deviceAttached(out string) bool {
	for _, line := range strings.Split(out, "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			return true
		}
	}
	return false
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		s = s[len(s)-400:]
	}
	return s
}
