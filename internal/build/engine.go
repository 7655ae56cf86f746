// Package build drives the gradle toolchain to produce the unsigned
// installable package and the distribution bundle.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/runlog"
)

const stageName = "build"

// Engine invokes the native toolchain and checks its outputs.
type Engine struct {
	Config *config.Config
	Runner proc.Runner
	Log    *runlog.Logger
	Now    func() time.Time
}

func NewEngine(cfg *config.Config, runner proc.Runner, log *runlog.Logger) *Engine {
	return &Engine{Config: cfg, Runner: runner, Log: log, Now: time.Now}
}

// Clean runs the toolchain clean step once ahead of the release builds.
func (e *Engine) Clean(ctx context.Context) error {
	return e.gradle(ctx, "clean")
}

// BuildAPK produces the unsigned installable package for the variant.
func (e *Engine) BuildAPK(ctx context.Context, runID, version string) (domain.BuildArtifact, error) {
	task := "assemble" + titleCase(e.Config.Variant)
	if err := e.gradle(ctx, task, "--parallel", "--build-cache"); err != nil {
		return domain.BuildArtifact{}, err
	}
	out := filepath.Join(e.outputsDir(), "apk", e.Config.Variant,
		fmt.Sprintf("app-%s-unsigned.apk", e.Config.Variant))
	return e.artifact(domain.ArtifactAPK, runID, version, out)
}

// BuildBundle produces the store distribution bundle for the variant.
func (e *Engine) BuildBundle(ctx context.Context, runID, version string) (domain.BuildArtifact, error) {
	task := "bundle" + titleCase(e.Config.Variant)
	if err := e.gradle(ctx, task, "--parallel", "--build-cache"); err != nil {
		return domain.BuildArtifact{}, err
	}
	out := filepath.Join(e.outputsDir(), "bundle", e.Config.Variant,
		fmt.Sprintf("app-%s.aab", e.Config.Variant))
	return e.artifact(domain.ArtifactBundle, runID, version, out)
}

func (e *Engine) outputsDir() string {
	return filepath.Join(e.Config.AndroidDir, "app", "build", "outputs")
}

func (e *Engine) gradle(ctx context.Context, args ...string) error {
	res, err := e.Runner.Run(ctx, proc.Command{
		Name: e.Config.GradleWrapper(),
		Args: args,
		Dir:  e.Config.AndroidDir,
	})
	if err != nil {
		return domain.Fail(domain.BuildError, stageName, err)
	}
	if !res.Ok() {
		return domain.Failf(domain.BuildError, stageName,
			"gradle %s exited %d: %s", args[0], res.ExitCode, tail(res.Stderr))
	}
	return nil
}

// artifact checks the expected output exists and records its size. Size is
// a sanity signal for the operator, not a correctness check.
func (e *Engine) artifact(kind domain.ArtifactKind, runID, version, path string) (domain.BuildArtifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.BuildArtifact{}, domain.Failf(domain.BuildError, stageName,
			"expected %s output missing: %s", kind, path)
	}
	e.Log.Info("built %s: %s (%.1f MB)", kind, filepath.Base(path),
		float64(info.Size())/(1024*1024))
	return domain.BuildArtifact{
		ID:        uuid.NewString(),
		RunID:     runID,
		Kind:      kind,
		Path:      path,
		SizeBytes: info.Size(),
		State:     domain.StateUnsigned,
		Version:   version,
		CreatedAt: e.Now().UTC().Format(time.RFC3339),
	}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		s = s[len(s)-400:]
	}
	return s
}
