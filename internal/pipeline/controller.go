// Package pipeline sequences the release stages for one run: prereq gate,
// dependency install, version bump, keystore, checks, build, sign+verify,
// align, register, optional cloud upload. Stages run strictly in order;
// a fatal stage aborts the run through one cleanup path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"droidship/internal/align"
	"droidship/internal/build"
	"droidship/internal/checks"
	"droidship/internal/config"
	"droidship/internal/deps"
	"droidship/internal/domain"
	"droidship/internal/keystore"
	"droidship/internal/prereq"
	"droidship/internal/proc"
	"droidship/internal/registry"
	"droidship/internal/runlog"
	"droidship/internal/signing"
	"droidship/internal/version"
)

// Options select what a run does.
type Options struct {
	Bump      version.BumpKind
	SkipTests bool
	APKOnly   bool
}

// ArtifactUploader pushes an aligned artifact to the distribution target.
type ArtifactUploader interface {
	Upload(ctx context.Context, a domain.BuildArtifact) error
}

// killer is implemented by the exec-backed runner; fakes may omit it.
type killer interface {
	KillAll() int
}

// Controller wires the stages together for a single sequential run.
type Controller struct {
	Config   *config.Config
	Runner   proc.Runner
	Log      *runlog.Logger
	Repo     registry.Repo
	Uploader ArtifactUploader // nil when cloud upload is disabled
	Now      func() time.Time

	run     domain.PipelineRun
	tempDir string
}

func NewController(cfg *config.Config, runner proc.Runner, log *runlog.Logger, repo registry.Repo) *Controller {
	return &Controller{Config: cfg, Runner: runner, Log: log, Repo: repo, Now: time.Now}
}

// Run executes the full pipeline. It returns nil only when every fatal
// stage succeeded; advisory findings are logged and do not affect the
// result. An interrupt cancels ctx and takes the same fatal path.
func (c *Controller) Run(ctx context.Context, opts Options) error {
	c.run = domain.PipelineRun{
		ID:        uuid.NewString(),
		Variant:   c.Config.Variant,
		Bump:      string(opts.Bump),
		Status:    domain.RunRunning,
		LogPath:   c.Log.Path,
		StartedAt: c.Now().UTC(),
	}
	if err := c.Repo.InsertRun(ctx, c.run); err != nil {
		return fmt.Errorf("register run: %w", err)
	}
	c.tempDir = filepath.Join(c.Config.StagingDir, "tmp-"+c.run.ID)
	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return c.fatal(ctx, domain.Fail(domain.ConfigError, "pipeline", err))
	}

	c.Log.Header("release pipeline started (variant=%s bump=%s run=%s)",
		c.Config.Variant, opts.Bump, c.run.ID)

	// prerequisite gate
	report := prereq.NewChecker(c.Config, c.Runner).Check(ctx)
	if missing := report.MissingRequired(); len(missing) > 0 {
		for _, f := range missing {
			c.Log.Error("missing prerequisite: %s (%s)", f.Name, f.Detail)
		}
		return c.fatal(ctx, domain.Failf(domain.PrereqError, "prereq",
			"%d required prerequisites missing", len(missing)))
	}
	if !report.CloudEnabled {
		c.Log.Info("cloud upload disabled for this run")
	}
	c.record(ctx, "prereq", domain.OutcomeSuccess, "")

	// dependencies
	if err := deps.NewInstaller(c.Config, c.Runner, c.Log).InstallAll(ctx); err != nil {
		return c.fatal(ctx, err)
	}
	c.record(ctx, "dependencies", domain.OutcomeSuccess, "")

	// version bump
	vm := version.NewManager(c.Config, c.Runner)
	rec, err := vm.Bump(ctx, opts.Bump)
	if err != nil {
		return c.fatal(ctx, err)
	}
	c.run.Version = rec.Version
	c.run.VersionCode = rec.VersionCode
	_ = c.Repo.UpdateRunVersion(ctx, c.run.ID, rec.Version, rec.VersionCode)
	c.Log.Success("version %s (build %d)", rec.Version, rec.VersionCode)
	c.record(ctx, "version", domain.OutcomeSuccess, rec.Version)

	// keystore
	creds, err := keystore.NewManager(c.Config, c.Runner, c.Log).Ensure(ctx)
	if err != nil {
		return c.fatal(ctx, err)
	}
	c.record(ctx, "keystore", domain.OutcomeSuccess, "")

	// checks
	if opts.SkipTests {
		c.Log.Warning("tests skipped by operator request")
		c.record(ctx, "checks", domain.OutcomeSkipped, "skipped by operator")
	} else {
		findings, err := checks.NewRunner(c.Config, c.Runner, c.Log).RunAll(ctx)
		if err != nil {
			c.record(ctx, "checks", domain.OutcomeFailed, findings[0].Detail)
			return c.fatal(ctx, err)
		}
		c.record(ctx, "checks", checksOutcome(findings), "")
	}

	// build
	engine := build.NewEngine(c.Config, c.Runner, c.Log)
	if err := engine.Clean(ctx); err != nil {
		return c.fatal(ctx, err)
	}
	artifacts := make([]domain.BuildArtifact, 0, 2)
	apk, err := engine.BuildAPK(ctx, c.run.ID, rec.Version)
	if err != nil {
		return c.fatal(ctx, err)
	}
	artifacts = append(artifacts, apk)
	if !opts.APKOnly {
		bundle, err := engine.BuildBundle(ctx, c.run.ID, rec.Version)
		if err != nil {
			return c.fatal(ctx, err)
		}
		artifacts = append(artifacts, bundle)
	}
	c.record(ctx, "build", domain.OutcomeSuccess, fmt.Sprintf("%d artifacts", len(artifacts)))

	// sign + verify, then align and register, artifact by artifact
	signer := signing.NewSigner(c.Config, c.Runner, c.Log)
	optimizer := align.NewOptimizer(c.Config, c.Runner, c.Log)
	for i, a := range artifacts {
		signed, err := signer.SignAndVerify(ctx, a, creds)
		if err != nil {
			c.record(ctx, "sign", domain.OutcomeFailed, string(a.Kind))
			return c.fatal(ctx, err)
		}
		final, err := optimizer.Finalize(ctx, signed)
		if err != nil {
			c.record(ctx, "align", domain.OutcomeFailed, string(a.Kind))
			return c.fatal(ctx, err)
		}
		if err := c.Repo.RegisterArtifact(ctx, final); err != nil {
			return c.fatal(ctx, domain.Fail(domain.AlignError, "align", err))
		}
		artifacts[i] = final
	}
	c.record(ctx, "sign", domain.OutcomeSuccess, "")
	c.record(ctx, "align", domain.OutcomeSuccess, "")

	// optional cloud upload; failures degrade, they never fail a built release
	if c.Uploader != nil && report.CloudEnabled {
		outcome := domain.OutcomeSuccess
		for _, a := range artifacts {
			if err := c.Uploader.Upload(ctx, a); err != nil {
				c.Log.Warning("upload failed: %v", err)
				outcome = domain.OutcomeWarning
			}
		}
		c.record(ctx, "upload", outcome, "")
	} else {
		c.record(ctx, "upload", domain.OutcomeSkipped, "cloud disabled")
	}

	c.cleanupTemp()
	_ = c.Repo.CloseRun(ctx, c.run.ID, domain.RunSucceeded, c.Now().UTC())
	c.Log.Header("release %s (build %d) completed", rec.Version, rec.VersionCode)
	return nil
}

// fatal is the single cleanup call site: reap tracked subprocesses, drop
// run-scoped temp files, close the run as failed. Prior side effects
// (bumped version record, keystore) are deliberately left in place.
func (c *Controller) fatal(ctx context.Context, err error) error {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		c.Log.Error("%s", stageErr.Error())
	} else {
		c.Log.Error("pipeline aborted: %v", err)
	}
	if k, ok := c.Runner.(killer); ok {
		if n := k.KillAll(); n > 0 {
			c.Log.Warning("terminated %d background jobs", n)
		}
	}
	c.cleanupTemp()
	// the registry write must survive ctx cancellation
	_ = c.Repo.CloseRun(context.WithoutCancel(ctx), c.run.ID, domain.RunFailed, c.Now().UTC())
	return err
}

func (c *Controller) cleanupTemp() {
	if c.tempDir != "" {
		_ = os.RemoveAll(c.tempDir)
	}
}

// record appends a stage outcome to the registry and the run log.
func (c *Controller) record(ctx context.Context, stage string, outcome domain.Outcome, detail string) {
	o := domain.StageOutcome{
		RunID:   c.run.ID,
		Stage:   stage,
		Outcome: outcome,
		Detail:  detail,
		TS:      c.Now().UTC().Format(time.RFC3339),
	}
	if err := c.Repo.AppendOutcome(context.WithoutCancel(ctx), o); err != nil {
		c.Log.Warning("record outcome %s: %v", stage, err)
	}
	c.Log.Debugf("stage %s: %s %s", stage, outcome, detail)
}

func checksOutcome(findings []checks.Finding) domain.Outcome {
	for _, f := range findings {
		if f.Outcome == domain.OutcomeWarning {
			return domain.OutcomeWarning
		}
	}
	return domain.OutcomeSuccess
}
