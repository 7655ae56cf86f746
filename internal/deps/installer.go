// Package deps installs the package-manager and native-toolchain
// dependencies ahead of a build, with a bounded retry on the package
// manager install.
package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/runlog"
)

const (
	stageName     = "dependencies"
	installTries  = 3
	retryInterval = 5 * time.Second
	moduleDir     = "node_modules"
)

// Installer runs npm and the gradle wrapper to bring the tree's
// dependencies in.
type Installer struct {
	Config *config.Config
	Runner proc.Runner
	Log    *runlog.Logger

	// RetryInterval overrides the inter-attempt delay; tests shrink it.
	RetryInterval time.Duration
}

func NewInstaller(cfg *config.Config, runner proc.Runner, log *runlog.Logger) *Installer {
	return &Installer{Config: cfg, Runner: runner, Log: log, RetryInterval: retryInterval}
}

// InstallAll backs up any stale dependency cache, clears the package
// manager cache, installs packages with up to 3 attempts, then pulls the
// native toolchain dependencies in a single non-retried step. Only the
// exhaustion of all install attempts, or the native step, is fatal.
func (i *Installer) InstallAll(ctx context.Context) error {
	i.backupModuleCache()
	i.cleanCache(ctx)

	attempt := 0
	backoff := retry.WithMaxRetries(installTries-1, retry.NewConstant(i.interval()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		i.Log.Info("installing packages (attempt %d/%d)", attempt, installTries)
		res, err := i.Runner.Run(ctx, proc.Command{
			Name: "npm",
			Args: []string{"install"},
			Dir:  i.Config.ProjectRoot,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		if !res.Ok() {
			i.Log.Warning("npm install failed (exit %d)", res.ExitCode)
			return retry.RetryableError(fmt.Errorf("npm install exited %d: %s",
				res.ExitCode, lastLine(res.Stderr)))
		}
		return nil
	})
	if err != nil {
		return domain.Failf(domain.DependencyError, stageName,
			"package install failed after %d attempts: %v", installTries, err)
	}
	i.Log.Success("packages installed")

	return i.installNative(ctx)
}

// installNative resolves the gradle dependency graph once; no retry.
func (i *Installer) installNative(ctx context.Context) error {
	res, err := i.Runner.Run(ctx, proc.Command{
		Name: i.Config.GradleWrapper(),
		Args: []string{"dependencies", "--quiet"},
		Dir:  i.Config.AndroidDir,
	})
	if err != nil {
		return domain.Fail(domain.DependencyError, stageName, err)
	}
	if !res.Ok() {
		return domain.Failf(domain.DependencyError, stageName,
			"gradle dependency resolution exited %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	i.Log.Success("native toolchain dependencies resolved")
	return nil
}

// backupModuleCache moves a pre-existing node_modules aside instead of
// deleting it, so a broken install can be reverted by hand. Absence is
// not an error.
func (i *Installer) backupModuleCache() {
	src := filepath.Join(i.Config.ProjectRoot, moduleDir)
	if _, err := os.Stat(src); err != nil {
		return
	}
	dst := src + ".bak-" + i.Config.Timestamp.Format("20060102150405")
	if err := os.Rename(src, dst); err != nil {
		i.Log.Warning("could not back up %s: %v", moduleDir, err)
		return
	}
	i.Log.Info("previous %s moved to %s", moduleDir, filepath.Base(dst))
}

func (i *Installer) cleanCache(ctx context.Context) {
	res, err := i.Runner.Run(ctx, proc.Command{
		Name: "npm",
		Args: []string{"cache", "clean", "--force"},
		Dir:  i.Config.ProjectRoot,
	})
	if err != nil || !res.Ok() {
		i.Log.Warning("npm cache clean failed; continuing")
	}
}

func (i *Installer) interval() time.Duration {
	if i.RetryInterval > 0 {
		return i.RetryInterval
	}
	return retryInterval
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
