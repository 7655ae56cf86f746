// Package align finalizes verified artifacts: zipaligns the APK into its
// release-named form, records package metadata, and stages the outputs for
// distribution.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/runlog"
	"droidship/internal/version"
)

const stageName = "align"

// Optimizer repacks verified artifacts into their distributable form.
type Optimizer struct {
	Config *config.Config
	Runner proc.Runner
	Log    *runlog.Logger
	Now    func() time.Time
}

func NewOptimizer(cfg *config.Config, runner proc.Runner, log *runlog.Logger) *Optimizer {
	return &Optimizer{Config: cfg, Runner: runner, Log: log, Now: time.Now}
}

// Finalize aligns the artifact into {appName}-{version}-release.{ext}
// under the staging directory and emits its metadata record into the
// builds directory. Only verified artifacts are accepted; anything else is
// a release-candidate policy violation, not an alignment failure.
func (o *Optimizer) Finalize(ctx context.Context, a domain.BuildArtifact) (domain.BuildArtifact, error) {
	if a.State != domain.StateVerified {
		return a, domain.Failf(domain.AlignError, stageName,
			"refusing to finalize %s artifact in state %q", a.Kind, a.State)
	}

	var err error
	switch a.Kind {
	case domain.ArtifactAPK:
		a, err = o.alignAPK(ctx, a)
	case domain.ArtifactBundle:
		a, err = o.stageBundle(a)
	default:
		return a, domain.Failf(domain.AlignError, stageName, "unknown artifact kind %q", a.Kind)
	}
	if err != nil {
		return a, err
	}
	a.State = domain.StateAligned
	if info, err := os.Stat(a.Path); err == nil {
		a.SizeBytes = info.Size()
	}
	a.PackageInfo = o.packageInfo(ctx, a)

	if err := o.writeMetadata(a); err != nil {
		return a, err
	}
	o.Log.Success("finalized %s: %s", a.Kind, filepath.Base(a.Path))
	return a, nil
}

func (o *Optimizer) finalName(a domain.BuildArtifact, ext string) string {
	return fmt.Sprintf("%s-%s-release.%s", o.Config.AppName, a.Version, ext)
}

// alignAPK runs the newest installed zipalign over the signed APK.
func (o *Optimizer) alignAPK(ctx context.Context, a domain.BuildArtifact) (domain.BuildArtifact, error) {
	tool, err := o.zipalignPath()
	if err != nil {
		return a, err
	}
	out := filepath.Join(o.Config.StagingDir, o.finalName(a, "apk"))
	res, err := o.Runner.Run(ctx, proc.Command{
		Name: tool,
		Args: []string{"-f", "4", a.Path, out},
	})
	if err != nil {
		return a, domain.Fail(domain.AlignError, stageName, err)
	}
	if !res.Ok() {
		return a, domain.Failf(domain.AlignError, stageName,
			"zipalign exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	a.Path = out
	return a, nil
}

// stageBundle renames the signed bundle to its final form and drops a
// version-stamped duplicate into the central builds directory.
func (o *Optimizer) stageBundle(a domain.BuildArtifact) (domain.BuildArtifact, error) {
	out := filepath.Join(o.Config.StagingDir, o.finalName(a, "aab"))
	if err := copyFile(a.Path, out); err != nil {
		return a, domain.Fail(domain.AlignError, stageName, err)
	}
	dup := filepath.Join(o.Config.BuildsDir, o.finalName(a, "aab"))
	if err := copyFile(a.Path, dup); err != nil {
		return a, domain.Fail(domain.AlignError, stageName, err)
	}
	a.Path = out
	return a, nil
}

// zipalignPath locates the alignment tool under the newest installed
// build-tools revision.
func (o *Optimizer) zipalignPath() (string, error) {
	if o.Config.SDKRoot == "" {
		return "", domain.Failf(domain.AlignError, stageName, "SDK root not configured")
	}
	base := filepath.Join(o.Config.SDKRoot, "build-tools")
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", domain.Failf(domain.AlignError, stageName, "no build-tools under %s", o.Config.SDKRoot)
	}
	var revisions []string
	for _, e := range entries {
		if e.IsDir() {
			revisions = append(revisions, e.Name())
		}
	}
	if len(revisions) == 0 {
		return "", domain.Failf(domain.AlignError, stageName, "no build-tools revisions installed")
	}
	sort.Slice(revisions, func(i, j int) bool {
		a, errA := version.Parse(revisions[i])
		b, errB := version.Parse(revisions[j])
		if errA != nil || errB != nil {
			return revisions[i] < revisions[j]
		}
		return a.Less(b)
	})
	tool := filepath.Join(base, revisions[len(revisions)-1], "zipalign")
	if _, err := os.Stat(tool); err != nil {
		return "", domain.Failf(domain.AlignError, stageName, "zipalign missing in %s", filepath.Dir(tool))
	}
	return tool, nil
}

// packageInfo collects manifest fields via aapt where obtainable.
func (o *Optimizer) packageInfo(ctx context.Context, a domain.BuildArtifact) []string {
	if a.Kind != domain.ArtifactAPK {
		return nil
	}
	if _, ok := o.Runner.LookPath("aapt"); !ok {
		return nil
	}
	res, err := o.Runner.Run(ctx, proc.Command{
		Name: "aapt", Args: []string{"dump", "badging", a.Path},
	})
	if err != nil || !res.Ok() {
		return nil
	}
	var info []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package:") || strings.HasPrefix(line, "application-label:") ||
			strings.HasPrefix(line, "sdkVersion:") || strings.HasPrefix(line, "targetSdkVersion:") {
			info = append(info, line)
		}
	}
	return info
}

// writeMetadata emits apk-info-{timestamp}.json into the builds directory.
func (o *Optimizer) writeMetadata(a domain.BuildArtifact) error {
	meta := domain.PackageMetadata{
		BuildTime:   o.Now().UTC().Format(time.RFC3339),
		APKPath:     a.Path,
		APKSize:     a.SizeBytes,
		PackageInfo: a.PackageInfo,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return domain.Fail(domain.AlignError, stageName, err)
	}
	// one record per artifact; the timestamp alone collides when both
	// artifacts finalize within the same second
	name := fmt.Sprintf("apk-info-%s-%s.json", o.Now().UTC().Format("20060102150405"), a.Kind)
	path := filepath.Join(o.Config.BuildsDir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return domain.Fail(domain.AlignError, stageName, err)
	}
	o.Log.Debugf("metadata written to %s", path)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
