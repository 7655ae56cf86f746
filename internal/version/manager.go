// Package version owns the monotonic release version record: the semver
// bump rules, the version.json snapshot and the gradle descriptor fields.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
)

const (
	recordName = "version.json"
	stageName  = "version"
)

// seed is the record assumed for a fresh tree; the first bump yields
// 1.0.1 / build 1.
var seed = domain.VersionRecord{Version: "1.0.0", VersionCode: 0}

// Manager reads, bumps and persists the VersionRecord.
type Manager struct {
	Config *config.Config
	Runner proc.Runner
	Now    func() time.Time
}

func NewManager(cfg *config.Config, runner proc.Runner) *Manager {
	return &Manager{Config: cfg, Runner: runner, Now: time.Now}
}

func (m *Manager) recordPath() string {
	return filepath.Join(m.Config.ProjectRoot, recordName)
}

// Current returns the persisted record, or the seed if none exists.
func (m *Manager) Current() (domain.VersionRecord, error) {
	data, err := os.ReadFile(m.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return seed, nil
		}
		return domain.VersionRecord{}, domain.Fail(domain.VersionError, stageName, err)
	}
	var rec domain.VersionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.VersionRecord{}, domain.Failf(domain.VersionError, stageName, "parse %s: %v", recordName, err)
	}
	return rec, nil
}

// Bump computes the next version for kind, rewrites the gradle descriptor
// fields, and persists the new record. The build number always advances by
// exactly 1. The record is never rolled back by later stage failures.
func (m *Manager) Bump(ctx context.Context, kind BumpKind) (domain.VersionRecord, error) {
	cur, err := m.Current()
	if err != nil {
		return domain.VersionRecord{}, err
	}
	sv, err := Parse(cur.Version)
	if err != nil {
		return domain.VersionRecord{}, domain.Fail(domain.VersionError, stageName, err)
	}
	next := domain.VersionRecord{
		Version:     sv.Bump(kind).String(),
		VersionCode: cur.VersionCode + 1,
		BuildTime:   m.Now().UTC().Format(time.RFC3339),
		GitCommit:   m.sourceRevision(ctx),
	}

	if err := m.patchDescriptor(next); err != nil {
		return domain.VersionRecord{}, err
	}
	if err := m.write(next); err != nil {
		return domain.VersionRecord{}, err
	}
	return next, nil
}

func (m *Manager) write(rec domain.VersionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return domain.Fail(domain.VersionError, stageName, err)
	}
	if err := os.WriteFile(m.recordPath(), append(data, '\n'), 0o644); err != nil {
		return domain.Failf(domain.VersionError, stageName, "write %s: %v", recordName, err)
	}
	return nil
}

// sourceRevision asks git for HEAD; "unknown" when unavailable.
func (m *Manager) sourceRevision(ctx context.Context) string {
	if _, ok := m.Runner.LookPath("git"); !ok {
		return "unknown"
	}
	res, err := m.Runner.Run(ctx, proc.Command{
		Name: "git",
		Args: []string{"rev-parse", "--short", "HEAD"},
		Dir:  m.Config.ProjectRoot,
	})
	if err != nil || !res.Ok() {
		return "unknown"
	}
	rev := strings.TrimSpace(res.Stdout)
	if rev == "" {
		return "unknown"
	}
	return rev
}

// DescriptorPath is the gradle build descriptor carrying versionCode and
// versionName.
func (m *Manager) DescriptorPath() string {
	return filepath.Join(m.Config.AndroidDir, "app", "build.gradle")
}

// patchDescriptor rewrites the versionCode and versionName fields in the
// gradle descriptor, preserving everything else byte for byte. Fields are
// located by structured line lookup, not blind substitution, so unrelated
// descriptor content cannot be corrupted.
func (m *Manager) patchDescriptor(rec domain.VersionRecord) error {
	path := m.DescriptorPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Failf(domain.VersionError, stageName, "build descriptor %s: %v", path, err)
	}

	lines := strings.Split(string(data), "\n")
	var patchedCode, patchedName bool
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		switch {
		case strings.HasPrefix(trimmed, "versionCode ") && !patchedCode:
			lines[i] = fmt.Sprintf("%sversionCode %d", indent, rec.VersionCode)
			patchedCode = true
		case strings.HasPrefix(trimmed, "versionName ") && !patchedName:
			lines[i] = fmt.Sprintf("%sversionName %q", indent, rec.Version)
			patchedName = true
		}
	}
	if !patchedCode || !patchedName {
		return domain.Failf(domain.VersionError, stageName,
			"versionCode/versionName fields not found in %s", path)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return domain.Fail(domain.VersionError, stageName, err)
	}
	return nil
}
