// Package testutil builds throwaway project trees and configurations for
// the package test suites.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"droidship/internal/config"
	"droidship/internal/runlog"
)

// Gradle descriptor seeded into scaffolded projects.
const GradleDescriptor = `android {
    namespace "com.example.app"
    defaultConfig {
        applicationId "com.example.app"
        minSdkVersion 24
        versionCode 1
        versionName "1.0.0"
    }
}
`

// Scaffold creates a minimal project tree (manifest, native dir, wrapper,
// gradle descriptor) under a temp dir and returns its root.
func Scaffold(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	appDir := filepath.Join(root, "android", "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name":"app"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "android", "gradlew"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "build.gradle"), []byte(GradleDescriptor), 0o644))
	return root
}

// NewConfig resolves a Config for root with test defaults. Extra viper
// keys can be layered through set.
func NewConfig(t *testing.T, root string, set map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("app-name", "testapp")
	v.Set("sdk-root", filepath.Join(root, "sdk"))
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := config.Resolve(v, root)
	require.NoError(t, err)
	return cfg
}

// InstallBuildTools creates a fake build-tools revision with a zipalign
// binary and returns the tool path.
func InstallBuildTools(t *testing.T, cfg *config.Config, revision string) string {
	t.Helper()
	dir := filepath.Join(cfg.SDKRoot, "build-tools", revision)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tool := filepath.Join(dir, "zipalign")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755))
	return tool
}

// NewLogger opens a run log under the config's logs dir with the console
// echo silenced.
func NewLogger(t *testing.T, cfg *config.Config) *runlog.Logger {
	t.Helper()
	log, err := runlog.Open(filepath.Join(cfg.LogsDir, "test.log"), true)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	log.Console = nil
	return log
}

// WriteFile creates path (and parents) with contents.
func WriteFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
