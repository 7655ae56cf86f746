// Package prereq checks that the tools and project files the pipeline
// depends on are present before any stage runs. Required items gate the
// run; optional items only disable features.
package prereq

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"droidship/internal/config"
	"droidship/internal/proc"
)

// Finding is one checked item.
type Finding struct {
	Name     string `json:"name"`
	Detail   string `json:"detail,omitempty"`
	Required bool   `json:"required"`
	OK       bool   `json:"ok"`
}

// Report is the full prerequisite picture for a project.
type Report struct {
	Findings     []Finding `json:"findings"`
	CloudEnabled bool      `json:"cloud_enabled"`
}

// MissingRequired lists the findings that must block the run.
func (r Report) MissingRequired() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Required && !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// Checker inspects the toolchain and project layout.
type Checker struct {
	Config *config.Config
	Runner proc.Runner
}

func NewChecker(cfg *config.Config, runner proc.Runner) *Checker {
	return &Checker{Config: cfg, Runner: runner}
}

// Check collects every finding. It never fails; callers decide fatality
// from MissingRequired.
func (c *Checker) Check(ctx context.Context) Report {
	var r Report

	r.Findings = append(r.Findings,
		c.tool(ctx, "npm", "package manager", true),
		c.tool(ctx, "java", "toolchain runtime", true),
		c.tool(ctx, "keytool", "keystore tool", true),
		c.file(c.Config.GradleWrapper(), "build wrapper script", true),
		c.file(filepath.Join(c.Config.ProjectRoot, "package.json"), "project manifest", true),
		c.dir(c.Config.AndroidDir, "native project directory", true),
		c.sdk(),
		c.tool(ctx, "adb", "device bridge (instrumentation tests)", false),
		c.cloud(),
	)

	for _, f := range r.Findings {
		if f.Name == "cloud" {
			r.CloudEnabled = f.OK
		}
	}
	return r
}

func (c *Checker) tool(ctx context.Context, name, detail string, required bool) Finding {
	f := Finding{Name: name, Detail: detail, Required: required}
	if _, ok := c.Runner.LookPath(name); !ok {
		return f
	}
	f.OK = true
	if res, err := c.Runner.Run(ctx, proc.Command{Name: name, Args: []string{"--version"}}); err == nil && res.Ok() {
		if v := firstLine(res.Stdout); v != "" {
			f.Detail = v
		}
	}
	return f
}

func (c *Checker) file(path, detail string, required bool) Finding {
	info, err := os.Stat(path)
	return Finding{Name: filepath.Base(path), Detail: detail, Required: required,
		OK: err == nil && !info.IsDir()}
}

func (c *Checker) dir(path, detail string, required bool) Finding {
	info, err := os.Stat(path)
	return Finding{Name: filepath.Base(path), Detail: detail, Required: required,
		OK: err == nil && info.IsDir()}
}

func (c *Checker) sdk() Finding {
	f := Finding{Name: "sdk", Detail: "mobile SDK location", Required: true}
	if c.Config.SDKRoot == "" {
		f.Detail = "SDK root not configured"
		return f
	}
	if info, err := os.Stat(c.Config.SDKRoot); err != nil || !info.IsDir() {
		f.Detail = "SDK root missing: " + c.Config.SDKRoot
		return f
	}
	f.OK = true
	f.Detail = c.Config.SDKRoot
	return f
}

// cloud reports whether upload credentials are complete. Never required;
// a miss just disables the upload stage.
func (c *Checker) cloud() Finding {
	f := Finding{Name: "cloud", Required: false, OK: c.Config.CloudEnabled()}
	if f.OK {
		f.Detail = "bucket " + c.Config.CloudBucket
	} else {
		f.Detail = "cloud upload disabled (endpoint/bucket/credentials incomplete)"
	}
	return f
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
