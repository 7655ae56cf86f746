// Package proc runs the external collaborators (npm, gradle, keytool,
// apksigner, zipalign, aapt, adb, git) behind one narrow interface so the
// pipeline can be exercised without any of them installed.
package proc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the parent environment
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Ok reports a clean zero exit.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner executes commands. The exec-backed implementation is Registry;
// tests substitute a Fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	// LookPath reports whether a tool is installed.
	LookPath(name string) (string, bool)
}

// Registry is the exec-backed Runner. It tracks every spawned process so
// the cleanup handler can reap stragglers after a fatal abort.
type Registry struct {
	mu     sync.Mutex
	active map[*exec.Cmd]struct{}
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[*exec.Cmd]struct{})}
}

func (r *Registry) track(cmd *exec.Cmd) {
	r.mu.Lock()
	r.active[cmd] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) untrack(cmd *exec.Cmd) {
	r.mu.Lock()
	delete(r.active, cmd)
	r.mu.Unlock()
}

// Run executes the command, blocking until it exits or ctx is cancelled.
// A non-zero exit is not an error; it is reported through Result so stages
// can decide fatality themselves. The returned error means the command
// could not be started or was killed by cancellation.
func (r *Registry) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, err
	}
	r.track(cmd)
	defer r.untrack(cmd)

	err := cmd.Wait()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

func (r *Registry) LookPath(name string) (string, bool) {
	p, err := exec.LookPath(name)
	return p, err == nil
}

// KillAll signals every still-tracked process. Called by the pipeline
// cleanup handler on fatal abort; normal completion leaves nothing to do.
func (r *Registry) KillAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for cmd := range r.active {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			n++
		}
		delete(r.active, cmd)
	}
	return n
}
