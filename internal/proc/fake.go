package proc

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is a scripted Runner for tests. Responses are matched by command
// prefix ("name arg0 arg1 ..."); the longest matching prefix wins. Every
// invocation is recorded for assertions.
type Fake struct {
	mu        sync.Mutex
	responses map[string]func(Command) (Result, error)
	missing   map[string]bool
	Calls     []Command
}

func NewFake() *Fake {
	return &Fake{
		responses: make(map[string]func(Command) (Result, error)),
		missing:   make(map[string]bool),
	}
}

// On registers a scripted result for commands whose string form starts
// with prefix.
func (f *Fake) On(prefix string, res Result, err error) *Fake {
	return f.OnFunc(prefix, func(Command) (Result, error) { return res, err })
}

// OnFunc registers a scripted handler for commands matching prefix.
func (f *Fake) OnFunc(prefix string, fn func(Command) (Result, error)) *Fake {
	f.mu.Lock()
	f.responses[prefix] = fn
	f.mu.Unlock()
	return f
}

// WithoutTool makes LookPath report name as not installed.
func (f *Fake) WithoutTool(name string) *Fake {
	f.mu.Lock()
	f.missing[name] = true
	f.mu.Unlock()
	return f
}

func (f *Fake) Run(_ context.Context, c Command) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	var best string
	var fn func(Command) (Result, error)
	line := c.String()
	for prefix, h := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best, fn = prefix, h
		}
	}
	f.mu.Unlock()
	if fn == nil {
		// unscripted commands succeed quietly
		return Result{}, nil
	}
	return fn(c)
}

func (f *Fake) LookPath(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", false
	}
	return "/usr/bin/" + name, true
}

// CallCount returns how many recorded calls match prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}

// Err is a convenience for scripting start failures.
func Err(format string, args ...any) error { return fmt.Errorf(format, args...) }
