package domain

import "fmt"

// ErrorKind names the fatal failure classes of the pipeline. Every stage
// either succeeds (possibly with advisory warnings) or fails with exactly
// one of these.
type ErrorKind string

const (
	ConfigError       ErrorKind = "ConfigError"
	DependencyError   ErrorKind = "DependencyError"
	VersionError      ErrorKind = "VersionError"
	KeystoreError     ErrorKind = "KeystoreError"
	TestError         ErrorKind = "TestError"
	BuildError        ErrorKind = "BuildError"
	SigningError      ErrorKind = "SigningError"
	VerificationError ErrorKind = "VerificationError"
	AlignError        ErrorKind = "AlignError"
	PrereqError       ErrorKind = "PrereqError"
)

// StageError is a fatal stage failure. It carries the taxonomy kind so the
// controller and tests can match on it with errors.As.
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s in %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fail wraps err as a fatal StageError of the given kind.
func Fail(kind ErrorKind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// Failf is Fail with a formatted message.
func Failf(kind ErrorKind, stage, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}
