// Package core holds error taxonomy and small types shared across the
// engine's components.
package core

import "errors"

// Sentinel errors for the engine's error taxonomy (spec §7). Components
// wrap these with fmt.Errorf("%w: ...") and callers test with errors.Is.
var (
	ErrNotFound          = errors.New("not_found")
	ErrInvalidArgument   = errors.New("invalid_argument")
	ErrCanceled          = errors.New("canceled")
	ErrTimeout           = errors.New("timeout")
	ErrNonzeroExit       = errors.New("nonzero_exit")
	ErrDependencyMissing = errors.New("dependency_missing")
	ErrStubRejected      = errors.New("stub_rejected")
	ErrConflict          = errors.New("conflict")
)

// NotFound wraps ErrNotFound with context, e.g. NotFound("video", path).
func NotFound(what, detail string) error {
	return wrap(ErrNotFound, what, detail)
}

// InvalidArgument wraps ErrInvalidArgument with context.
func InvalidArgument(what, detail string) error {
	return wrap(ErrInvalidArgument, what, detail)
}

// Timeout wraps ErrTimeout with context.
func Timeout(what, detail string) error {
	return wrap(ErrTimeout, what, detail)
}

// NonzeroExit wraps ErrNonzeroExit, detail is typically a stderr excerpt.
func NonzeroExit(what, detail string) error {
	return wrap(ErrNonzeroExit, what, detail)
}

// DependencyMissing wraps ErrDependencyMissing with context.
func DependencyMissing(what, detail string) error {
	return wrap(ErrDependencyMissing, what, detail)
}

// StubRejected wraps ErrStubRejected with context.
func StubRejected(what, detail string) error {
	return wrap(ErrStubRejected, what, detail)
}

// Conflict wraps ErrConflict with context.
func Conflict(what, detail string) error {
	return wrap(ErrConflict, what, detail)
}

func wrap(sentinel error, what, detail string) error {
	if detail == "" {
		return &taggedError{sentinel: sentinel, what: what}
	}
	return &taggedError{sentinel: sentinel, what: what, detail: detail}
}

type taggedError struct {
	sentinel error
	what     string
	detail   string
}

func (e *taggedError) Error() string {
	if e.detail == "" {
		return e.what + ": " + e.sentinel.Error()
	}
	return e.what + ": " + e.sentinel.Error() + ": " + e.detail
}

func (e *taggedError) Unwrap() error {
	return e.sentinel
}

// IsCanceled reports whether err represents a cooperative cancellation,
// distinguishing it from a genuine failure (spec §7 propagation policy).
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
