// Package rterrors defines the typed error taxonomy shared by every
// component of the container runtime. Each Kind maps to a distinct
// exit/log signal at the CLI boundary and tells the orchestrator whether
// the failure should trigger a rollback.
package rterrors

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error. See §7 of the design for the mapping
// from each kind to rollback/exit-code behavior.
type Kind int

const (
	Validation Kind = iota
	Permission
	Resource
	Filesystem
	Network
	Cgroup
	Process
	Dependency
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case Permission:
		return "PermissionError"
	case Resource:
		return "ResourceError"
	case Filesystem:
		return "FilesystemError"
	case Network:
		return "NetworkError"
	case Cgroup:
		return "CgroupError"
	case Process:
		return "ProcessError"
	case Dependency:
		return "DependencyError"
	default:
		return "UnknownError"
	}
}

// Rollback reports whether an error of this kind should trigger the
// orchestrator's rollback stack unwind.
func (k Kind) Rollback() bool {
	switch k {
	case Filesystem, Network, Cgroup:
		return true
	default:
		return false
	}
}

// ExitCode returns the process exit code associated with this kind,
// per the CLI surface's exit-code table.
func (k Kind) ExitCode() int {
	switch k {
	case Validation, Resource:
		return 1
	case Permission:
		return 2
	case Dependency:
		return 127
	case Process:
		return 126
	default:
		return 1
	}
}

// Error is a typed error carrying its Kind, the offending Input (when
// applicable), and a wrapped underlying cause.
type Error struct {
	Kind  Kind
	Op    string
	Input string
	Err   error
}

func (e *Error) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s: %s: %q: %v", e.Kind, e.Op, e.Input, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Hint returns a short remediation hint selected by error kind, printed
// alongside every user-visible failure.
func (e *Error) Hint() string {
	switch e.Kind {
	case Validation:
		return "check the name/resource limits against the documented bounds"
	case Permission:
		return "re-run as root, or with --rootless if user namespaces are configured"
	case Resource:
		return "free up IP addresses, disk space, or memory and retry"
	case Filesystem:
		return "check that the containers base directory is writable"
	case Network:
		return "check that the ip command and netns support are available"
	case Cgroup:
		return "check that the cgroup hierarchy is mounted and writable"
	case Process:
		return "the container was marked failed; delete or re-run it"
	case Dependency:
		return "install the missing external tool and retry"
	default:
		return ""
	}
}

// New builds an *Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error from a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithInput attaches the offending input string to the error and returns it.
func (e *Error) WithInput(input string) *Error {
	e.Input = input
	return e
}

// As reports whether err wraps an *Error of the given kind.
func As(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it wraps an *Error, and ok=true.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
