// Package nserr defines the typed error taxonomy every component in the
// namespace fabric raises, per spec.md §7.
package nserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error. Decorators (the cache overlay, the profiler)
// re-test Kind rather than matching on message text.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Exists
	Permission
	InvalidArgument
	InvalidToken
	IsDirectory
	NotDirectory
	TooManySymlinks
	IsCwd
	NoReplicas
	BackendUnavailable
	ApiVersionMismatch
	UnknownOption
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Exists:
		return "already exists"
	case Permission:
		return "permission denied"
	case InvalidArgument:
		return "invalid argument"
	case InvalidToken:
		return "invalid token"
	case IsDirectory:
		return "is a directory"
	case NotDirectory:
		return "not a directory"
	case TooManySymlinks:
		return "too many symlinks"
	case IsCwd:
		return "is the current working directory"
	case NoReplicas:
		return "no usable replica"
	case BackendUnavailable:
		return "backend unavailable"
	case ApiVersionMismatch:
		return "api version mismatch"
	case UnknownOption:
		return "unknown option"
	default:
		return "internal error"
	}
}

// Error is the concrete error type returned by every public operation.
// Value is the offending path, DN, pool name, etc., included in the message.
type Error struct {
	kind  Kind
	Value string
	cause error
}

func New(kind Kind, value string) *Error {
	return &Error{kind: kind, Value: value}
}

func Wrap(kind Kind, value string, cause error) *Error {
	return &Error{kind: kind, Value: value, cause: errors.WithStack(cause)}
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		if e.Value != "" {
			return fmt.Sprintf("%s: %s: %s", e.kind, e.Value, e.cause)
		}
		return fmt.Sprintf("%s: %s", e.kind, e.cause)
	}
	if e.Value != "" {
		return fmt.Sprintf("%s: %s", e.kind, e.Value)
	}
	return e.kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, defaulting to Internal for
// errors that did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}
