// Package errors defines the kernel's error taxonomy (spec.md §7) as a
// typed Kind plus a wrapping Error, built on github.com/pkg/errors the
// same way the teacher's go.mod carries pkg/errors for causal wrapping
// rather than ad-hoc fmt.Errorf chains.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy from spec.md §7.
type Kind int

const (
	OutOfMemory Kind = iota
	NoMailbox
	MisuseInInterrupt
	MisuseMailboxTimer
	MisuseMailboxWithSrc
	DuplicatePeer
	DuplicateTask
	ReservedName
	UnknownTarget
	TunnelDisabled
	PowerFailure
	PowerGiveUp
	MalformedEnvelope
	SizeMismatch
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "OutOfMemory"
	case NoMailbox:
		return "NoMailbox"
	case MisuseInInterrupt:
		return "MisuseInInterrupt"
	case MisuseMailboxTimer:
		return "MisuseMailboxTimer"
	case MisuseMailboxWithSrc:
		return "MisuseMailboxWithSrc"
	case DuplicatePeer:
		return "DuplicatePeer"
	case DuplicateTask:
		return "DuplicateTask"
	case ReservedName:
		return "ReservedName"
	case UnknownTarget:
		return "UnknownTarget"
	case TunnelDisabled:
		return "TunnelDisabled"
	case PowerFailure:
		return "PowerFailure"
	case PowerGiveUp:
		return "PowerGiveUp"
	case MalformedEnvelope:
		return "MalformedEnvelope"
	case SizeMismatch:
		return "SizeMismatch"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with context, propagated via errors.Wrap so the
// causal chain survives across the scheduler/router/mmap boundary.
type Error struct {
	Kind    Kind
	Context string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind with a formatted context string.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/context to an existing cause, preserving it via
// pkg/errors so %+v prints a stack where built with that support.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Context: fmt.Sprintf(format, args...),
		cause:   errors.WithStack(cause),
	}
}

// Is reports whether err is a kernel *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
