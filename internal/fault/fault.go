// Package fault defines the structured error records the core surfaces.
// Every error carries a kind (for exit-code mapping and retry policy), a
// message, an optional remediation hint, and the wrapped cause chain. The
// core never prints; the CLI layer renders these.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy and exit codes.
type Kind int

const (
	// KindUnknown is the zero value for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindPrecondition: vault missing, exclusions not configured, config
	// invalid. Never retried, surfaced immediately.
	KindPrecondition
	// KindTransient: embedder or LLM timeout/unavailability. Retried once
	// with a short back-off, then the caller degrades.
	KindTransient
	// KindData: unparseable header, unreadable file. Logged, note skipped.
	KindData
	// KindIntegrity: index/snapshot/learning store corrupted (checksum or
	// schema mismatch). The executor refuses to run.
	KindIntegrity
	// KindPartial: a plan ran but some moves failed.
	KindPartial
	// KindCancelled: cooperative cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindTransient:
		return "transient"
	case KindData:
		return "data"
	case KindIntegrity:
		return "integrity"
	case KindPartial:
		return "partial"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a structured error record.
type Error struct {
	Kind    Kind
	Message string
	Hint    string // remediation hint shown by the CLI, may be empty
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns a fault of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns a fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a fault of the given kind with err as the cause.
// A nil err yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithHint attaches a remediation hint and returns the same error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf walks the cause chain and returns the outermost fault kind.
// Context cancellation anywhere in the chain reports KindCancelled;
// an exceeded deadline reports KindTransient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// HintOf returns the first remediation hint found in the chain, if any.
func HintOf(err error) string {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return ""
		}
		if fe.Hint != "" {
			return fe.Hint
		}
		err = fe.Cause
	}
	return ""
}

// IsKind reports whether the chain contains a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Cause
	}
	return false
}
