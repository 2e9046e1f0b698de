// Package hyveerr implements the error taxonomy of spec §7: a small set of
// kinds that every subsystem classifies its errors into, so the bridge can
// map them onto wire status codes without subsystem-specific knowledge.
package hyveerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry policy purposes.
type Kind int

const (
	// InvalidArgument: malformed PeerId, ULID, content hash length, topic
	// containing '/'. Reported to the caller; never retried.
	InvalidArgument Kind = iota
	// InvalidState: subscriber fell behind, use-after-close on a stream,
	// drop-of-reply-port. Reported only if the caller is still listening.
	InvalidState
	// Unavailable: a feature compiled out, e.g. neighbour discovery on a
	// platform without the side-channel helper.
	Unavailable
	// Transient: side-channel send failure, overlay timeout. Retried per
	// policy, surfaced to the caller only after the retry budget is spent.
	Transient
	// Integrity: content hash mismatch, netlink error or payload type
	// mismatch. Never retried.
	Integrity
	// Internal: lock poisoning, channel-closed-to-actor-loop. Logged at
	// error level; reported to the caller as "internal".
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case InvalidState:
		return "invalid_state"
	case Unavailable:
		return "unavailable"
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a hyveerr-classified error wrapping an underlying cause.
type Error struct {
	Kind Kind
	Op   string // short operation name, e.g. "dht.put_record"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message in place of a wrapped error.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, defaulting to Internal if err does not
// carry one (a programming error elsewhere, not a caller mistake).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Retryable reports whether err's kind is Transient, the only kind the
// sub-actor retry policies (spec §4.2, §4.3) act on.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}
