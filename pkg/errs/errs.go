// Package errs defines Strata's error taxonomy: a small set of typed kinds
// callers can branch on via errors.Is, plus enough context (key, op,
// underlying cause) for diagnostics. Every fallible operation in this
// repository returns one of these rather than a bare error or a panic.
package errs

import (
	"errors"
	"fmt"

	"strata/pkg/types"
)

// Kind enumerates the error taxonomy from spec §7.
type Kind int

const (
	// NotFound: key/run/collection absent.
	NotFound Kind = iota
	// InvalidKey: validation failure (empty, NUL, reserved prefix, too long).
	InvalidKey
	// ConstraintViolation: invariant breach (monotonicity, size limits,
	// invalid state transition).
	ConstraintViolation
	// Conflict: one of {ReadWrite, WriteWrite, Cas}.
	Conflict
	// InvalidState: operation on a non-Active transaction, closing the
	// default run, etc.
	InvalidState
	// HistoryTrimmed: requested version older than the retention horizon.
	HistoryTrimmed
	// Corruption: WAL/manifest/snapshot CRC failure.
	Corruption
	// StorageError: I/O, disk-full, codec mismatch.
	StorageError
	// Overflow: numeric overflow on incr or the version counter.
	Overflow
	// Internal: invariant failure indicating a bug.
	Internal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidKey:
		return "InvalidKey"
	case ConstraintViolation:
		return "ConstraintViolation"
	case Conflict:
		return "Conflict"
	case InvalidState:
		return "InvalidState"
	case HistoryTrimmed:
		return "HistoryTrimmed"
	case Corruption:
		return "Corruption"
	case StorageError:
		return "StorageError"
	case Overflow:
		return "Overflow"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// ConflictKind distinguishes the three OCC conflict shapes.
type ConflictKind int

const (
	ReadWrite ConflictKind = iota
	WriteWrite
	Cas
)

func (c ConflictKind) String() string {
	switch c {
	case ReadWrite:
		return "ReadWrite"
	case WriteWrite:
		return "WriteWrite"
	case Cas:
		return "Cas"
	default:
		return "Unknown"
	}
}

// Error is Strata's typed error. It implements error and Unwrap, so callers
// can use errors.Is(err, errs.KindSentinel(errs.NotFound)) — via the Is method below — or
// errors.As to recover the full struct.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "storage.put", "txn.commit".
	Op string
	// Key, when non-nil, identifies the key the error concerns.
	Key *types.Key
	// Conflicts carries the conflicting key list for Kind == Conflict.
	Conflicts []types.Key
	// ConflictKind distinguishes ReadWrite/WriteWrite/Cas when Kind == Conflict.
	ConflictKind ConflictKind
	// Reason is a short human-readable explanation.
	Reason string
	// Err wraps an underlying cause, if any (I/O errors, CRC mismatches).
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Key != nil {
		msg += fmt.Sprintf(" (key=%x)", e.Key.Bytes())
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, KindSentinel(K)) work by comparing Kind, so callers
// never need to type-assert to *Error just to branch on kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a bare Error of the given kind.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithKey attaches a key to an Error (builder-style, returns a new pointer
// so concurrent callers never mutate a shared sentinel).
func (e *Error) WithKey(k types.Key) *Error {
	cp := *e
	cp.Key = &k
	return &cp
}

// NewConflict builds a Conflict error carrying the conflicting keys.
func NewConflict(op string, ck ConflictKind, keys []types.Key) *Error {
	return &Error{Kind: Conflict, Op: op, ConflictKind: ck, Conflicts: keys}
}

// KindSentinel returns a minimal *Error usable only as an errors.Is target:
// errors.Is(err, errs.KindSentinel(errs.NotFound)).
func KindSentinel(k Kind) *Error { return &Error{Kind: k} }

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
