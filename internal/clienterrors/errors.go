// Package clienterrors defines the single error sum type every public
// client operation returns, implementing the taxonomy of spec.md §7.
// Each Error carries a Kind, an optional wrapped cause, and structured
// fields (op_id, SAP prefix, elders attempted, ...) for diagnostics.
package clienterrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy of spec.md §7. It is not a Go error
// type itself — Error wraps a Kind with context.
type Kind int

const (
	// ConnectionLost: transport could not deliver. peerpool.SendOnStream
	// returns it on the first failed dial or stream operation; it does not
	// reconnect and retry before returning.
	ConnectionLost Kind = iota
	// InsufficientElders: fewer than the required elders were reachable.
	InsufficientElders
	// UnknownSectionKey: the network does not recognise the signing key.
	UnknownSectionKey
	// NetworkKnowledgeStale: AE loops exceeded max_retries.
	NetworkKnowledgeStale
	// CmdAckValidationTimeout: no quorum of acks within budget.
	CmdAckValidationTimeout
	// DataNotFound: no replica held the requested data after all retries.
	DataNotFound
	// InsufficientSpentProofShares: fewer than T shares returned.
	InsufficientSpentProofShares
	// InvalidResponse: a peer's response failed signature/structure checks.
	InvalidResponse
	// DataTooLarge: local pre-check on upload_size_limit failed.
	DataTooLarge
	// PermissionDenied: register or spentbook refused the op by policy.
	PermissionDenied
	// Cancelled: operation aborted by caller or session shutdown.
	Cancelled
)

// String renders the Kind as the taxonomy name used in spec.md §7.
func (k Kind) String() string {
	switch k {
	case ConnectionLost:
		return "ConnectionLost"
	case InsufficientElders:
		return "InsufficientElders"
	case UnknownSectionKey:
		return "UnknownSectionKey"
	case NetworkKnowledgeStale:
		return "NetworkKnowledgeStale"
	case CmdAckValidationTimeout:
		return "CmdAckValidationTimeout"
	case DataNotFound:
		return "DataNotFound"
	case InsufficientSpentProofShares:
		return "InsufficientSpentProofShares"
	case InvalidResponse:
		return "InvalidResponse"
	case DataTooLarge:
		return "DataTooLarge"
	case PermissionDenied:
		return "PermissionDenied"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the single error sum type returned by every public client
// operation (spec.md §7 "User-visible behaviour": "every public operation
// returns a result carrying ... exactly one error kind from the
// taxonomy").
type Error struct {
	Kind   Kind
	Msg    string
	Cause  error
	Fields map[string]any
}

// New builds an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind, preserving cause in the chain.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithField attaches a structured diagnostic field and returns e for
// chaining, e.g. err.WithField("op_id", opID).WithField("prefix", p).
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 4)
	}
	e.Fields[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, clienterrors.New(clienterrors.DataNotFound, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsAERecoverable reports whether kind is one of the transport/AE-level
// kinds that spec.md §7 says "are never fatal at the session level: they
// trigger automatic retry" within the configured budget, rather than being
// surfaced immediately.
func IsAERecoverable(kind Kind) bool {
	switch kind {
	case ConnectionLost, UnknownSectionKey, NetworkKnowledgeStale, InsufficientElders:
		return true
	default:
		return false
	}
}
