// Package matcherr defines the error taxonomy used across the match engine.
//
// Each kind maps to one of the error-handling policies in the engine design:
// some abort a single trial, some abort the whole batch, some (unknown
// field, unknown diagnosis) are not errors at all and never reach this
// package.
package matcherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the recovery policy it carries.
type Kind string

const (
	// KindInvalidSchema marks a trial whose match-tree payload the builder
	// rejected. The trial is skipped; the rest of the batch proceeds.
	KindInvalidSchema Kind = "invalid_schema"

	// KindMalformedAge marks an unparseable age predicate. The trial is
	// skipped.
	KindMalformedAge Kind = "malformed_age"

	// KindStoreTransient marks a failed store round-trip that is expected to
	// succeed on a later batch run. The current trial's sink partition is
	// left untouched.
	KindStoreTransient Kind = "store_transient"

	// KindStorePermanent marks a failed sink write with no expectation of
	// recovery. Fatal for the batch.
	KindStorePermanent Kind = "store_permanent"

	// KindInvariant marks an internal invariant violation (e.g. an AND/OR
	// node built with zero children). Fatal for the batch.
	KindInvariant Kind = "invariant_violation"
)

// MatchError is the engine's typed error, carrying enough context to decide
// whether a trial or the whole batch should be aborted.
type MatchError struct {
	Kind       Kind
	ProtocolNo string
	Message    string
	Err        error
}

func (e *MatchError) Error() string {
	if e.ProtocolNo != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.ProtocolNo, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *MatchError) Unwrap() error { return e.Err }

// Fatal reports whether this error must abort the entire batch rather than
// just the trial it occurred in.
func (e *MatchError) Fatal() bool {
	return e.Kind == KindStorePermanent || e.Kind == KindInvariant
}

func New(kind Kind, protocolNo, message string, cause error) *MatchError {
	return &MatchError{Kind: kind, ProtocolNo: protocolNo, Message: message, Err: cause}
}

func InvalidSchema(protocolNo, message string, cause error) *MatchError {
	return New(KindInvalidSchema, protocolNo, message, cause)
}

func MalformedAge(protocolNo, message string, cause error) *MatchError {
	return New(KindMalformedAge, protocolNo, message, cause)
}

func StoreTransient(protocolNo, message string, cause error) *MatchError {
	return New(KindStoreTransient, protocolNo, message, cause)
}

func StorePermanent(protocolNo, message string, cause error) *MatchError {
	return New(KindStorePermanent, protocolNo, message, cause)
}

func Invariant(protocolNo, message string, cause error) *MatchError {
	return New(KindInvariant, protocolNo, message, cause)
}

// As is a thin wrapper around errors.As for the common case of recovering a
// *MatchError from a wrapped error chain.
func As(err error) (*MatchError, bool) {
	var me *MatchError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
