package repoerr

import (
	"errors"
	"fmt"
)

// Kind is a semantic error category, stable across storage backends and
// wrappers so callers can branch on it instead of matching message text.
type Kind string

const (
	NameExists       Kind = "nameExists"
	UnknownName      Kind = "unknownName"
	UnknownType      Kind = "unknownType"
	UnknownBag       Kind = "unknownBag"
	ContractExists   Kind = "contractExists"
	DocumentExists   Kind = "documentExists"
	MissingDocument  Kind = "missingDocument"
	ModifiedDocument Kind = "modifiedDocument"
	ContractInvalid  Kind = "contractInvalid"
	MessageExists    Kind = "messageExists"
	BagFull          Kind = "bagFull"
	LeaseExpired     Kind = "leaseExpired"
	NoBag            Kind = "noBag"
	StatusN          Kind = "statusN"
	ServerDown       Kind = "serverDown"
	MalformedRequest Kind = "malformedRequest"
	Unexpected       Kind = "unexpected"
)

// Error is the structured error every StorageMechanism layer, the
// DocumentRepository facade, and the RequestEngine raise and catch. It
// implements the standard error interface and Unwrap so errors.Is/As work
// across wrapped layers.
type Error struct {
	Kind      Kind
	Module    string
	Procedure string
	Params    map[string]any
	// Status carries the observed HTTP status for Kind == StatusN.
	Status int
	Cause  error
}

// Error renders a single-line, greppable description: kind, the
// module/procedure that raised it, and its parameters.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s.%s", e.Kind, e.Module, e.Procedure)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	for k, v := range e.Params {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, module, procedure string, params map[string]any) *Error {
	return &Error{Kind: kind, Module: module, Procedure: procedure, Params: params}
}

// Wrap builds an *Error that carries a lower-layer cause, per the
// propagation policy: catch, enrich with module/procedure/params, re-raise.
func Wrap(kind Kind, module, procedure string, params map[string]any, cause error) *Error {
	return &Error{Kind: kind, Module: module, Procedure: procedure, Params: params, Cause: cause}
}

// NewStatus builds a StatusN error for an unexpected remote HTTP status.
func NewStatus(status int, module, procedure string, params map[string]any) *Error {
	return &Error{Kind: StatusN, Module: module, Procedure: procedure, Params: params, Status: status}
}

// Is reports whether err is a *Error of the given Kind, unwrapping through
// any number of wrapping layers.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}
