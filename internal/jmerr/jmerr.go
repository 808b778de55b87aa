// Package jmerr defines the error kinds the Jobmon core returns to its
// callers (spec §7). A Kind is a classification, not a Go type hierarchy:
// every error the API surfaces carries exactly one Kind and a
// human-readable Detail.
package jmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of HTTP status mapping and
// retry policy.
type Kind string

const (
	KindInvalidTransition  Kind = "InvalidTransition"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindAuthorizationDenied Kind = "AuthorizationDenied"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindIntegrationError   Kind = "IntegrationError"
	KindSchemaViolation    Kind = "SchemaViolation"
)

// Error is the structured error every Jobmon component returns.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, detail string, wrapped error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: wrapped}
}

// InvalidTransition builds a KindInvalidTransition error. Callers MUST
// NOT retry (spec §4.2's failure semantics).
func InvalidTransition(detail string) *Error { return newErr(KindInvalidTransition, detail, nil) }

// NotFound builds a KindNotFound error.
func NotFound(detail string) *Error { return newErr(KindNotFound, detail, nil) }

// Conflict builds a KindConflict error (lock timeout / concurrent
// unique violation). Retryable by the caller.
func Conflict(detail string, err error) *Error { return newErr(KindConflict, detail, err) }

// AuthorizationDenied builds a KindAuthorizationDenied error.
func AuthorizationDenied(detail string) *Error { return newErr(KindAuthorizationDenied, detail, nil) }

// Unauthenticated builds a KindUnauthenticated error.
func Unauthenticated(detail string) *Error { return newErr(KindUnauthenticated, detail, nil) }

// IntegrationError builds a KindIntegrationError error for unclassified
// cluster-plugin failures.
func IntegrationError(detail string, err error) *Error { return newErr(KindIntegrationError, detail, err) }

// SchemaViolation builds a KindSchemaViolation error for malformed
// request bodies.
func SchemaViolation(detail string, err error) *Error { return newErr(KindSchemaViolation, detail, err) }

// As extracts a *Error from err, mirroring errors.As without forcing
// every call site to declare a local var.
func As(err error) (*Error, bool) {
	var je *Error
	ok := errors.As(err, &je)
	return je, ok
}
