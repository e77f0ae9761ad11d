package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Kind classifies every failure a store can report.
type Kind string

const (
	// KindServiceUnavailable means the connection or database is not ready.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindDuplicateKey means a write violated a uniqueness constraint.
	KindDuplicateKey Kind = "duplicate_key"
	// KindNotFound means an operation that requires a match matched nothing.
	KindNotFound Kind = "not_found"
	// KindOperationFailed means the driver or server reported a failure.
	KindOperationFailed Kind = "operation_failed"
	// KindUnexpected covers anything that was not recognized.
	KindUnexpected Kind = "unexpected"
)

// Sentinel values for errors.Is checks. Matching is by Kind only.
var (
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrDuplicateKey       = &Error{Kind: KindDuplicateKey}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrOperationFailed    = &Error{Kind: KindOperationFailed}
	ErrUnexpected         = &Error{Kind: KindUnexpected}
)

// Error is the only error type that leaves the store layer.
type Error struct {
	Kind       Kind
	Op         string
	Collection string
	Message    string
	Err        error
}

// NewError builds a classified store error.
func NewError(kind Kind, op, collection, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Collection: collection, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" && e.Collection != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Collection, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a store error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first store error in err's chain, or
// KindUnexpected when there is none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps a kind to the externally visible status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindDuplicateKey:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// translate converts a driver failure into a store error. It is the only
// place in the module that inspects driver error types.
func translate(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case mongo.IsDuplicateKeyError(err):
		return NewError(KindDuplicateKey, op, collection, "a document with this key already exists", err)
	case isDriverFailure(err):
		return NewError(KindOperationFailed, op, collection, fmt.Sprintf("database operation failed: %v", err), err)
	default:
		return NewError(KindUnexpected, op, collection, fmt.Sprintf("unexpected database error: %v", err), err)
	}
}

func isDriverFailure(err error) bool {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return true
	}
	var marshalErr mongo.MarshalError
	if errors.As(err, &marshalErr) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	return errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.Canceled)
}
