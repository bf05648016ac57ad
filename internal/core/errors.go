// Package core holds the error taxonomy shared by all pipeline stages.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal error.
	KindUnknown Kind = iota
	// KindBadRequest marks a schema or range violation in a stage input.
	KindBadRequest
	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound
	// KindPipeline marks an invariant violation inside a stage. Always a bug.
	KindPipeline
	// KindExternal marks an unavailable or timed-out dependency
	// (database, vector store, embedding or model provider).
	KindExternal
	// KindGateBlocked marks a request stopped by a failed gate.
	KindGateBlocked
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E creates a new kinded error.
func E(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef creates a new kinded error with a formatted message.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, unwrapping as needed.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGateBlocked:
		return http.StatusUnprocessableEntity
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
