package store

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeMalformed indicates a stored payload or key could not be decoded,
	// or the stored data violates a structural invariant.
	CodeMalformed ErrorCode = "MALFORMED_DATA"

	// CodeUnavailable indicates the backend failed to read or write.
	CodeUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// Error is returned by every store operation that fails.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the failing operation ("get", "put", "delete", "keys", ...).
	Op string

	// Table names the table, when known.
	Table string

	// Key is the affected key, when known.
	Key string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Table != "" && e.Key != "":
		return fmt.Sprintf("%s: %s %s/%s: %v", e.Code, e.Op, e.Table, e.Key, e.Err)
	case e.Table != "":
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Op, e.Table, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Malformed builds a CodeMalformed error.
func Malformed(op, table, key string, err error) *Error {
	return &Error{Code: CodeMalformed, Op: op, Table: table, Key: key, Err: err}
}

// Unavailable builds a CodeUnavailable error.
func Unavailable(op, table, key string, err error) *Error {
	return &Error{Code: CodeUnavailable, Op: op, Table: table, Key: key, Err: err}
}

// IsMalformed reports whether err is (or wraps) a CodeMalformed error.
func IsMalformed(err error) bool {
	return hasCode(err, CodeMalformed)
}

// IsUnavailable reports whether err is (or wraps) a CodeUnavailable error.
func IsUnavailable(err error) bool {
	return hasCode(err, CodeUnavailable)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
