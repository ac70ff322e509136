package dmdb

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind uint8

const (
	// KindConnection covers handle allocation, login, connection attribute
	// and connection loss failures. An established connection that reports
	// one is discarded and re-established on the next call.
	KindConnection Kind = iota + 1
	// KindPrepare is a statement preparation failure.
	KindPrepare
	// KindStatement covers execute, describe, fetch and get-data failures.
	KindStatement
	// KindParameter covers parameter conversion and bind failures.
	KindParameter
	// KindIndex is a column index of 0 or beyond the column count.
	KindIndex
	// KindInternal covers unsupported native types, encoding failures and
	// misuse of closed or superseded objects.
	KindInternal
	// KindFromValue is a value variant that does not fit the destination.
	KindFromValue
	// KindNoRows is returned by QueryRow when the query yields no row.
	KindNoRows
)

var kindNames = [...]string{
	KindConnection: "connection error",
	KindPrepare:    "prepare error",
	KindStatement:  "statement error",
	KindParameter:  "parameter error",
	KindIndex:      "index error",
	KindInternal:   "internal error",
	KindFromValue:  "from value error",
	KindNoRows:     "query returned no rows",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error makes a Kind usable as an errors.Is target:
//
//	if errors.Is(err, dmdb.KindIndex) { ... }
func (k Kind) Error() string { return "dmdb: " + k.String() }

// Error is the error type returned by every dmdb operation.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "exec" or "get column 3".
	Op string
	// Code is the native diagnostic code, 0 when none was available.
	Code int32
	// Msg is the diagnostic or error text.
	Msg string
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindNoRows {
		return "dmdb: query returned no rows"
	}
	s := "dmdb: " + e.Kind.String()
	if e.Op != "" {
		s += ": " + e.Op
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	} else if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Code != 0 {
		s += fmt.Sprintf(" (code %d)", e.Code)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind or another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

var (
	// ErrQueryReturnedNoRows is returned by QueryRow when no row matched.
	ErrQueryReturnedNoRows = &Error{Kind: KindNoRows}
	// ErrTxDone is returned by any operation on a finished transaction.
	ErrTxDone = errors.New("dmdb: transaction has already been committed or rolled back")
	// ErrClosed is returned by operations on a closed Conn.
	ErrClosed = &Error{Kind: KindConnection, Op: "use", Msg: "connection is closed"}
)

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or 0 when err is not a dmdb error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
