package qtbind

import (
	"fmt"
	"strings"
)

// Kind categorizes an Error. Errors compare equal under errors.Is when
// their kinds match.
type Kind string

const (
	KindInvalidHandle   Kind = "invalid_handle"
	KindStaleHandle     Kind = "stale_handle"
	KindBorrowed        Kind = "borrowed"
	KindUnknownClass    Kind = "unknown_class"
	KindUnknownMethod   Kind = "unknown_method"
	KindUnknownSignal   Kind = "unknown_signal"
	KindUnknownFunction Kind = "unknown_function"
	KindSignature       Kind = "signature"
	KindNilCallback     Kind = "nil_callback"
	KindTypeMismatch    Kind = "type_mismatch"
	KindRegistration    Kind = "registration"
	KindClosed          Kind = "closed"
	KindHost            Kind = "host"
)

var (
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrStaleHandle     = &Error{Kind: KindStaleHandle}
	ErrBorrowed        = &Error{Kind: KindBorrowed}
	ErrUnknownClass    = &Error{Kind: KindUnknownClass}
	ErrUnknownMethod   = &Error{Kind: KindUnknownMethod}
	ErrUnknownSignal   = &Error{Kind: KindUnknownSignal}
	ErrUnknownFunction = &Error{Kind: KindUnknownFunction}
	ErrSignature       = &Error{Kind: KindSignature}
	ErrNilCallback     = &Error{Kind: KindNilCallback}
	ErrTypeMismatch    = &Error{Kind: KindTypeMismatch}
	ErrRegistration    = &Error{Kind: KindRegistration}
	ErrClosed          = &Error{Kind: KindClosed}
	ErrHost            = &Error{Kind: KindHost}
)

// Error is the structured error returned by the runtime. Function names the
// flat function, class or method the failure belongs to, when known.
type Error struct {
	Cause    error
	Kind     Kind
	Function string
	Detail   string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Kind))
	if e.Function != "" {
		b.WriteString(" in ")
		b.WriteString(e.Function)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, function string, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Function: function, Detail: detail}
}

// withFunction returns err annotated with the flat function it surfaced
// through, unless it already names one.
func withFunction(err error, function string) error {
	if e, ok := err.(*Error); ok && e.Function == "" {
		c := *e
		c.Function = function
		return &c
	}
	return err
}
