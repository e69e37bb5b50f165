// Package errs defines the error taxonomy shared by the bindle stores, the
// bundle service, and the transports.
//
// Callers should branch on Kind rather than matching error strings. Use
// errors.As to extract *Error, or the IsKind/KindOf helpers.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	// KindNotFound reports an absent digest or id.
	KindNotFound Kind = "NotFound"
	// KindInvoiceNotFound reports an invoice that is absent or yanked. The two
	// cases are deliberately not distinguished.
	KindInvoiceNotFound Kind = "InvoiceNotFound"
	// KindConflict reports an invoice id already bound to different content.
	KindConflict Kind = "Conflict"
	// KindDigestMismatch reports uploaded bytes whose hash differs from the
	// declared digest.
	KindDigestMismatch Kind = "DigestMismatch"
	// KindValidation reports a malformed id, label, or an unexpected parcel.
	KindValidation Kind = "Validation"
	// KindStorage reports a failure of the underlying store. It is surfaced,
	// never retried here.
	KindStorage Kind = "Storage"
)

// Error is the structured error returned by every core operation.
//
// Op names the failing operation (e.g. "parcel.put"); Message is for humans.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is makes errors.Is match on Kind when the target is a bare *Error sentinel
// such as ErrInvoiceNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is. They carry only a Kind.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvoiceNotFound = &Error{Kind: KindInvoiceNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrDigestMismatch  = &Error{Kind: KindDigestMismatch}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrStorage         = &Error{Kind: KindStorage}
)

// New returns an *Error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Newf is New with a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping cause. A nil cause yields
// a plain New.
func Wrap(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return New(kind, op, msg)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
