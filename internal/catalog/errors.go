package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures across server, transport and client
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindUnauthorized    Kind = "Unauthorized"
	KindNotFound        Kind = "NotFound"
	KindForbidden       Kind = "Forbidden"
	KindVersionConflict Kind = "VersionConflict"
	KindNetwork         Kind = "NetworkError"
	KindUnexpected      Kind = "Unexpected"
)

// Error is the typed error carried by every catalog operation
type Error struct {
	Kind    Kind
	Message string
	// CurrentVersion is the stored version when Kind is KindVersionConflict
	CurrentVersion int
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// for wrapped errors with a different message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrVersionConflict = &Error{Kind: KindVersionConflict}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrUnexpected      = &Error{Kind: KindUnexpected}
)

// Errorf builds an *Error of the given kind
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Conflict builds the VersionConflict error for a stale declared version
func Conflict(declared, current int) *Error {
	return &Error{
		Kind:           KindVersionConflict,
		Message:        fmt.Sprintf("version conflict: declared %d, current %d", declared, current),
		CurrentVersion: current,
	}
}

// KindOf classifies err. Errors that are not *Error are Unexpected; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps a kind to its response code
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindVersionConflict:
		return http.StatusConflict
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindFromStatus is the inverse of HTTPStatus for responses read by clients
func KindFromStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusConflict, http.StatusPreconditionFailed:
		return KindVersionConflict
	default:
		return KindUnexpected
	}
}

// Retryable reports whether a failed write may succeed when replayed unchanged.
// Only transport failures qualify; the rest are terminal per request.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}
