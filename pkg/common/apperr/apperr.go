package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindForbiddenTransition     Kind = "forbidden_transition"
	KindInvalidStatusTransition Kind = "invalid_status_transition"
	KindInvalidAckTransition    Kind = "invalid_ack_transition"
	KindNotFound                Kind = "not_found"
	KindValidation              Kind = "validation_error"
	KindGenerationFailure       Kind = "generation_failure"
)

// Error is the typed failure returned by every workflow component.
// Current and Attempted are set for transition errors.
type Error struct {
	Kind      Kind
	Message   string
	Current   string
	Attempted string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Current != "" || e.Attempted != "" {
		msg = fmt.Sprintf("%s (current=%s attempted=%s)", msg, e.Current, e.Attempted)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrForbiddenTransition     = &Error{Kind: KindForbiddenTransition}
	ErrInvalidStatusTransition = &Error{Kind: KindInvalidStatusTransition}
	ErrInvalidAckTransition    = &Error{Kind: KindInvalidAckTransition}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrGenerationFailure       = &Error{Kind: KindGenerationFailure}
)

func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbiddenTransition, Message: fmt.Sprintf(format, args...)}
}

func InvalidStatusTransition(current, attempted, reason string) *Error {
	return &Error{Kind: KindInvalidStatusTransition, Message: reason, Current: current, Attempted: attempted}
}

func InvalidAckTransition(current, attempted string) *Error {
	return &Error{
		Kind:      KindInvalidAckTransition,
		Message:   "acknowledgements move forward one step at a time",
		Current:   current,
		Attempted: attempted,
	}
}

func NotFound(entity string, id interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Generation(err error) *Error {
	return &Error{Kind: KindGenerationFailure, Message: "report generation failed", Err: err}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindForbiddenTransition:
		return http.StatusForbidden
	case KindInvalidStatusTransition, KindInvalidAckTransition, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
