// Package chaterr holds the error taxonomy shared by every chat component.
package chaterr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindNotAParticipant     Kind = "NOT_A_PARTICIPANT"
	KindInvalidParticipants Kind = "INVALID_PARTICIPANTS"
	KindEmptyMessage        Kind = "EMPTY_MESSAGE"
	KindForbidden           Kind = "FORBIDDEN"
	KindPayloadTooLarge     Kind = "PAYLOAD_TOO_LARGE"
	KindUnsupportedType     Kind = "UNSUPPORTED_TYPE"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
	KindNotifierUnavailable Kind = "NOTIFIER_UNAVAILABLE"
	KindNotFound            Kind = "NOT_FOUND"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindDuplicateSubmission Kind = "DUPLICATE_SUBMISSION"
)

// Error is a classified chat failure. Two errors match under errors.Is when
// their kinds are equal, so the sentinels below work as comparison targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

var (
	ErrNotAParticipant     = &Error{Kind: KindNotAParticipant}
	ErrInvalidParticipants = &Error{Kind: KindInvalidParticipants}
	ErrEmptyMessage        = &Error{Kind: KindEmptyMessage}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrPayloadTooLarge     = &Error{Kind: KindPayloadTooLarge}
	ErrUnsupportedType     = &Error{Kind: KindUnsupportedType}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
	ErrNotifierUnavailable = &Error{Kind: KindNotifierUnavailable}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrDuplicateSubmission = &Error{Kind: KindDuplicateSubmission}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Store marks an infrastructure failure of the database layer. Errors that
// are already classified pass through untouched.
func Store(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindStoreUnavailable, Message: msg, Err: err}
}

func Notifier(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindNotifierUnavailable, Message: msg, Err: err}
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsTransient reports whether err is an infra failure that an idempotent
// read may retry.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindStoreUnavailable, KindNotifierUnavailable:
		return true
	}
	return false
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotAParticipant, KindForbidden:
		return fiber.StatusForbidden
	case KindInvalidParticipants, KindEmptyMessage, KindValidation:
		return fiber.StatusUnprocessableEntity
	case KindPayloadTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case KindUnsupportedType:
		return fiber.StatusUnsupportedMediaType
	case KindNotFound:
		return fiber.StatusNotFound
	case KindDuplicateSubmission:
		return fiber.StatusConflict
	case KindStoreUnavailable, KindNotifierUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
