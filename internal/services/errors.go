package services

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of an account operation.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindConflict
	KindValidationFailed
	KindUnauthorized
	KindNotFound
	KindInvalidOrExpiredToken
	KindUploadFailed
	KindMailFailed
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindConflict:
		return "Conflict"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindUnauthorized:
		return "Unauthorized"
	case KindNotFound:
		return "NotFound"
	case KindInvalidOrExpiredToken:
		return "InvalidOrExpiredToken"
	case KindUploadFailed:
		return "UploadFailed"
	case KindMailFailed:
		return "MailFailed"
	default:
		return "Internal"
	}
}

const internalMessage = "Something went wrong. Please try again later."

// Error is returned by every AccountService operation. Message is safe to
// show to the client; Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	return internalMessage
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func internalError(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: internalMessage, Err: fmt.Errorf("%s: %w", op, cause)}
}
