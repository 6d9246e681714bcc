package api

import (
	"errors"
	"fmt"
)

// Kind classifies every error the client core surfaces to its callers.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuthRejected        Kind = "auth_rejected"
	KindInProgress          Kind = "in_progress"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindNetwork             Kind = "network"
	KindInconsistentSession Kind = "inconsistent_session"
)

// Error is a classified failure. Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
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

// NewError builds a classified error without an underlying cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a classified error around an underlying cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from err, defaulting to KindNetwork for
// anything unclassified that crossed a network boundary.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindNetwork
}

// MessageOf returns the user-facing message, falling back to a generic one.
func MessageOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Something went wrong. Please try again."
}
