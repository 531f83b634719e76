// Package errors provides standardized error handling for the squawkbus
// broker. It defines the protocol and transport error taxonomy, error
// classification, and helper functions for consistent error wrapping
// across the codebase.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input; the offending
	// session is closed but the broker keeps running
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the broker
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for broker conditions
var (
	// Wire codec and framer errors
	ErrTruncated          = errors.New("read past end of frame")
	ErrInvalidEncoding    = errors.New("invalid encoding")
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")

	// Session errors
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrOutboundOverflow     = errors.New("outbound queue overflow")
	ErrTransport            = errors.New("transport error")
	ErrSessionClosed        = errors.New("session closed")

	// Configuration errors (fatal at startup)
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsSessionError reports whether an error should close only the offending
// session, leaving the broker and all other sessions running.
func IsSessionError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrInvalidEncoding) ||
		errors.Is(err, ErrUnknownMessageKind) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrOutboundOverflow) ||
		errors.Is(err, ErrTransport)
}

// IsFatal checks if an error is fatal and should stop the broker
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidEncoding) ||
		errors.Is(err, ErrUnknownMessageKind) ||
		errors.Is(err, ErrProtocolViolation)
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrTransport)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Is reports whether any error in err's tree matches target.
// Re-exported so callers need only this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's tree that matches target.
// Re-exported so callers need only this package.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
// Re-exported so callers need only this package.
func New(text string) error { return errors.New(text) }
