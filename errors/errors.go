// Package errors provides error classification and the standard error values
// shared by barnowl components.
//
// Errors fall into three classes. Transient errors may succeed if the
// operation is repeated (a partial frame, a dropped serial link). Invalid
// errors are caused by bad input and are dropped without retry (a corrupt
// frame). Fatal errors stop the component that produced them.
//
// Wrapping follows the pattern "component.method: action failed: cause":
//
//	if err := port.Open(); err != nil {
//	    return errors.WrapTransient(err, "serial-input", "Start", "open port")
//	}
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
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

// Component lifecycle errors
var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")
)

// Transport errors
var (
	ErrNoConnection   = errors.New("no connection available")
	ErrConnectionLost = errors.New("connection lost")
	ErrDeviceClosed   = errors.New("device closed")
	ErrCircuitOpen    = errors.New("circuit breaker open")
)

// Framing errors. ErrFrameTooShort is the only retryable one: the decoder
// waits for more bytes. The rest cause the offending bytes to be discarded.
var (
	ErrFrameTooShort        = errors.New("frame too short")
	ErrFrameTooLong         = errors.New("frame too long")
	ErrUnknownPacket        = errors.New("unknown packet type")
	ErrInvalidReceiverCount = errors.New("invalid receiver count")
	ErrOffsetSequence       = errors.New("receiver offsets not strictly increasing")
)

// Data errors
var (
	ErrInvalidData    = errors.New("invalid data format")
	ErrParsingFailed  = errors.New("parsing failed")
	ErrNoConversion   = errors.New("no identifier conversion rule")
	ErrUnknownPayload = errors.New("unknown payload identity")
)

// Configuration errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ErrMaxRetriesExceeded is returned by retry loops that gave up.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

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

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrFrameTooShort) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "temporary", "connection reset", "unavailable", "busy"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
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

	return errors.Is(err, ErrFrameTooLong) ||
		errors.Is(err, ErrUnknownPacket) ||
		errors.Is(err, ErrInvalidReceiverCount) ||
		errors.Is(err, ErrOffsetSequence) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrUnknownPayload)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrMaxRetriesExceeded)
}

// Classify returns the error class for an error. Unknown errors are treated
// as transient so callers with a retry policy get a chance to recover.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

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
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrapped, component, method, wrapped.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrapped, component, method, wrapped.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrapped, component, method, wrapped.Error())
}
