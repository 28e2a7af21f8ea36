// Package engine provides the descriptor model and the dispatch core of iamdeploy.
// It turns a declared entity (category, properties, defaults) into a positional
// operation invocation against a remote management target.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed on retry.
	// Invocation channel failures are classified transient because the core
	// cannot tell a dropped connection from a remote rejection.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: unknown category, type mismatch, malformed target address.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeInvalidArgument         = "INVALID_ARGUMENT"
	ErrCodeUnknownProperty         = "UNKNOWN_PROPERTY"
	ErrCodeTypeMismatch            = "TYPE_MISMATCH"
	ErrCodeMissingRequiredProperty = "MISSING_REQUIRED_PROPERTY"
	ErrCodeUnsupportedOperation    = "UNSUPPORTED_OPERATION"
	ErrCodeTargetAddressMalformed  = "TARGET_ADDRESS_MALFORMED"
	ErrCodeInvocationFailed        = "INVOCATION_FAILED"
	ErrCodePolicyDenied            = "POLICY_DENIED"
)

// Sentinels for errors.Is. Matching compares class and code only.
var (
	ErrNotFound                = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}
	ErrInvalidArgument         = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeInvalidArgument}
	ErrUnknownProperty         = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownProperty}
	ErrTypeMismatch            = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeTypeMismatch}
	ErrMissingRequiredProperty = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeMissingRequiredProperty}
	ErrUnsupportedOperation    = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnsupportedOperation}
	ErrTargetAddressMalformed  = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeTargetAddressMalformed}
	ErrInvocation              = &EngineError{Class: ErrorClassTransient, Code: ErrCodeInvocationFailed}
	ErrPolicyDenied            = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePolicyDenied}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code identifies the condition for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the category or property id the error refers to, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being built or dispatched, if any.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports an unknown property id.
func NewNotFoundError(id string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeNotFound, "property not found", nil).WithResource(id)
}

// NewInvalidArgumentError reports an unknown category id or a malformed argument.
func NewInvalidArgumentError(message, arg string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeInvalidArgument, message, nil).WithResource(arg)
}

// NewUnknownPropertyError reports a property id the bound category does not declare.
func NewUnknownPropertyError(category, id string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeUnknownProperty,
		fmt.Sprintf("category %s does not declare property", category), nil).WithResource(id)
}

// NewTypeMismatchError reports a value that cannot be represented as the declared type.
func NewTypeMismatchError(id string, expected ValueType, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeTypeMismatch,
		fmt.Sprintf("value is not a valid %s", expected), err).WithResource(id)
}

// NewMissingRequiredPropertyError reports a required property without value or default.
func NewMissingRequiredPropertyError(id string, kind OperationKind) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeMissingRequiredProperty,
		"required property has no value and no default", nil).WithResource(id).WithOperation(kind.String())
}

// NewUnsupportedOperationError reports an operation kind outside the category's table.
func NewUnsupportedOperationError(category, operation string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeUnsupportedOperation,
		"operation not supported", nil).WithResource(category).WithOperation(operation)
}

// NewTargetAddressMalformedError reports a target address that cannot be turned into a handle.
func NewTargetAddressMalformedError(address string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeTargetAddressMalformed,
		"target address malformed", err).WithResource(address)
}

// NewInvocationError wraps a failure reported by the invocation channel.
func NewInvocationError(operation string, err error) *EngineError {
	return newError(ErrorClassTransient, ErrCodeInvocationFailed,
		"invocation failed", err).WithOperation(operation)
}

// NewPolicyDeniedError reports a dispatch rejected by policy evaluation.
func NewPolicyDeniedError(entity string, reasons []string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodePolicyDenied,
		fmt.Sprintf("denied by policy: %v", reasons), nil).WithResource(entity)
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// CodeOf returns the error code of the first EngineError in the chain, or ""
// when err carries none.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
