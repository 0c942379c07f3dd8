package schemas

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a validation failure for programmatic handling.
type ErrorCode string

const (
	ErrSyntaxInvalid          ErrorCode = "SYNTAX_INVALID"
	ErrMissingDependency      ErrorCode = "MISSING_DEPENDENCY"
	ErrRuntimeExecutionFailed ErrorCode = "RUNTIME_EXECUTION_FAILED"
	ErrTestFailure            ErrorCode = "TEST_FAILURE"
	ErrSecurityVulnerability  ErrorCode = "SECURITY_VULNERABILITY_DETECTED"
	ErrResourceExceeded       ErrorCode = "RESOURCE_EXCEEDED"
	ErrSandboxInfrastructure  ErrorCode = "SANDBOX_INFRASTRUCTURE_ERROR"
)

// CodedError carries an ErrorCode alongside a human-readable message and an
// optional wrapped cause. Use errors.Is with a bare NewCodedError(code, "")
// sentinel, or IsCode, to match on the code.
type CodedError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// Is matches any CodedError with the same code, so callers can test for a
// class of failure without caring about the exact message.
func (e *CodedError) Is(target error) bool {
	var coded *CodedError
	if !errors.As(target, &coded) {
		return false
	}
	return e.Code == coded.Code
}

// NewCodedError builds a CodedError with no underlying cause.
func NewCodedError(code ErrorCode, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a CodedError around an underlying cause.
func WrapError(code ErrorCode, err error, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsCode reports whether err is (or wraps) a CodedError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// CodeOf extracts the ErrorCode from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
