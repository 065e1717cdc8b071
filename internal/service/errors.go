package service

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType classifies a failed upstream lookup
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeUpstreamRejected means the upstream answered but reported an error in its payload
	ErrorTypeUpstreamRejected
	ErrorTypeNetwork
	ErrorTypeInvalidResponse
	ErrorTypeContextCancelled
)

func (errorType ErrorType) String() string {
	switch errorType {
	case ErrorTypeUpstreamRejected:
		return "upstream_rejected"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeInvalidResponse:
		return "invalid_response"
	case ErrorTypeContextCancelled:
		return "context_cancelled"
	default:
		return "unknown"
	}
}

// ServiceError represents a service-specific error with type information
type ServiceError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// ErrorTypeOf returns the classification of err, looking through wrapping
func ErrorTypeOf(err error) ErrorType {
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.Type
	}
	return ErrorTypeUnknown
}

// IsUpstreamRejected reports whether the upstream itself refused the lookup
func IsUpstreamRejected(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeUpstreamRejected
}

// transportError wraps a failure of the outbound HTTP exchange
func transportError(message string, cause error) *ServiceError {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return &ServiceError{Type: ErrorTypeContextCancelled, Message: message, Cause: cause}
	}

	var netError net.Error
	if errors.As(cause, &netError) && netError.Timeout() {
		return &ServiceError{Type: ErrorTypeNetwork, Message: message + " (timeout)", Cause: cause}
	}

	return &ServiceError{Type: ErrorTypeNetwork, Message: message, Cause: cause}
}
