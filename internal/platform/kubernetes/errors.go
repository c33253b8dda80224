package kubernetes

import (
	"fmt"

	k8serrors "k8s.io/apimachinery/pkg/api/errors"
)

// K8sError is the base error type for adapter errors.
type K8sError struct {
	Op      string
	Message string
	Err     error
}

func (e *K8sError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("k8s %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("k8s %s: %s", e.Op, e.Message)
}

func (e *K8sError) Unwrap() error { return e.Err }

type ConnectionError struct{ *K8sError }

func NewConnectionError(message string, err error) *ConnectionError {
	return &ConnectionError{&K8sError{Op: "connection", Message: message, Err: err}}
}

type AuthError struct{ *K8sError }

func NewAuthError(message string, err error) *AuthError {
	return &AuthError{&K8sError{Op: "authentication", Message: message, Err: err}}
}

type NotFoundError struct{ *K8sError }

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{&K8sError{Op: "not_found", Message: message}}
}

type TimeoutError struct{ *K8sError }

func NewTimeoutError(message string, err error) *TimeoutError {
	return &TimeoutError{&K8sError{Op: "timeout", Message: message, Err: err}}
}

func wrapK8sError(operation string, err error) error {
	if k8serrors.IsUnauthorized(err) || k8serrors.IsForbidden(err) {
		return NewAuthError("insufficient permissions", err)
	}
	if k8serrors.IsNotFound(err) {
		return NewNotFoundError(operation + " not found")
	}
	if k8serrors.IsTimeout(err) || k8serrors.IsServerTimeout(err) {
		return NewTimeoutError("request timed out", err)
	}
	return &K8sError{Op: operation, Message: "operation failed", Err: err}
}

func isRetryableError(err error) bool {
	if k8serrors.IsTimeout(err) || k8serrors.IsServerTimeout(err) {
		return true
	}
	if k8serrors.IsInternalError(err) || k8serrors.IsServiceUnavailable(err) {
		return true
	}
	if k8serrors.IsTooManyRequests(err) {
		return true
	}
	if k8serrors.IsUnauthorized(err) || k8serrors.IsForbidden(err) {
		return false
	}
	if k8serrors.IsNotFound(err) || k8serrors.IsInvalid(err) {
		return false
	}
	return true
}
