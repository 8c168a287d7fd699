package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	ErrUnknownProvider  = errors.New("gateway: unknown provider")
)

// TransportError is a network failure, timeout or provider 5xx. The outcome of the call is unknown.
type TransportError struct {
	Provider  string
	Operation string
	Status    int
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: provider returned %d", e.Provider, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means credentials are missing or rejected. Needs an operator.
type AuthError struct {
	Provider string
	Status   int
	Msg      string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: authentication failed (%d): %s", e.Provider, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Msg)
}

// ValidationError is a response that is missing required fields or a request the provider refused.
type ValidationError struct {
	Provider  string
	Operation string
	Msg       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Msg)
}

// WebhookShapeError is a callback without a mandatory field or with an unknown status.
type WebhookShapeError struct {
	Provider string
	Field    string
	Msg      string
}

func (e *WebhookShapeError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s webhook: %s: %s", e.Provider, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s webhook: missing %s", e.Provider, e.Field)
}

// InvalidPayeeKeyError is raised locally, before the provider is called.
type InvalidPayeeKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidPayeeKeyError) Error() string {
	return fmt.Sprintf("invalid payee key %q: %s", e.Key, e.Reason)
}

// IsRetryable reports whether the same call may succeed later.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
