package fcm

import (
	"errors"
	"fmt"
	"strings"
)

// DeliveryError carries the provider diagnostic text for a failed send.
// The consumer treats it as transient and retries with backoff.
type DeliveryError struct {
	StatusCode int
	Message    string
}

func (e *DeliveryError) Error() string {
	parts := []string{"fcm error"}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, ": ")
}

// CredentialError means an access token could not be obtained. It is a hard
// error for the current attempt and is not retried inside the client.
type CredentialError struct {
	Cause error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("failed to obtain fcm credentials: %v", e.Cause)
}

func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// IsCredentialError reports whether err originated in token acquisition.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
