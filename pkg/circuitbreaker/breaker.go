package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// New builds the breaker guarding the FCM gateway. It trips open after
// failureThreshold consecutive failures, rejects calls with
// gobreaker.ErrOpenState while open, and allows a single probe request
// after timeout has elapsed since the trip. onStateChange may be nil.
func New(nameof string, failureThreshold int, timeout time.Duration, onStateChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        nameof,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: onStateChange,
	}
	return gobreaker.NewCircuitBreaker(settings)
}
