// ABOUTME: Per-endpoint circuit breakers built on sony/gobreaker
// ABOUTME: Keeps one breaker per host and path so failures never trip unrelated endpoints

package standard

import (
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
)

// BreakerSettings configures every endpoint breaker
type BreakerSettings struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold int

	// ResetTimeout is how long an open breaker rejects calls before probing
	ResetTimeout time.Duration

	// HalfOpenRequests is the number of trial requests allowed while half-open
	HalfOpenRequests int
}

// DefaultBreakerSettings opens after 5 failures and retries after 30s
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenRequests: 1,
	}
}

type breakerRegistry struct {
	mu       sync.Mutex
	settings BreakerSettings
	logger   interfaces.Logger
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
}

func newBreakerRegistry(settings BreakerSettings, logger interfaces.Logger) *breakerRegistry {
	if settings.Threshold < 1 {
		settings.Threshold = 1
	}
	if settings.HalfOpenRequests < 1 {
		settings.HalfOpenRequests = 1
	}
	return &breakerRegistry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
	}
}

// get returns the breaker for endpoint, creating it on first use
func (r *breakerRegistry) get(endpoint string) *gobreaker.TwoStepCircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[endpoint]; ok {
		return cb
	}

	threshold := uint32(r.settings.Threshold)
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: uint32(r.settings.HalfOpenRequests),
		Timeout:     r.settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"endpoint": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	})
	r.breakers[endpoint] = cb
	return cb
}

// healthy decides how an attempt's outcome counts against the breaker.
// Client errors are not endpoint failures. A cancelled attempt does not count
// against a closed breaker, but a cancelled half-open attempt reopens it.
func healthy(err error, state gobreaker.State) bool {
	if err == nil {
		return true
	}
	if errors.IsCancelled(err) {
		return state != gobreaker.StateHalfOpen
	}
	return !errors.IsRetryable(err)
}

// state reports the breaker state for endpoint; unknown endpoints are closed
func (r *breakerRegistry) state(endpoint string) gobreaker.State {
	r.mu.Lock()
	cb, ok := r.breakers[endpoint]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// endpointOf derives the breaker key for a request URL: host plus path,
// without query or fragment.
func endpointOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host + u.Path
}
