package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Backoff selects how the delay between retry attempts grows
type Backoff string

const (
	// BackoffExponential waits initialDelay * factor^(n-1), capped at maxDelay
	BackoffExponential Backoff = "exponential"

	// BackoffLinear waits initialDelay between every attempt
	BackoffLinear Backoff = "linear"
)

// RetryPolicy configures how a failed request is retried
type RetryPolicy struct {
	// Attempts is the total number of attempts, including the first
	Attempts int

	Backoff      Backoff
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Factor is the exponential growth factor; 2 when unset
	Factor float64

	// RetryCondition replaces the default retry condition entirely when set
	RetryCondition func(err error) bool
}

// Request describes one outbound call made through an HTTPClient
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string

	// Timeout bounds each attempt; the client default applies when zero
	Timeout time.Duration

	// ID optionally names the request for deduplication and cancellation.
	// When empty the identity is derived from method, URL and body.
	ID string

	// Retry overrides the client's default retry policy
	Retry *RetryPolicy
}

// Response is a fully read HTTP response. The body is buffered so the
// response can be shared between deduplicated callers.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// HTTPClient executes requests with the configured cross-cutting policies
// (timeout, retry, circuit breaking, deduplication, cancellation).
type HTTPClient interface {
	// Do performs the request. Non-2xx responses are returned as errors.
	Do(ctx context.Context, req Request) (*Response, error)
}
