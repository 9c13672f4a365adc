// ABOUTME: Resilient HTTP client for the feed parsing API
// ABOUTME: Layers timeouts, retry with backoff, per-endpoint breakers, deduplication and cancellation

package standard

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	logstd "digests-reader/infrastructure/logger/standard"
)

const (
	userAgent       = "DigestsReader/1.0"
	maxErrorMessage = 512
)

// Options configures a Client
type Options struct {
	// Timeout bounds each attempt unless the request sets its own
	Timeout time.Duration

	// Retry is the default retry policy
	Retry interfaces.RetryPolicy

	// Breaker configures the per-endpoint circuit breakers
	Breaker BreakerSettings

	// RateLimit caps outbound attempts per second; zero disables limiting
	RateLimit float64
	Burst     int

	// Deduplicate shares one in-flight call between identical requests
	Deduplicate bool

	// CircuitBreaking enables the per-endpoint breakers
	CircuitBreaking bool

	// Transport overrides the underlying round tripper
	Transport http.RoundTripper

	Logger interfaces.Logger
}

// DefaultOptions returns options with every policy enabled
func DefaultOptions(logger interfaces.Logger) Options {
	return Options{
		Timeout:         30 * time.Second,
		Retry:           DefaultRetryPolicy(),
		Breaker:         DefaultBreakerSettings(),
		Deduplicate:     true,
		CircuitBreaking: true,
		Logger:          logger,
	}
}

// StandardHTTPClient implements the HTTPClient interface using net/http
type StandardHTTPClient struct {
	client   *http.Client
	opts     Options
	logger   interfaces.Logger
	breakers *breakerRegistry
	limiter  *rate.Limiter
	group    singleflight.Group
	tracker  *tracker

	sharedMu sync.Mutex
	shared   map[string]*sharedCall
}

// sharedCall is the context behind one deduplicated request. It is
// cancelled once every caller waiting on it has returned.
type sharedCall struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewStandardHTTPClient creates a client with the given options
func NewStandardHTTPClient(opts Options) *StandardHTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = logstd.NewNopLogger()
	}

	c := &StandardHTTPClient{
		client:   &http.Client{Transport: opts.Transport},
		opts:     opts,
		logger:   opts.Logger,
		breakers: newBreakerRegistry(opts.Breaker, opts.Logger),
		tracker:  newTracker(),
		shared:   make(map[string]*sharedCall),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Do performs req with the configured policies. Non-2xx responses and every
// failure are returned as *errors.RequestError.
func (c *StandardHTTPClient) Do(ctx context.Context, req interfaces.Request) (*interfaces.Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &errors.ValidationError{Field: "url", Message: "invalid request URL: " + req.URL}
	}

	id := requestIdentity(req)
	if !c.opts.Deduplicate {
		return c.run(ctx, id, req)
	}

	call := c.join(ctx, id)
	defer c.leave(id, call)
	ch := c.group.DoChan(id, func() (interface{}, error) {
		return c.run(call.ctx, id, req)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Request deduplicated", map[string]interface{}{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*interfaces.Response), nil
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &errors.RequestError{
				Code: errors.CodeTimeout, Method: req.Method, URL: req.URL, Cause: ctx.Err(),
			}
		}
		return nil, cancelledError(req, 0, ctx.Err())
	}
}

// join registers a caller of the deduplicated request id. The shared
// context keeps the first caller's values but none of its cancellation, so
// one caller giving up never fails the others.
func (c *StandardHTTPClient) join(ctx context.Context, id string) *sharedCall {
	c.sharedMu.Lock()
	defer c.sharedMu.Unlock()

	call, ok := c.shared[id]
	if !ok {
		sharedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		call = &sharedCall{ctx: sharedCtx, cancel: cancel}
		c.shared[id] = call
	}
	call.waiters++
	return call
}

// leave drops a caller. The last one out cancels the shared context and
// makes later callers start a fresh request instead of joining the
// abandoned one.
func (c *StandardHTTPClient) leave(id string, call *sharedCall) {
	c.sharedMu.Lock()
	defer c.sharedMu.Unlock()

	call.waiters--
	if call.waiters > 0 {
		return
	}
	call.cancel()
	if c.shared[id] == call {
		delete(c.shared, id)
		c.group.Forget(id)
	}
}

// Cancel aborts the in-flight request started with the given ID
func (c *StandardHTTPClient) Cancel(id string) bool {
	return c.tracker.cancel("id:" + id)
}

// CancelAll aborts every in-flight request
func (c *StandardHTTPClient) CancelAll() int {
	return c.tracker.cancelAll()
}

// InFlight returns the number of requests currently executing
func (c *StandardHTTPClient) InFlight() int {
	return c.tracker.count()
}

// BreakerState reports the breaker state ("closed", "half-open", "open")
// for the endpoint serving rawURL
func (c *StandardHTTPClient) BreakerState(rawURL string) string {
	return c.breakers.state(endpointOf(rawURL)).String()
}

// run executes the retry loop for one logical request
func (c *StandardHTTPClient) run(ctx context.Context, id string, req interfaces.Request) (*interfaces.Response, error) {
	ctx, release := c.tracker.track(ctx, id, req)
	defer release()

	policy := c.opts.Retry
	if req.Retry != nil {
		policy = *req.Retry
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if attempt > 1 {
			delay := retryDelay(policy, attempt-1)
			c.logger.Warn("Retrying request", map[string]interface{}{
				"method":  req.Method,
				"url":     req.URL,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			})
			if err := sleep(ctx, delay); err != nil {
				return nil, cancelledError(req, attempt-1, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, cancelledError(req, attempt-1, ctx.Err())
				}
				return nil, &errors.RequestError{
					Code: errors.CodeTimeout, Attempts: attempt, Method: req.Method, URL: req.URL,
					Message: "rate limit wait exceeds deadline", Cause: err,
				}
			}
		}

		resp, err := c.attempt(ctx, req, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.IsCancelled(err) {
			c.logger.Debug("Request cancelled", map[string]interface{}{
				"method": req.Method,
				"url":    req.URL,
			})
			return nil, err
		}
		if ctx.Err() != nil || !shouldRetry(policy, err) {
			break
		}
	}

	return nil, lastErr
}

// attempt performs a single try through the endpoint breaker
func (c *StandardHTTPClient) attempt(ctx context.Context, req interfaces.Request, attempt int) (*interfaces.Response, error) {
	if !c.opts.CircuitBreaking {
		return c.send(ctx, req, attempt)
	}

	endpoint := endpointOf(req.URL)
	cb := c.breakers.get(endpoint)
	done, err := cb.Allow()
	if err != nil {
		return nil, &errors.RequestError{
			Code: errors.CodeCircuitOpen, Attempts: attempt, Method: req.Method, URL: req.URL,
			Message: "circuit open for " + endpoint, Cause: err,
		}
	}

	resp, err := c.send(ctx, req, attempt)
	done(healthy(err, cb.State()))
	return resp, err
}

// send performs the HTTP exchange with a per-attempt timeout
func (c *StandardHTTPClient) send(ctx context.Context, req interfaces.Request, attempt int) (*interfaces.Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, &errors.RequestError{
			Code: errors.CodeNetwork, Attempts: attempt, Method: req.Method, URL: req.URL, Cause: err,
		}
	}

	httpReq.Header.Set("User-Agent", userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, req, attempt, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, req, attempt, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
		return nil, &errors.RequestError{
			Code: errors.CodeHTTP, Status: resp.StatusCode, Attempts: attempt,
			Method: req.Method, URL: req.URL, Message: msg,
		}
	}

	return &interfaces.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// transportError classifies a failed exchange as cancellation, timeout or
// network failure. Cancellation of the parent context takes precedence.
func (c *StandardHTTPClient) transportError(parent, attemptCtx context.Context, req interfaces.Request, attempt int, err error) error {
	if parent.Err() != nil {
		if stderrors.Is(parent.Err(), context.DeadlineExceeded) {
			return &errors.RequestError{
				Code: errors.CodeTimeout, Attempts: attempt, Method: req.Method, URL: req.URL, Cause: err,
			}
		}
		return cancelledError(req, attempt, err)
	}
	if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &errors.RequestError{
			Code: errors.CodeTimeout, Attempts: attempt, Method: req.Method, URL: req.URL,
			Message: "attempt timed out", Cause: err,
		}
	}
	return &errors.RequestError{
		Code: errors.CodeNetwork, Attempts: attempt, Method: req.Method, URL: req.URL, Cause: err,
	}
}

func cancelledError(req interfaces.Request, attempts int, cause error) error {
	return &errors.RequestError{
		Code: errors.CodeCancelled, Attempts: attempts, Method: req.Method, URL: req.URL,
		Message: "request cancelled", Cause: cause,
	}
}
