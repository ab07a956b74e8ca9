// Package transport implements the single call path that protects every
// outbound HTTP request to an upstream service: circuit breaker check,
// budget consumption, semaphore acquisition, network send, and outcome
// classification feeding retry and breaker state. It is the generalization
// of the retry loop markets.MetadataClient.fetchWithRetry ran against the
// Polymarket Gamma API, composed with the strict budget/semaphore/breaker
// ordering of the original Python _send_once.
package transport

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/amazon-sedori/internal/ratelimit"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

// RetryableStatusCodes are HTTP statuses the transport retries.
var RetryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// FatalServiceError is a non-retryable HTTP response (status >= 400, not in
// RetryableStatusCodes).
type FatalServiceError struct {
	StatusCode int
	Body       []byte
}

func (e *FatalServiceError) Error() string {
	return "transport: fatal service error, status " + http.StatusText(e.StatusCode)
}

// RetryPolicy configures the bounded exponential-backoff-with-jitter loop.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxSleep    time.Duration
	// AttemptTimeout bounds a single HTTP attempt's connect+read, roughly
	// (2s connect, 5s read) collapsed into one overall per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy mirrors the original implementation's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		Base:           500 * time.Millisecond,
		MaxSleep:       10 * time.Second,
		AttemptTimeout: 7 * time.Second,
	}
}

// Client drives the shared call path over a *http.Client, a Budget, a
// KeySemaphore, and a CircuitBreaker.
type Client struct {
	HTTP    *http.Client
	Breaker *ratelimit.CircuitBreaker
	Budget  *ratelimit.Budget
	Sem     *ratelimit.KeySemaphore
	Retry   RetryPolicy
	Logger  *zap.Logger
}

// New constructs a transport Client. A nil httpClient gets a sane default.
func New(httpClient *http.Client, breaker *ratelimit.CircuitBreaker, budget *ratelimit.Budget, sem *ratelimit.KeySemaphore, retry RetryPolicy, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTP: httpClient, Breaker: breaker, Budget: budget, Sem: sem, Retry: retry, Logger: logger}
}

// RequestBuilder constructs a fresh *http.Request for one attempt — it is
// invoked again on every retry so request bodies are never replayed stale.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Do runs the full call path: breaker check, retry loop with
// budget-then-semaphore-then-send ordering per attempt, outcome
// classification, and terminal breaker/flag handling.
//
// Returns (response, flags, err). Exactly one of the following holds on
// return: (resp != nil, err == nil) on success; (resp == nil, err == nil,
// flags.Degraded) on a soft-fail; (resp == nil, err != nil) on a fatal
// service or transport error that the caller must surface.
func (c *Client) Do(ctx context.Context, budgetKey string, budgetLimit int, build RequestBuilder) (*http.Response, types.ServiceFlags, error) {
	if err := c.Breaker.Allow(); err != nil {
		return nil, types.ServiceFlags{Degraded: true, CircuitOpen: true, Reason: "circuit_open"}, nil
	}

	backoff := c.Retry.Base
	attempts := c.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.Budget.Consume(budgetKey, budgetLimit); err != nil {
			return nil, types.ServiceFlags{Degraded: true, Reason: "budget_exceeded"}, nil
		}

		release := c.Sem.Acquire(budgetKey)
		resp, outcome, attemptErr := c.attempt(ctx, build)
		release()

		switch outcome {
		case outcomeSuccess:
			c.Breaker.RecordSuccess()
			return resp, types.ServiceFlags{}, nil

		case outcomeFatalService, outcomeFatalTransport:
			c.Breaker.RecordFailure()
			return nil, types.ServiceFlags{}, attemptErr

		case outcomeRetryable:
			if c.Logger != nil {
				c.Logger.Warn("transport-retryable-outcome",
					zap.String("budget_key", budgetKey),
					zap.Int("attempt", attempt),
					zap.Error(attemptErr))
			}
			if attempt == attempts {
				c.Breaker.RecordFailure()
				return nil, types.ServiceFlags{Degraded: true, Reason: "retry_exhausted"}, nil
			}
			if !sleepWithJitter(ctx, backoff) {
				c.Breaker.RecordFailure()
				return nil, types.ServiceFlags{Degraded: true, Reason: "retry_exhausted"}, nil
			}
			backoff *= 2
			if backoff > c.Retry.MaxSleep {
				backoff = c.Retry.MaxSleep
			}
		}
	}

	// Unreachable: the loop above always returns by its final iteration.
	return nil, types.ServiceFlags{Degraded: true, Reason: "retry_exhausted"}, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatalService
	outcomeFatalTransport
)

func (c *Client) attempt(ctx context.Context, build RequestBuilder) (*http.Response, outcome, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if c.Retry.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.Retry.AttemptTimeout)
		defer cancel()
	}

	req, err := build(attemptCtx)
	if err != nil {
		return nil, outcomeFatalTransport, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if isRetryableTransportError(err) {
			return nil, outcomeRetryable, err
		}
		return nil, outcomeFatalTransport, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, outcomeSuccess, nil
	}

	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if RetryableStatusCodes[resp.StatusCode] {
		return nil, outcomeRetryable, &FatalServiceError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil, outcomeFatalService, &FatalServiceError{StatusCode: resp.StatusCode, Body: body}
}

func isRetryableTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// sleepWithJitter sleeps for a uniform random duration in [0, base] (full
// jitter over the current exponential backoff step), returning false if
// ctx is cancelled first.
func sleepWithJitter(ctx context.Context, base time.Duration) bool {
	if base <= 0 {
		return true
	}
	jitter := time.Duration(rand.Int63n(int64(base) + 1)) //nolint:gosec // backoff jitter, not security sensitive
	select {
	case <-ctx.Done():
		return false
	case <-time.After(jitter):
		return true
	}
}
