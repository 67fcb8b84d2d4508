package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ferrors"
	"github.com/felixgeelhaar/fortify/retry"
	openai "github.com/sashabaranov/go-openai"
)

// ResilienceConfig tunes transport-level protection around a provider
type ResilienceConfig struct {
	MaxAttempts      int           // Total attempts per completion (>= 1)
	InitialDelay     time.Duration // First backoff delay
	BreakerThreshold int           // Consecutive failures before the breaker opens
	BreakerTimeout   time.Duration // Open-state duration before a probe is allowed
}

// DefaultResilienceConfig returns conservative defaults
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:      3,
		InitialDelay:     500 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// ResilientProvider wraps a Provider with retry and a circuit breaker.
// Output validation is not its concern; it only smooths transport failures.
type ResilientProvider struct {
	inner   Provider
	breaker circuitbreaker.CircuitBreaker[*CompletionResponse]
	retry   retry.Retry[*CompletionResponse]
}

// NewResilientProvider wraps inner with fortify retry and circuit breaker
func NewResilientProvider(inner Provider, cfg ResilienceConfig) *ResilientProvider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}

	return &ResilientProvider{
		inner: inner,
		breaker: circuitbreaker.New[*CompletionResponse](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.BreakerTimeout,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
			},
		}),
		retry: retry.New[*CompletionResponse](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			IsRetryable:   IsTransient,
		}),
	}
}

// Name returns the wrapped provider name
func (p *ResilientProvider) Name() string {
	return p.inner.Name()
}

// IsAvailable delegates to the wrapped provider
func (p *ResilientProvider) IsAvailable(ctx context.Context) bool {
	return p.inner.IsAvailable(ctx)
}

// Complete runs the wrapped completion behind the breaker, retrying
// transient errors only
func (p *ResilientProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return p.breaker.Execute(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		return p.retry.Do(ctx, func(ctx context.Context) (*CompletionResponse, error) {
			return p.inner.Complete(ctx, req)
		})
	})
}

// transientPatterns match transport failures that reach us only as text
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
}

// IsTransient reports whether a completion error may succeed on retry:
// transport failures, timeouts, 408, 429 and 5xx replies. Other HTTP
// statuses, cancellation and an open breaker are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ferrors.ErrCircuitOpen) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusRequestTimeout ||
			code == http.StatusTooManyRequests ||
			code >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// statusCode digs the HTTP status out of the provider error types
func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	var claudeErr *sdk.Error
	if errors.As(err, &claudeErr) && claudeErr.StatusCode != 0 {
		return claudeErr.StatusCode, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code, true
	}
	return 0, false
}
