// Package retrieval implements the network-backed evidence tools: wiki and
// open-web search, paid web search, knowledge-base lookup and page fetch.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/util"
	"github.com/ppiankov/veritas/internal/worker"
	"github.com/rotisserie/eris"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 500 * time.Millisecond
	maxRetryAfter = 10 * time.Second
)

// fetchSleep waits between retries; tests replace it
var fetchSleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errTooManyRedirects = errors.New("stopped after 3 redirects")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code   int
	Status string

	// RetryAfter is the server's Retry-After hint, zero when absent
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return "unexpected status: " + e.Status
}

// TransportError is returned when no HTTP response was received
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "fetch: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Client performs rate-limited, size-capped HTTP calls for retrieval tools
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	limiter    *worker.Limiter
	robots     *util.RobotsChecker
}

// Response is a fully read HTTP response
type Response struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string
}

// NewClient creates a client from the HTTP configuration. A nil limiter
// builds one from the configured per-domain rate.
func NewClient(cfg model.HTTPConfig, limiter *worker.Limiter) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}
	if limiter == nil {
		limiter = worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: util.NewTransport(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy, cfg.InsecureTLS),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errTooManyRedirects
			}
			return nil
		},
	}

	c := &Client{
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		maxBytes:   maxBytes,
		limiter:    limiter,
	}
	if cfg.RespectRobots {
		c.robots = util.NewRobotsChecker(cfg.UserAgent, httpClient)
	}
	return c
}

// Allowed reports whether robots.txt permits fetching rawURL and applies
// the host's crawl delay to the limiter. It always allows when robots
// checks are disabled.
func (c *Client) Allowed(ctx context.Context, rawURL string) bool {
	if c.robots == nil {
		return true
	}
	allowed, delay, err := c.robots.CanFetch(ctx, rawURL)
	if err != nil {
		return false
	}
	c.limiter.HonorCrawlDelay(rawURL, delay)
	return allowed
}

// Get fetches rawURL with the given Accept header
func (c *Client) Get(ctx context.Context, rawURL, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return c.do(ctx, req, c.maxBytes)
}

// FetchWithRetry is Get with up to three attempts on 429, 5xx and
// transport errors. The wait doubles from 500ms, or follows Retry-After
// when the server sends a longer one.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL, accept string) (*Response, error) {
	var err error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			wait := fetchBackoff << (attempt - 1)
			var se *StatusError
			if errors.As(err, &se) && se.RetryAfter > wait {
				wait = se.RetryAfter
			}
			if sleepErr := fetchSleep(ctx, wait); sleepErr != nil {
				return nil, err
			}
		}
		var resp *Response
		resp, err = c.Get(ctx, rawURL, accept)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}

// PostJSON posts body as JSON with extra headers
func (c *Client) PostJSON(ctx context.Context, rawURL string, body any, headers map[string]string) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(ctx, req, c.maxBytes)
}

func (c *Client) do(ctx context.Context, req *http.Request, maxBytes int64) (*Response, error) {
	if err := c.limiter.Wait(ctx, req.URL.String()); err != nil {
		return nil, eris.Wrap(err, "rate limit")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Code:       resp.StatusCode,
			Status:     resp.Status,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}

	return &Response{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// isRetryable reports whether a failed request may succeed when repeated:
// 429 and 5xx statuses and transport failures.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var te *TransportError
	return errors.As(err, &te) && !errors.Is(err, errTooManyRedirects)
}

// retryAfter parses a delay-seconds Retry-After value, capped at 10s.
// HTTP-date values are ignored.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
