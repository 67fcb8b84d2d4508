package worker

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBurst = 5

// Limiter keeps one token bucket per host. A single Limiter is shared by
// every run in the process, so concurrent batch claims hitting the same
// wiki host draw from one budget.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
	rate  rate.Limit
	burst int
}

// NewLimiter creates a limiter allowing requestsPerSecond per host.
// requestsPerSecond <= 0 disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = defaultBurst
	}
	r := rate.Inf
	if requestsPerSecond > 0 {
		r = rate.Limit(requestsPerSecond)
	}
	return &Limiter{
		hosts: make(map[string]*rate.Limiter),
		rate:  r,
		burst: burst,
	}
}

// Wait blocks until a request to rawURL's host may proceed
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}
	return l.bucket(host).Wait(ctx)
}

// HonorCrawlDelay slows rawURL's host to one request per delay when that
// is stricter than its current rate. Delays never loosen a host's rate.
func (l *Limiter) HonorCrawlDelay(rawURL string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	host, err := hostOf(rawURL)
	if err != nil {
		return
	}
	r := rate.Every(delay)

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.hosts[host]; ok && b.Limit() <= r {
		return
	}
	// a fresh bucket drops tokens banked at the looser rate
	l.hosts[host] = rate.NewLimiter(r, 1)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.hosts[host] = b
	}
	return b
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse URL %q", rawURL)
	}
	if u.Host == "" {
		return "", eris.Errorf("URL %q has no host", rawURL)
	}
	return strings.ToLower(u.Host), nil
}
