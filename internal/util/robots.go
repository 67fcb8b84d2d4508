package util

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
)

// robotsTTL bounds how long a host's parsed robots.txt is trusted
const robotsTTL = time.Hour

// allowAll stands in for hosts whose robots.txt could not be fetched
var allowAll, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

// RobotsChecker answers robots.txt questions for page fetches, caching
// each host's rules for an hour.
type RobotsChecker struct {
	rules  *gocache.Cache
	client *http.Client
	ua     string
	token  string
}

// NewRobotsChecker creates a checker that fetches robots.txt with client
// and matches groups by the product token of userAgent.
func NewRobotsChecker(userAgent string, client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		rules:  gocache.New(robotsTTL, 10*time.Minute),
		client: client,
		ua:     userAgent,
		token:  NormalizeUserAgent(userAgent),
	}
}

// CanFetch reports whether rawURL may be fetched and the crawl delay the
// host asks for. Only an unparseable URL is an error; a robots.txt that
// cannot be fetched allows everything.
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, eris.Wrap(err, "robots: parse URL")
	}
	if u.Host == "" {
		return false, 0, eris.Errorf("robots: URL has no host: %q", rawURL)
	}

	data := r.forHost(ctx, u.Scheme, u.Host)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	var delay time.Duration
	if g := data.FindGroup(r.token); g != nil {
		delay = g.CrawlDelay
	}
	return data.TestAgent(path, r.token), delay, nil
}

func (r *RobotsChecker) forHost(ctx context.Context, scheme, host string) *robotstxt.RobotsData {
	key := scheme + "://" + strings.ToLower(host)
	if v, ok := r.rules.Get(key); ok {
		return v.(*robotstxt.RobotsData)
	}

	data, err := r.fetch(ctx, key+"/robots.txt")
	if err != nil {
		// do not pin a transient failure for the full TTL
		r.rules.Set(key, allowAll, time.Minute)
		return allowAll
	}
	r.rules.SetDefault(key, data)
	return data
}

func (r *RobotsChecker) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "robots: create request")
	}
	req.Header.Set("User-Agent", r.ua)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "robots: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	// 4xx allows all, 5xx disallows all
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, eris.Wrap(err, "robots: parse")
	}
	return data, nil
}

// NormalizeUserAgent reduces a user agent string to its product token
// ("Veritas/0.1 (+url)" becomes "Veritas") for robots.txt group matching.
func NormalizeUserAgent(ua string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(ua), " ")
	token, _, _ := strings.Cut(first, "/")
	return token
}
