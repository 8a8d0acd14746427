// Package fetch downloads listing and article pages with retries, rotating
// user agents and proxies, and an optional robots.txt gate.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/gocolly/colly/v2/proxy"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
)

var (
	ErrDisallowed = errors.New("disallowed by robots.txt")
	ErrCaptcha    = errors.New("captcha detected")
)

// markers of bot-check interstitials served instead of the page
var captchaMarkers = []string{
	"captcha",
	"verify you are human",
	"checking your browser",
	"cf-chl",
	"are you a robot",
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	// RetryWait is the first backoff interval; it doubles up to MaxRetryWait.
	RetryWait    time.Duration
	MaxRetryWait time.Duration
	// UserAgent pins one agent; empty rotates a random browser agent per request.
	UserAgent     string
	Proxies       []string
	RespectRobots bool
}

type Response struct {
	URL         string
	StatusCode  int
	Body        []byte
	ContentType string
}

// StatusError is returned when the server answered with a non-2xx code.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// Fetcher is safe for concurrent use; every request runs on its own clone
// of the base collector.
type Fetcher struct {
	base *colly.Collector
	opts Options

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.RobotsData
}

func New(opts Options) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = 30 * time.Second
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(opts.Timeout)
	if opts.UserAgent != "" {
		c.UserAgent = opts.UserAgent
	}

	if len(opts.Proxies) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(opts.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("proxies: %w", err)
		}
		c.SetProxyFunc(switcher)
	}

	return &Fetcher{
		base:   c,
		opts:   opts,
		robots: make(map[string]*robotstxt.RobotsData),
	}, nil
}

// Fetch returns the decoded body of rawURL. Transient failures are retried
// with exponential backoff until MaxRetries is spent or ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if f.opts.RespectRobots {
		allowed, err := f.allowed(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(f.opts.RetryWait),
		backoff.WithMaxInterval(f.opts.MaxRetryWait),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.MaxRetries)), ctx)

	return backoff.RetryWithData(func() (*Response, error) {
		resp, err := f.get(ctx, rawURL)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, policy)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code != http.StatusNotFound && statusErr.Code != http.StatusGone
	}
	return true
}

func (f *Fetcher) collector(ctx context.Context) *colly.Collector {
	c := f.base.Clone()
	c.Context = ctx
	if f.opts.UserAgent == "" {
		extensions.RandomUserAgent(c)
	}
	return c
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Response, error) {
	c := f.collector(ctx)

	var (
		result *Response
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		result = &Response{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Body:        r.Body,
			ContentType: r.Headers.Get("Content-Type"),
		}
	})
	c.OnError(func(r *colly.Response, _ error) {
		status = r.StatusCode
	})

	if err := c.Visit(rawURL); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if status != 0 {
			return nil, &StatusError{URL: rawURL, Code: status}
		}
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if result == nil {
		return nil, fmt.Errorf("GET %s: empty response", rawURL)
	}

	body, err := decode(result.Body, result.ContentType)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	if looksLikeCaptcha(body) {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrCaptcha)
	}
	result.Body = body
	return result, nil
}

// decode converts the body to UTF-8. colly already converts when the
// Content-Type names a charset, so only the sniffing case is left here.
func decode(body []byte, contentType string) ([]byte, error) {
	if strings.Contains(strings.ToLower(contentType), "charset") {
		return body, nil
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body, nil
	}
	return io.ReadAll(r)
}

func looksLikeCaptcha(body []byte) bool {
	if len(body) > 4096 {
		// real article pages mention these words; interstitials are short
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (f *Fetcher) agent() string {
	if f.opts.UserAgent != "" {
		return f.opts.UserAgent
	}
	return "*"
}

// allowed consults robots.txt for the host of rawURL, loading it once per host.
func (f *Fetcher) allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("bad url %q", rawURL)
	}

	robots, err := f.robotsFor(ctx, u)
	if err != nil {
		return false, err
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return robots.TestAgent(path, f.agent()), nil
}

func (f *Fetcher) robotsFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host

	f.robotsMu.Lock()
	robots, ok := f.robots[key]
	f.robotsMu.Unlock()
	if ok {
		return robots, nil
	}

	status, body := f.loadRobots(ctx, key+"/robots.txt")
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	robots, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		// unparsable robots.txt allows everything
		robots, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	}

	f.robotsMu.Lock()
	f.robots[key] = robots
	f.robotsMu.Unlock()
	return robots, nil
}

// loadRobots makes a single attempt; network failures are treated as a
// missing file.
func (f *Fetcher) loadRobots(ctx context.Context, robotsURL string) (int, []byte) {
	c := f.collector(ctx)

	status := http.StatusNotFound
	var body []byte
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r.StatusCode != 0 {
			status = r.StatusCode
		}
	})

	_ = c.Visit(robotsURL)
	return status, body
}
