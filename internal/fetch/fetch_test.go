package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"news_spider/internal/fetch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(t *testing.T, opts fetch.Options) *fetch.Fetcher {
	t.Helper()
	if opts.RetryWait == 0 {
		opts.RetryWait = time.Millisecond
		opts.MaxRetryWait = 5 * time.Millisecond
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	f, err := fetch.New(opts)
	require.NoError(t, err)
	return f
}

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := newFetcher(t, fetch.Options{})
	resp, err := f.Fetch(context.Background(), srv.URL+"/news")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "hello")
	assert.Contains(t, resp.ContentType, "text/html")
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newFetcher(t, fetch.Options{MaxRetries: 3})
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFetcher(t, fetch.Options{MaxRetries: 2})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFetcher(t, fetch.Options{MaxRetries: 5})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchDecodesDeclaredCharset(t *testing.T) {
	// "Привет" in windows-1251, declared only in a meta tag
	page := append([]byte(`<html><head><meta charset="windows-1251"></head><body>`),
		0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2)
	page = append(page, []byte(`</body></html>`)...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(page)
	}))
	defer srv.Close()

	f := newFetcher(t, fetch.Options{})
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "Привет")
}

func TestFetchDetectsCaptcha(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"captcha", "<html><body>Please solve the CAPTCHA</body></html>"},
		{"human check", "<html><body><h1>Verify you are human</h1></body></html>"},
		{"cloudflare challenge", `<html><body><form id="challenge-form" action="/?__cf_chl_f_tk=x" class="cf-chl-widget"></form></body></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := newFetcher(t, fetch.Options{})
			_, err := f.Fetch(context.Background(), srv.URL)
			assert.ErrorIs(t, err, fetch.ErrCaptcha)
		})
	}
}

func TestFetchUserAgent(t *testing.T) {
	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pinned := newFetcher(t, fetch.Options{UserAgent: "news-spider-test/1.0"})
	_, err := pinned.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "news-spider-test/1.0", <-agents)

	rotating := newFetcher(t, fetch.Options{})
	_, err = rotating.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, <-agents, "Mozilla/5.0")
}

func TestFetchRespectsRobots(t *testing.T) {
	var robotsCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		robotsCalls.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newFetcher(t, fetch.Options{RespectRobots: true})

	_, err := f.Fetch(context.Background(), srv.URL+"/private/page")
	assert.ErrorIs(t, err, fetch.ErrDisallowed)

	resp, err := f.Fetch(context.Background(), srv.URL+"/public/page")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))

	assert.EqualValues(t, 1, robotsCalls.Load(), "robots.txt is loaded once per host")
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFetcher(t, fetch.Options{MaxRetries: 100, RetryWait: time.Second, MaxRetryWait: time.Second})
	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || time.Since(start) < time.Second)
}
