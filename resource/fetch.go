package resource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/vgrid/connectivity"
)

// Fetcher downloads resources with bounded retries and a per-attempt
// timeout. Concurrent requests for one URL share a single download and
// successful results are remembered until Forget or Clear.
type Fetcher struct {
	client    *http.Client
	retries   int
	backoff   time.Duration
	timeout   time.Duration
	userAgent string
	maxBody   int64
	logger    *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]*Resource
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = c }
}

// WithRetries sets the retries after the first attempt. Default: 5.
func WithRetries(n int) FetchOption {
	return func(f *Fetcher) { f.retries = n }
}

// WithBackoff sets the first retry delay, doubled each retry. Default: 500ms.
func WithBackoff(d time.Duration) FetchOption {
	return func(f *Fetcher) { f.backoff = d }
}

// WithTimeout bounds each attempt. Default: 120s.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *Fetcher) { f.timeout = d }
}

// WithUserAgent sets the User-Agent header, usually the captured
// browser's.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithMaxBody caps the bytes read per response. Default: MaxResourceSize.
func WithMaxBody(n int64) FetchOption {
	return func(f *Fetcher) { f.maxBody = n }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetchOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		retries: 5,
		backoff: 500 * time.Millisecond,
		timeout: 120 * time.Second,
		maxBody: MaxResourceSize,
		logger:  slog.Default(),
		memo:    make(map[string]*Resource),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Resource, error) {
	f.mu.Lock()
	r, ok := f.memo[rawURL]
	f.mu.Unlock()
	if ok {
		return r, nil
	}

	v, err, _ := f.group.Do(rawURL, func() (any, error) {
		r, err := f.fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.memo[rawURL] = r
		f.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resource), nil
}

// Forget drops the remembered result for rawURL.
func (f *Fetcher) Forget(rawURL string) {
	f.mu.Lock()
	delete(f.memo, rawURL)
	f.mu.Unlock()
}

// Clear drops every remembered result.
func (f *Fetcher) Clear() {
	f.mu.Lock()
	f.memo = make(map[string]*Resource)
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Resource, error) {
	var res *Resource
	policy := connectivity.RetryPolicy{
		MaxRetries:     f.retries,
		Backoff:        f.backoff,
		AttemptTimeout: f.timeout,
		Logger:         f.logger.With("url", RedactURL(rawURL)),
	}
	err := connectivity.Retry(ctx, policy, func(ctx context.Context, _ int) error {
		r, err := f.get(ctx, rawURL)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resource: fetch %s: %w", RedactURL(rawURL), err)
	}
	return res, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, connectivity.Permanent(fmt.Errorf("new request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &connectivity.StatusError{Method: http.MethodGet, URL: RedactURL(rawURL), Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return New(rawURL, resp.Header.Get("Content-Type"), body), nil
}

// RedactURL removes credentials from a URL before it is logged.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	u.User = nil
	return u.String()
}
