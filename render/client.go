// Package render talks to the remote render and comparison services:
// render requests with on-demand resource uploads, render status polling,
// comparison sessions and screenshot uploads.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/vgrid/connectivity"
	"github.com/hazyhaar/vgrid/idgen"
	"github.com/hazyhaar/vgrid/resource"
	"github.com/hazyhaar/vgrid/safe"
)

const (
	apiPath = "/api/sessions"

	// maxResponseBody caps what is read from the services.
	maxResponseBody int64 = 20 << 20
)

var (
	// ErrNoAPIKey is returned by NewClient when no API key is configured.
	ErrNoAPIKey = errors.New("render: api key is required")
	// ErrUnauthorized is returned when a service rejects the credentials.
	ErrUnauthorized = errors.New("render: unauthorized")
)

// Ledger remembers which content hashes were already uploaded so a
// resource is sent at most once.
type Ledger interface {
	Uploaded(ctx context.Context, hash string) (bool, error)
	RecordUpload(ctx context.Context, hash, contentType string, size int) error
}

// Config configures a Client.
type Config struct {
	ServerURL  string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Retries    int           // default 3
	Backoff    time.Duration // default 500ms
	Ledger     Ledger        // optional
	// IDs names uploaded blobs. Default: idgen.UUIDv7.
	IDs        idgen.Generator
}

// Client is a render and comparison service client. It is safe for
// concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	breaker *connectivity.CircuitBreaker

	mu   sync.Mutex
	info *RenderingInfo
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("render: server url is required")
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUIDv7()
	}
	return &Client{
		cfg:     cfg,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		breaker: connectivity.NewCircuitBreaker(),
	}, nil
}

// SetRenderingInfo installs rendering info obtained elsewhere.
func (c *Client) SetRenderingInfo(info RenderingInfo) {
	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()
}

type call struct {
	name        string
	method      string
	url         string
	body        []byte
	contentType string
	header      http.Header
	ok          []int
	out         any
}

// do runs a call with retries. Server errors count against the circuit
// breaker; client errors are returned at once.
func (c *Client) do(ctx context.Context, cl call) (int, error) {
	var code int
	policy := connectivity.RetryPolicy{
		MaxRetries: c.cfg.Retries,
		Backoff:    c.cfg.Backoff,
		Logger:     c.logger.With("call", cl.name),
	}
	err := connectivity.Retry(ctx, policy, func(ctx context.Context, _ int) error {
		var permanent error
		err := c.breaker.Do(ctx, "render", func(ctx context.Context) error {
			var err error
			code, err = c.once(ctx, cl)
			if connectivity.IsPermanent(err) {
				permanent = err
				return nil
			}
			return err
		})
		if permanent != nil {
			return permanent
		}
		return err
	})
	if err != nil {
		return code, fmt.Errorf("render: %s: %w", cl.name, err)
	}
	return code, nil
}

func (c *Client) once(ctx context.Context, cl call) (int, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, body)
	if err != nil {
		return 0, connectivity.Permanent(err)
	}
	for k, vs := range cl.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := safe.LimitedReadAll(resp.Body, maxResponseBody)
	if err != nil {
		return resp.StatusCode, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, connectivity.Permanent(ErrUnauthorized)
	case !slices.Contains(cl.ok, resp.StatusCode):
		se := &connectivity.StatusError{Method: cl.method, URL: redact(cl.url), Code: resp.StatusCode}
		if se.Temporary() {
			return resp.StatusCode, se
		}
		return resp.StatusCode, connectivity.Permanent(se)
	}

	if cl.out != nil && len(data) > 0 && cl.method != http.MethodHead {
		if err := json.Unmarshal(data, cl.out); err != nil {
			return resp.StatusCode, connectivity.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) serverURL(parts ...string) string {
	u := c.cfg.ServerURL + apiPath + strings.Join(parts, "")
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "apiKey=" + url.QueryEscape(c.cfg.APIKey)
}

func jsonBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("render: encode: %w", err)
	}
	return b, nil
}

// redact drops the api key from URLs that end up in errors and logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("apiKey") {
		q.Set("apiKey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return resource.RedactURL(u.String())
}
