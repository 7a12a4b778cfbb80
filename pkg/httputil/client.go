package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/matzehuels/sitepix/pkg/buildinfo"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/observability"
)

// DefaultMaxBytes caps a single remote image at 32 MiB.
const DefaultMaxBytes = 32 << 20

// Client fetches remote images with retries.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	MaxBytes  int64

	// Attempts and Delay configure Retry. Zero values use 3 and 1s.
	Attempts int
	Delay    time.Duration
}

// NewClient returns a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: "sitepix/" + buildinfo.Version,
		MaxBytes:  DefaultMaxBytes,
	}
}

// Response is a successful fetch.
type Response struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	if err := errs.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "parse %s", rawURL)
	}

	attempts, delay := c.Attempts, c.Delay
	if attempts == 0 {
		attempts = 3
	}
	if delay == 0 {
		delay = time.Second
	}

	var resp *Response
	err = Retry(ctx, attempts, delay, func() error {
		var err error
		resp, err = c.do(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, u *url.URL) (*Response, error) {
	hooks := observability.HTTP()
	hooks.OnRequest(ctx, http.MethodGet, u.Host, u.Path)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "build request for %s", u)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		hooks.OnError(ctx, http.MethodGet, u.Host, u.Path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Retryable(errs.Wrap(errs.ErrCodeNetwork, err, "fetch %s", u))
	}
	defer res.Body.Close()
	hooks.OnResponse(ctx, http.MethodGet, u.Host, u.Path, res.StatusCode, time.Since(start))

	switch {
	case res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusGone:
		return nil, errs.New(errs.ErrCodeSourceNotFound, "remote image not found: %s (%d)", u, res.StatusCode)
	case res.StatusCode == http.StatusTooManyRequests, res.StatusCode >= 500:
		return nil, Retryable(errs.New(errs.ErrCodeNetwork, "fetch %s: %s", u, res.Status))
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, errs.New(errs.ErrCodeNetwork, "fetch %s: %s", u, res.Status)
	}

	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, Retryable(errs.Wrap(errs.ErrCodeNetwork, err, "read %s", u))
	}
	if int64(len(body)) > limit {
		return nil, errs.New(errs.ErrCodeNetwork, "remote image %s exceeds %s", u, formatBytes(limit))
	}

	return &Response{
		Body:         body,
		ContentType:  res.Header.Get("Content-Type"),
		ETag:         res.Header.Get("ETag"),
		LastModified: res.Header.Get("Last-Modified"),
	}, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
