package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	offline "cosafe/internal/offline/domain"
)

const maxBodyBytes = 16 << 20

// ErrBodyTooLarge rejects responses that would otherwise be cached truncated.
var ErrBodyTooLarge = errors.New("upstream: response body too large")

// hop-by-hop headers are never forwarded.
var hopHeaders = []string{"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade", "Te", "Trailer"}

// Client fetches from the UI origin the offline router fronts.
type Client struct {
	baseURL string
	client  *http.Client
	maxBody int64
}

// Option customizes the client.
type Option func(*Client)

// WithMaxBody overrides the largest response body accepted.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// NewClient constructs an upstream client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("upstream: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		maxBody: maxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch performs the request. Transport failures are returned as errors, HTTP statuses as responses.
func (c *Client) Fetch(ctx context.Context, r offline.Request) (offline.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+r.Key(), bytes.NewReader(r.Body))
	if err != nil {
		return offline.Response{}, err
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return offline.Response{}, fmt.Errorf("upstream: %s %s: %w", method, r.Key(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return offline.Response{}, fmt.Errorf("upstream: read body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return offline.Response{}, fmt.Errorf("%w: %s %s", ErrBodyTooLarge, method, r.Key())
	}
	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return offline.Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}
