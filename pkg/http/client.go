package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const MethodPost = http.MethodPost

const defaultRetryWait = 500 * time.Millisecond

// ClientOption configures Client.
type ClientOption func(*Client)

// RequestOptions holds the parameters of a single outbound request.
type RequestOptions struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    interface{}
}

// Client posts JSON payloads to external endpoints. Transport errors and 5xx
// responses are retried a bounded number of times; 4xx responses fail
// immediately since re-sending the same payload cannot fix them.
type Client struct {
	timeout   time.Duration
	retries   int
	retryWait time.Duration
	client    *http.Client
}

// NewClient creates an outbound HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:   30 * time.Second,
		retryWait: defaultRetryWait,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.client = &http.Client{Timeout: c.timeout}
	return c
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetries re-sends a failed request up to max extra times, waiting wait
// between attempts.
func WithRetries(max int, wait time.Duration) ClientOption {
	return func(c *Client) {
		if max > 0 {
			c.retries = max
		}
		if wait > 0 {
			c.retryWait = wait
		}
	}
}

// SendAndParse sends the request and decodes the JSON response into dest.
// A nil dest discards the response body.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		retriable, err := c.send(ctx, opts, dest)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retriable || attempt >= c.retries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryWait):
		}
	}
}

// send performs one attempt. The bool reports whether the failure is worth
// retrying. The request is rebuilt per attempt so the body is re-encoded
// after a consumed first try.
func (c *Client) send(ctx context.Context, opts *RequestOptions, dest interface{}) (bool, error) {
	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode >= 500, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false, fmt.Errorf("decode json: %w", err)
	}
	return false, nil
}

func (c *Client) buildRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func encodeBody(body interface{}) (io.Reader, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return bytes.NewReader(encoded), nil
	}
}
