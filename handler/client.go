package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 4096 // 4KB cap on provider response bodies

// Response is the raw outcome of one provider HTTP call.
type Response struct {
	StatusCode int
	Body       []byte
	LatencyMs  int
}

// Client performs JSON requests against provider APIs.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient creates a client with the given per-request timeout. A zero
// timeout leaves cancellation to the caller's context.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: "graniteshield-outbox/1.0",
	}
}

// WithHTTPClient returns a copy of c that uses hc for transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.http = hc
	return &cp
}

// PostJSON marshals body and POSTs it to url with the given headers.
// A non-nil error means no HTTP response was received.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any) (*Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Response{StatusCode: resp.StatusCode, LatencyMs: latency}, nil
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		LatencyMs:  latency,
	}, nil
}

// Classify turns a provider call outcome into a Result.
//
// Decision matrix:
//   - transport error or timeout → retryable
//   - 2xx → ok
//   - 408, 425, 429 → retryable
//   - other 4xx → not retryable (the request itself is wrong)
//   - 5xx and anything else → retryable
func Classify(provider string, resp *Response, err error) Result {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Retry(fmt.Sprintf("%s: %s", provider, ReasonTimeout))
		}
		return Retry(fmt.Sprintf("%s request failed: %v", provider, err))
	}

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return Success("")
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return Retry(describe(provider, resp))
	case code >= 400 && code < 500:
		return Fail(describe(provider, resp))
	default:
		return Retry(describe(provider, resp))
	}
}

func describe(provider string, resp *Response) string {
	body := bytes.TrimSpace(resp.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	if len(body) == 0 {
		return fmt.Sprintf("%s %d", provider, resp.StatusCode)
	}
	return fmt.Sprintf("%s %d: %s", provider, resp.StatusCode, body)
}
