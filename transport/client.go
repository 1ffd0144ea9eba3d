package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"polisflow/metrics"
)

const errBodyLimit = 2048

// Error describes a failed exchange with a carrier endpoint. Status zero
// means the carrier was unreachable.
type Error struct {
	Carrier string
	Method  string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s %s: carrier returned %d: %s", e.Carrier, e.Method, e.Status, e.Body)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Carrier, e.Method, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether a retry could succeed: network failures and
// carrier-side 5xx responses qualify, 4xx responses do not.
func (e *Error) Temporary() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

// Client wraps an HTTP client with the per-call retry policy, logging and
// metrics every carrier driver shares. Non-2xx responses and malformed
// bodies come back as *Error.
type Client struct {
	http    *http.Client
	carrier string
	log     *zap.Logger
	metrics *metrics.Metrics

	// retry knobs, overridable in tests
	maxRetries    uint64
	retryInterval time.Duration
}

// NewClient builds a client for one carrier. Timeout bounds each individual
// attempt; the caller's context bounds the whole call including retries.
func NewClient(carrier string, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		http:          &http.Client{Timeout: timeout},
		carrier:       carrier,
		log:           log,
		metrics:       m,
		maxRetries:    2,
		retryInterval: 250 * time.Millisecond,
	}
}

// SetRetries overrides the retry budget for transient failures.
func (c *Client) SetRetries(max uint64, interval time.Duration) {
	c.maxRetries = max
	if interval > 0 {
		c.retryInterval = interval
	}
}

// PostJSON posts in as JSON and decodes the response into out when out is
// non-nil.
func (c *Client) PostJSON(ctx context.Context, method, rawURL string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &Error{Carrier: c.carrier, Method: method, Err: fmt.Errorf("encode request: %w", err)}
	}

	body, err := c.do(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		applyHeaders(req, headers)
		return req, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{
			Carrier: c.carrier,
			Method:  method,
			Status:  http.StatusOK,
			Body:    truncate(body),
			Err:     fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

// PostForm posts URL-encoded form values and returns the raw response body.
func (c *Client) PostForm(ctx context.Context, method, rawURL string, headers map[string]string, form url.Values) ([]byte, error) {
	encoded := form.Encode()
	return c.do(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		applyHeaders(req, headers)
		return req, nil
	})
}

// PostXML posts a SOAP envelope and returns the raw response body.
func (c *Client) PostXML(ctx context.Context, method, rawURL, soapAction string, envelope []byte) ([]byte, error) {
	return c.do(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(envelope))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		if soapAction != "" {
			req.Header.Set("SOAPAction", soapAction)
		}
		return req, nil
	})
}

// Get performs a GET and returns the raw response body.
func (c *Client) Get(ctx context.Context, method, rawURL string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		applyHeaders(req, headers)
		return req, nil
	})
}

func (c *Client) do(ctx context.Context, method string, build func() (*http.Request, error)) ([]byte, error) {
	start := time.Now()

	var body []byte
	attempt := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(&Error{Carrier: c.carrier, Method: method, Err: err})
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn("carrier request failed",
				zap.String("carrier", c.carrier),
				zap.String("method", method),
				zap.Error(err))
			return &Error{Carrier: c.carrier, Method: method, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Error{Carrier: c.carrier, Method: method, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			terr := &Error{Carrier: c.carrier, Method: method, Status: resp.StatusCode, Body: truncate(data)}
			c.log.Warn("carrier returned error status",
				zap.String("carrier", c.carrier),
				zap.String("method", method),
				zap.Int("status", resp.StatusCode),
				zap.String("body", terr.Body))
			if !terr.Temporary() {
				return backoff.Permanent(terr)
			}
			return terr
		}

		body = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveCall(c.carrier, method, outcome, time.Since(start))

	if err != nil {
		if terr, ok := err.(*Error); ok {
			return nil, terr
		}
		return nil, &Error{Carrier: c.carrier, Method: method, Err: err}
	}
	return body, nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func truncate(body []byte) string {
	if len(body) > errBodyLimit {
		return string(body[:errBodyLimit])
	}
	return string(body)
}
