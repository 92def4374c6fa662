// Package rest implements the GoMess REST API client consumed by the
// synchronization core. Responses arrive in inconsistently nested
// envelopes (top-level, under "data", sometimes doubly nested), so every
// decode goes through a defensive unwrap.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Credentials is the slice of the session the transport needs: the bearer
// token, a place to put a refreshed one, and the kill switch when the
// backend stops recognizing us.
type Credentials interface {
	Token() string
	SetToken(token string)
	Clear()
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// IsAuthError reports whether err carries a 401/403 StatusError. Endpoint
// methods wrap their errors, so this must unwrap.
func IsAuthError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// Options configures the client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RefreshMaxAttempts bounds how many times a single request may retry
	// after a token refresh. Zero disables the refresh-retry loop.
	RefreshMaxAttempts int
	// RetryMaxElapsed caps transient-error retries per request.
	RetryMaxElapsed time.Duration
}

// Client talks to the GoMess backend. All methods are safe for concurrent
// use; token refresh is single-flight across callers.
type Client struct {
	base    string
	http    *http.Client
	creds   Credentials
	logger  *zap.Logger
	opts    Options
	refresh *refresher
}

// New creates a REST client. The cookie jar carries the httponly refresh
// cookie set by login, which /auth/refresh depends on.
func New(opts Options, creds Credentials, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = 10 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	c := &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		http:   &http.Client{Timeout: opts.Timeout, Jar: jar},
		creds:  creds,
		logger: logger,
		opts:   opts,
	}
	c.refresh = newRefresher(c)
	return c
}

// refreshExempt lists endpoints that must never trigger the refresh-retry
// loop: a 401 from these is a real answer, not an expired token.
var refreshExempt = []string{"/auth/refresh", "/auth/login", "/auth/register"}

func isRefreshExempt(path string) bool {
	for _, p := range refreshExempt {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// doJSON performs a request with a JSON body (nil for none) and decodes the
// unwrapped response into out (nil to discard). Auth failures on
// non-exempt endpoints go through the bounded single-flight refresh policy.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempt := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.send(req)
	}

	raw, err := attempt()
	for tries := 0; IsAuthError(err) && !isRefreshExempt(path) && tries < c.opts.RefreshMaxAttempts; tries++ {
		if rerr := c.refresh.do(ctx); rerr != nil {
			c.creds.Clear()
			return err
		}
		raw, err = attempt()
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(raw, out)
}

// send executes one HTTP request with bearer auth and transient-error
// backoff, returning the response body.
func (c *Client) send(req *http.Request) ([]byte, error) {
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var raw []byte
	operation := func() error {
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)})
		}
		raw = body
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.opts.RetryMaxElapsed
	if req.Body != nil || req.Method != http.MethodGet {
		// Request bodies are not replayable here; only retry idempotent GETs.
		b.MaxElapsedTime = time.Nanosecond
	}
	err := backoff.Retry(operation, backoff.WithContext(b, req.Context()))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// decode unmarshals raw into out after peeling response envelopes.
func decode(raw []byte, out any) error {
	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// unwrap descends through "data" envelopes. It never descends into
// "message" here: several payloads legitimately contain a message object
// next to sibling fields, so callers that expect one unwrap it explicitly.
func unwrap(raw []byte) []byte {
	for i := 0; i < 4; i++ {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return raw
		}
		inner, ok := envelope["data"]
		if !ok || len(inner) == 0 || inner[0] != '{' && inner[0] != '[' {
			return raw
		}
		raw = inner
	}
	return raw
}

// unwrapKey extracts a named field after envelope peeling, used for
// responses nested like {"data":{"message":{...}}}.
func unwrapKey(raw []byte, key string) ([]byte, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(unwrap(raw), &envelope); err != nil {
		return nil, false
	}
	inner, ok := envelope[key]
	return inner, ok
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
