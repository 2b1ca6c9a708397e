// ABOUTME: REST client for the seller backend built on resty
// ABOUTME: Handles auth, request ids, timeouts, and the success/error envelope

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// DefaultTimeout bounds every request when Options.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// RequestIDHeader carries a per-request uuid for correlating backend logs.
const RequestIDHeader = "X-Request-ID"

// ErrNotConfigured is returned by New when no base URL is given.
var ErrNotConfigured = errors.New("api client is not configured")

// Error is a request the backend rejected, either with an HTTP error status
// or with success=false in the response body.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (%d)", e.Status)
	}
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client calls the seller backend.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a Client for the backend at opts.BaseURL.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "marketdesk/1.0").
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout)
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}
	if opts.Transport != nil {
		httpClient.SetTransport(opts.Transport)
	}
	httpClient.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(RequestIDHeader) == "" {
			r.SetHeader(RequestIDHeader, uuid.NewString())
		}
		return nil
	})

	return &Client{http: httpClient, logger: logger}, nil
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// envelope is the status part every object response shares.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (e envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Detail
}

// do executes a request and decodes the body into out. op names the call in
// wrapped errors.
func (c *Client) do(ctx context.Context, op, method, path string, build func(*resty.Request), out any) error {
	req := c.http.R().SetContext(ctx)
	if build != nil {
		build(req)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.logger.Debug("backend request",
		"method", method,
		"path", resp.Request.URL,
		"status", resp.StatusCode(),
		"request_id", resp.Request.Header.Get(RequestIDHeader),
		"duration", time.Since(start),
	)

	body := resp.Body()
	var env envelope
	if isObject(body) {
		if err := json.Unmarshal(body, &env); err != nil {
			c.logger.Debug("response envelope did not decode", "path", resp.Request.URL, "status", resp.StatusCode(), "error", err)
		}
	}

	if resp.IsError() {
		msg := env.text()
		if msg == "" && !isObject(body) {
			msg = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("%s: %w", op, &Error{Status: resp.StatusCode(), Message: msg})
	}
	if env.Success != nil && !*env.Success {
		return fmt.Errorf("%s: %w", op, &Error{Status: resp.StatusCode(), Message: env.text()})
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return nil
}

func isObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// dataEnvelope unwraps {"success": true, "data": ...} responses.
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

// statusResult is the common {"success", "message"} reply to mutations.
type statusResult struct {
	Message string `json:"message"`
}

// createdResult is the reply to create calls that return a new id.
type createdResult struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}
