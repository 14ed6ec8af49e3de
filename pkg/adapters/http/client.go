package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/foundry/internal/logging"
	"github.com/aretw0/foundry/pkg/ports"
	"github.com/aretw0/foundry/pkg/protocol"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	// DefaultRequestTimeout bounds approve/revise/status calls. The backend runs the
	// next agent iteration inside revise, so this is generous.
	DefaultRequestTimeout = 5 * time.Minute

	// RequestIDHeader correlates dashboard requests with backend logs.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 64 << 10
)

var _ ports.Backend = (*Client)(nil)

// Client talks to the drafting backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Timeout must be zero
// or the start stream is cut off.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRequestTimeout bounds each command call. The start stream is not bounded.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClientLogger configures a logger for the Client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultRequestTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start posts the goal and returns the open event stream.
func (c *Client) Start(ctx context.Context, req protocol.StartRequest) (io.ReadCloser, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/start", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, commandError("start", resp.StatusCode, body)
	}
	c.logger.Debug("start stream opened", "request_id", httpReq.Header.Get(RequestIDHeader))
	return resp.Body, nil
}

// Approve posts the final draft.
func (c *Client) Approve(ctx context.Context, req protocol.ApproveRequest) ([]byte, error) {
	return c.do(ctx, "approve", http.MethodPost, "/approve", req)
}

// Revise posts the edited draft for another iteration.
func (c *Client) Revise(ctx context.Context, req protocol.ReviseRequest) ([]byte, error) {
	return c.do(ctx, "revise", http.MethodPost, "/revise", req)
}

// Status fetches the backend snapshot of threadID.
func (c *Client) Status(ctx context.Context, threadID string) ([]byte, error) {
	return c.do(ctx, "status", http.MethodGet, "/status/"+url.PathEscape(threadID), nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	c.logger.Debug("backend call",
		"op", op,
		"status_code", resp.StatusCode,
		"duration", time.Since(started),
		"request_id", req.Header.Get(RequestIDHeader),
	)
	if resp.StatusCode/100 != 2 {
		return nil, commandError(op, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

// maxErrorDetail caps the backend message carried into last_error, in bytes.
const maxErrorDetail = 512

// commandError extracts the FastAPI style {"detail": ...} message when present.
func commandError(op string, code int, body []byte) *protocol.CommandError {
	detail := strings.TrimSpace(string(body))
	if d := gjson.GetBytes(body, "detail"); d.Exists() {
		if d.Type == gjson.String {
			detail = d.Str
		} else {
			detail = d.Raw
		}
	}
	if len(detail) > maxErrorDetail {
		n := maxErrorDetail
		for n > 0 && !utf8.RuneStart(detail[n]) {
			n--
		}
		detail = detail[:n]
	}
	return &protocol.CommandError{Op: op, StatusCode: code, Detail: detail}
}
