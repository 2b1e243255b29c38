// Package client talks to the notifier HTTP API on behalf of one recipient
// and keeps a local aggregated view in sync with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwalitptl/notifier/internal/model"
)

const (
	apiPrefix    = "/api/v1"
	headerUserID = "X-User-ID"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("notifier: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("notifier: HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	userID  int64
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

type Option func(*Client)

// WithHTTPClient replaces the default client used for REST calls and SSE.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken authenticates with a bearer token instead of the X-User-ID
// header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, userID int64, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dialer = newWSDialer()
	return c
}

func (c *Client) UserID() int64 { return c.userID }

func (c *Client) url(path string) string {
	return c.baseURL + apiPrefix + path
}

func (c *Client) identify(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
		return
	}
	h.Set(headerUserID, strconv.FormatInt(c.userID, 10))
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.identify(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// Fetch returns the authoritative aggregated view, newest group first.
func (c *Client) Fetch(ctx context.Context) ([]model.AggregatedNotification, error) {
	var view []model.AggregatedNotification
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &view); err != nil {
		return nil, err
	}
	for i := range view {
		view[i].LatestTimestamp = model.Timestamp(view[i].LatestTimestamp)
	}
	return view, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Unread int `json:"unread"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Unread, nil
}

func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/notifications/read-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// Submit records an event. It needs no recipient identity.
func (c *Client) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	var out model.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/notifications", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Types(ctx context.Context) ([]model.NotificationType, error) {
	var out []model.NotificationType
	if err := c.do(ctx, http.MethodGet, "/notification-types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// retryDelay is base·2^n capped at max.
func retryDelay(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
