// Package backend is the typed client for the platform REST API. Every
// response follows the `{success, data, error}` envelope; this package is
// the only place that envelope is decoded. Not-found is reported as
// ErrNotFound, distinct from transport or server failure, so views can
// render an explicit empty state instead of a failure banner.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("backend: not found")

	// ErrRemote wraps a 2xx response carrying success:false.
	ErrRemote = errors.New("backend: request rejected")

	ErrInvalidNumber = errors.New("backend: phone number must be E.164-normalizable")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: http %d: %s", e.Code, e.Body)
}

type Config struct {
	BaseURL string
	// Token is sent as a bearer credential on every request.
	Token   string
	Timeout time.Duration
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("backend: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("backend: decode envelope: %w", err)
	}
	if !env.Success {
		if isNotFoundMessage(env.Error) {
			return fmt.Errorf("%s %s: %s: %w", method, path, env.Error, ErrNotFound)
		}
		return fmt.Errorf("%s %s: %s: %w", method, path, env.Error, ErrRemote)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("backend: decode data: %w", err)
		}
	}
	return nil
}

func isNotFoundMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "not found")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// NormalizeE164 validates and normalizes a dialable number: optional +,
// 8-15 digits, separators stripped. Validation happens before any network
// call is made.
func NormalizeE164(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidNumber, r)
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %d digits", ErrInvalidNumber, len(digits))
	}
	if digits[0] == '0' {
		return "", fmt.Errorf("%w: leading zero country code", ErrInvalidNumber)
	}
	return "+" + digits, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
