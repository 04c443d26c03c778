// Package apiclient calls the diary API on behalf of a signed-in user. Every
// call carries the current bearer token, and a 401 from the API ends the
// session on the spot.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// TokenSource provides bearer tokens and is told to sign out on a 401.
// *session.Manager satisfies it.
type TokenSource interface {
	UsableToken(ctx context.Context) (string, bool)
	SignOut() error
}

// Redirector sends the user back to the sign-in entry point after a forced
// sign-out.
type Redirector interface {
	RedirectToSignIn(ctx context.Context)
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(ctx context.Context)

// RedirectToSignIn calls f.
func (f RedirectFunc) RedirectToSignIn(ctx context.Context) {
	f(ctx)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRedirector sets the action taken after a forced sign-out.
func WithRedirector(r Redirector) Option {
	return func(c *Client) {
		if r != nil {
			c.redirector = r
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client performs authenticated calls against the diary API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	http       *http.Client
	redirector Redirector
	logger     *slog.Logger
}

// New returns a Client rooted at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		http:       &http.Client{Timeout: 30 * time.Second},
		redirector: RedirectFunc(func(context.Context) {}),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends body as JSON (when non-nil) to path and returns the raw response
// body of a 2xx answer.
func (c *Client) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		if token, ok := c.tokens.UsableToken(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			c.logger.Debug("sending unauthenticated request", "method", method, "path", path)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	if res.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("authorization rejected, signing out", "method", method, "path", path)
		if c.tokens != nil {
			if err := c.tokens.SignOut(); err != nil {
				c.logger.Error("sign out after 401", "error", err)
			}
		}
		c.redirector.RedirectToSignIn(ctx)
		return nil, ErrAuthorizationExpired
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{Status: res.StatusCode, Message: errorMessage(res.Header.Get("Content-Type"), data)}
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("API error: %d", res.StatusCode)
		}
		c.logger.Debug("api error", "method", method, "path", path, "status", res.StatusCode, "message", apiErr.Message)
		return nil, apiErr
	}

	return json.RawMessage(data), nil
}

// errorMessage extracts error or detail from a JSON body and falls back to the
// raw text otherwise.
func errorMessage(contentType string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/json" {
		var body struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(data, &body); err == nil {
			if body.Error != "" {
				return body.Error
			}
			return body.Detail
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := c.Call(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
