// Package apiclient is the authenticated HTTP client for the reconciliation API.
//
// Callers use Client like a plain HTTP client. Bearer credentials are attached
// from a credstore.Store, and an expired access token (HTTP 401) is renewed
// transparently: one refresh call per epoch, every concurrent 401 waits for its
// outcome and is replayed once with the new token.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/recon-cli/credstore"
)

// Auth endpoints, relative to the API base URL.
const (
	PathLogin          = "/auth/login"
	PathRefresh        = "/auth/refresh"
	PathLogout         = "/auth/logout"
	PathForgotPassword = "/auth/forgot-password"
	PathResetPassword  = "/auth/reset-password"
)

// HeaderRequestID carries a per-call ID that stays the same across a replay.
const HeaderRequestID = "X-Request-ID"

const (
	defaultRefreshTimeout = 15 * time.Second
	maxErrorBodySize      = 1 << 20
)

// Doer issues HTTP requests. *retry.Client satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client attaches credentials to outgoing requests and coordinates refreshes.
// Each Client owns its own refresh state.
type Client struct {
	base     string
	basePath string
	doer     Doer
	store    credstore.Store
	log      *zap.Logger
	observer Observer

	refreshTimeout time.Duration
	onInvalid      func(Reason)

	session *sessionGuard
	refresh *coordinator
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the default retrying HTTP client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithObserver registers an Observer for coordinator events.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithRefreshTimeout bounds the refresh call. When it expires the epoch fails.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// WithSessionInvalidated sets the callback invoked once when the session ends,
// typically to send the user to LoginURL(base, reason).
func WithSessionInvalidated(fn func(Reason)) Option {
	return func(c *Client) { c.onInvalid = fn }
}

// NewDefaultDoer returns the retrying HTTP client used when no Doer is given.
func NewDefaultDoer() (*retry.Client, error) {
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	return retry.NewBackgroundClient(retry.WithHTTPClient(baseHTTPClient))
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, store credstore.Store, opts ...Option) (*Client, error) {
	if err := ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}

	base := strings.TrimRight(baseURL, "/")
	u, _ := url.Parse(base)

	c := &Client{
		base:           base,
		basePath:       u.Path,
		store:          store,
		log:            zap.NewNop(),
		observer:       NopObserver{},
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		d, err := NewDefaultDoer()
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		c.doer = d
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = defaultRefreshTimeout
	}

	c.session = &sessionGuard{
		store:     store,
		onInvalid: c.onInvalid,
		observer:  c.observer,
		log:       c.log,
	}
	c.refresh = &coordinator{
		store:    store,
		session:  c.session,
		observer: c.observer,
		log:      c.log,
		timeout:  c.refreshTimeout,
		renew:    c.refreshAccessToken,
		relPath:  c.relPath,
	}
	return c, nil
}

// ValidateBaseURL checks that rawURL is an absolute http(s) URL.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("API URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}

// NewRequest builds a request for path (relative to the base URL) with body
// encoded as JSON. The body can be replayed after a refresh.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends req with the current credentials. Responses with a status below 400
// are returned to the caller, who must close the body. Any other status is
// returned as *APIError; transport errors are returned unchanged.
//
// A 401 on a non-auth endpoint triggers a refresh and a single replay. The
// caller only ever sees the replayed result or a terminal error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if !isRetried(req) {
		c.attach(req)
	}

	resp, err := c.doer.DoWithContext(req.Context(), req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		cause := newAPIError(req, resp)
		tok, err := c.refresh.handleAuthFailure(req, cause)
		if err != nil {
			return nil, err
		}
		next, err := replayRequest(req, tok)
		if err != nil {
			return nil, err
		}
		c.log.Debug("replaying request",
			zap.String("method", next.Method),
			zap.String("path", next.URL.Path),
			zap.String("request_id", next.Header.Get(HeaderRequestID)),
		)
		return c.do(next)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, newAPIError(req, resp)
	}
	return resp, nil
}

// attach sets the bearer header from the store. A store that cannot be read is
// treated as holding no credentials.
func (c *Client) attach(req *http.Request) {
	req.Header.Del("Authorization")
	if tok := c.currentToken(req.Context()); tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(req)
	}
}

func (c *Client) currentToken(ctx context.Context) *oauth2.Token {
	tok, err := c.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			c.log.Warn("credential store unavailable", zap.Error(err))
		}
		return nil
	}
	return tok
}

// relPath strips the base path so auth endpoints match regardless of where
// the API is mounted.
func (c *Client) relPath(req *http.Request) string {
	return strings.TrimPrefix(req.URL.Path, c.basePath)
}

// GetJSON issues GET path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues POST path with in as the JSON body and decodes into out.
// A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, in, out)
}

// DeleteJSON issues DELETE path.
func (c *Client) DeleteJSON(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// newAPIError drains and closes resp.
func newAPIError(req *http.Request, resp *http.Response) *APIError {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &APIError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		Path:       req.URL.Path,
		Body:       bytes.TrimSpace(body),
	}
}
