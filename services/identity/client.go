package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"keysync/pkg/apperr"
	"keysync/pkg/telemetry"
)

const (
	defaultAttempts       = 5
	defaultBackoffBase    = time.Second
	defaultBackoffCap     = 16 * time.Second
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 8 << 20
)

// Config controls how the admin client reaches the identity server.
type Config struct {
	// AdminURL is the realm admin base, e.g. https://kc/admin/realms/acme.
	AdminURL string
	Tokens   TokenSource

	HTTPClient     *http.Client
	Logger         zerolog.Logger
	Attempts       int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RequestTimeout time.Duration
}

// Client issues authenticated requests against the admin REST API.
type Client struct {
	base    string
	tokens  TokenSource
	http    *http.Client
	logger  zerolog.Logger
	tries   int
	backoff time.Duration
	cap     time.Duration
	timeout time.Duration
}

// Response is a fully read upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return apperr.Newf(apperr.KindUpstreamRejected, err, apperr.MsgUpstreamRejected, apperr.KeycloakResponseInvalid)
	}
	return nil
}

// UpstreamError reports a non-2xx answer. These are never retried.
type UpstreamError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("identity: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AdminURL) == "" {
		return nil, errors.New("identity: admin url is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("identity: token source is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Transport: telemetry.Transport(nil)}
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &Client{
		base:    strings.TrimRight(cfg.AdminURL, "/"),
		tokens:  cfg.Tokens,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		tries:   cfg.Attempts,
		backoff: cfg.BackoffBase,
		cap:     cfg.BackoffCap,
		timeout: cfg.RequestTimeout,
	}, nil
}

// Do sends one logical request. Transport failures are retried with capped
// exponential backoff; a 401 triggers one token refresh and a single retry.
// Non-2xx answers come back as *UpstreamError alongside the response.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, apperr.Newf(apperr.KindValidation, err, apperr.MsgInvalidInput, apperr.InvalidInput)
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		if r, ok := c.tokens.(Refreshable); ok {
			if rerr := r.Refresh(ctx); rerr != nil {
				c.logger.Warn().Err(rerr).Msg("token refresh after 401 failed")
			}
		}
		if resp, err = c.send(ctx, method, path, payload); err != nil {
			return nil, err
		}
	}

	if resp.Status < 200 || resp.Status > 299 {
		return resp, &UpstreamError{Method: method, Path: path, Status: resp.Status, Body: truncate(string(resp.Body), 512)}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	b := retry.NewExponential(c.backoff)
	b = retry.WithCappedDuration(c.cap, b)
	b = retry.WithMaxRetries(uint64(c.tries-1), b)

	attempt := 0
	var out *Response
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		start := time.Now()
		resp, err := c.once(ctx, method, path, token, payload)
		observe(method, resp, err, time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.logger.Warn().Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt).
				Msg("identity request failed, retrying")
			return retry.RetryableError(err)
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, apperr.Newf(apperr.KindUpstreamUnavailable, err, apperr.MsgUpstreamUnavailable, apperr.KeycloakConnectionError)
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, method, path, token string, payload []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
