package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"keysync/pkg/apperr"
)

const (
	defaultRefreshInterval = 4 * time.Minute
	defaultFirstTokenWait  = 5 * time.Second
	defaultFirstTokenPoll  = 100 * time.Millisecond
)

// TokenSource supplies the bearer token for admin API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Refreshable token sources can be told to fetch a new token immediately,
// which the client does after a 401.
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Fetcher obtains a new token from the identity server.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", apperr.New(apperr.KindAuthUnavailable, apperr.MsgAdminTokenUnavailable, apperr.ErrorAdminTokenFetch)
	}
	return string(s), nil
}

// RefreshingSource keeps the latest token in an atomic slot and refreshes it
// on a fixed interval from a background goroutine.
type RefreshingSource struct {
	fetcher  Fetcher
	logger   zerolog.Logger
	interval time.Duration
	wait     time.Duration
	poll     time.Duration

	token   atomic.Pointer[string]
	fetchMu sync.Mutex
	started atomic.Bool
}

// NewRefreshingSource builds a source around fetcher. A zero interval uses the
// default of four minutes.
func NewRefreshingSource(fetcher Fetcher, interval time.Duration, logger zerolog.Logger) *RefreshingSource {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &RefreshingSource{
		fetcher:  fetcher,
		logger:   logger,
		interval: interval,
		wait:     defaultFirstTokenWait,
		poll:     defaultFirstTokenPoll,
	}
}

// SetFirstTokenWait overrides how long Token blocks for the first token.
func (s *RefreshingSource) SetFirstTokenWait(wait, poll time.Duration) {
	s.wait, s.poll = wait, poll
}

// Start fetches immediately and then every interval until ctx is done.
// Calling Start more than once is a no-op.
func (s *RefreshingSource) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		s.refreshLogged(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("admin token refresher stopped")
				return
			case <-ticker.C:
				s.refreshLogged(ctx)
			}
		}
	}()
	s.logger.Info().Dur("interval", s.interval).Msg("admin token refresher started")
}

func (s *RefreshingSource) refreshLogged(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("refresh admin token")
		return
	}
	s.logger.Debug().Msg("admin token refreshed")
}

// Refresh fetches a token now and stores it.
func (s *RefreshingSource) Refresh(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	tok, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("identity: empty token returned")
	}
	s.token.Store(&tok)
	return nil
}

// Token returns the cached token, waiting a bounded time for the first one.
func (s *RefreshingSource) Token(ctx context.Context) (string, error) {
	if tok := s.token.Load(); tok != nil {
		return *tok, nil
	}

	deadline := time.NewTimer(s.wait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", apperr.Newf(apperr.KindAuthUnavailable, ctx.Err(), apperr.MsgAdminTokenUnavailable, apperr.ErrorAdminTokenFetch)
		case <-deadline.C:
			if tok := s.token.Load(); tok != nil {
				return *tok, nil
			}
			return "", apperr.New(apperr.KindAuthUnavailable, apperr.MsgAdminTokenUnavailable, apperr.ErrorAdminTokenFetch)
		case <-ticker.C:
			if tok := s.token.Load(); tok != nil {
				return *tok, nil
			}
		}
	}
}

// ClientCredentials fetches admin tokens with the OAuth client credentials grant.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c ClientCredentials) Fetch(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}

	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("identity: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity: token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("identity: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("identity: token response missing access_token")
	}
	return tr.AccessToken, nil
}
