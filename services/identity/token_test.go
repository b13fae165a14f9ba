package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keysync/pkg/apperr"
)

func TestRefreshingSourceWaitsForFirstToken(t *testing.T) {
	release := make(chan struct{})
	src := NewRefreshingSource(FetcherFunc(func(ctx context.Context) (string, error) {
		<-release
		return "tok-1", nil
	}), time.Hour, zerolog.Nop())
	src.SetFirstTokenWait(2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestRefreshingSourceTimesOut(t *testing.T) {
	src := NewRefreshingSource(FetcherFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("identity server down")
	}), time.Hour, zerolog.Nop())
	src.SetFirstTokenWait(30*time.Millisecond, 5*time.Millisecond)

	_, err := src.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.AuthUnavailable))
}

func TestRefreshReplacesToken(t *testing.T) {
	var n atomic.Int32
	src := NewRefreshingSource(FetcherFunc(func(ctx context.Context) (string, error) {
		if n.Add(1) == 1 {
			return "first", nil
		}
		return "second", nil
	}), time.Hour, zerolog.Nop())

	require.NoError(t, src.Refresh(context.Background()))
	tok, _ := src.Token(context.Background())
	assert.Equal(t, "first", tok)

	require.NoError(t, src.Refresh(context.Background()))
	tok, _ = src.Token(context.Background())
	assert.Equal(t, "second", tok)
}

func TestRefreshRejectsEmptyToken(t *testing.T) {
	src := NewRefreshingSource(FetcherFunc(func(ctx context.Context) (string, error) {
		return "", nil
	}), 0, zerolog.Nop())
	assert.Error(t, src.Refresh(context.Background()))
	assert.Equal(t, defaultRefreshInterval, src.interval)
}

func TestClientCredentialsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "admin-cli", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	tok, err := ClientCredentials{TokenURL: srv.URL, ClientID: "admin-cli", ClientSecret: "s3cret"}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestClientCredentialsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := ClientCredentials{TokenURL: srv.URL, ClientID: "x"}.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
