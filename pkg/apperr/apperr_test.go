package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", New(KindNotFound, MsgClientNotFound, ClientNotFoundKeycloak))

	assert.True(t, errors.Is(err, NotFound))
	assert.False(t, errors.Is(err, UpstreamUnavailable))
}

func TestWrapHidesForeignErrors(t *testing.T) {
	raw := errors.New("pq: relation \"client_details\" does not exist")

	wrapped := Wrap(raw, "")
	require.NotNil(t, wrapped)
	assert.Equal(t, KindInternal, wrapped.Kind)
	assert.Equal(t, InternalServerError, wrapped.Details)
	assert.ErrorIs(t, wrapped, raw)

	body := BodyOf(raw)
	assert.Equal(t, http.StatusInternalServerError, body.Status)
	assert.NotContains(t, body.Message, "pq:")
	assert.NotContains(t, body.Details, "pq:")
}

func TestWrapKeepsAppErrors(t *testing.T) {
	orig := New(KindConflict, MsgClientAlreadyActive, ClientAlreadyActive)
	assert.Same(t, orig, Wrap(orig, "ignored"))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth", New(KindAuthUnavailable, MsgAdminTokenUnavailable, ErrorAdminTokenFetch), http.StatusUnauthorized},
		{"upstream down", New(KindUpstreamUnavailable, MsgUpstreamUnavailable, KeycloakConnectionError), http.StatusServiceUnavailable},
		{"upstream status", New(KindUpstreamRejected, MsgUpstreamRejected, ClientCreationFailed).WithStatus(http.StatusForbidden), http.StatusForbidden},
		{"validation", New(KindValidation, MsgInvalidInput, InvalidInput), http.StatusBadRequest},
		{"foreign", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}
