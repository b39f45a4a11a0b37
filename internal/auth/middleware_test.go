package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/swotplanner/backend/internal/errors"
)

func principalEcho(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Header().Set("X-Subject", p.SubjectID.String())
	w.Header().Set("X-Role", string(p.Role))
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware(t *testing.T) {
	codec := newTestCodec(newTestClock())
	id := uuid.New()

	access, err := codec.IssueAccessToken(id.String(), "alice@example.com", RoleUser)
	require.NoError(t, err)
	refresh, err := codec.IssueRefreshToken(id.String())
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"bearer without token", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusForbidden},
		{"refresh token", "Bearer " + refresh, http.StatusForbidden},
		{"access token", "Bearer " + access, http.StatusOK},
		{"lowercase scheme", "bearer " + access, http.StatusOK},
	}

	handler := Middleware(codec)(http.HandlerFunc(principalEcho))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, id.String(), w.Header().Get("X-Subject"))
				return
			}

			var env apperrors.Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestRequireRole(t *testing.T) {
	codec := newTestCodec(newTestClock())
	handler := Middleware(codec)(RequireRole(RoleAdmin)(http.HandlerFunc(principalEcho)))

	tests := []struct {
		role       Role
		wantStatus int
	}{
		{RoleUser, http.StatusForbidden},
		{RoleAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			token, err := codec.IssueAccessToken(uuid.NewString(), "someone@example.com", tt.role)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/admin/users/x", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRequireRole_WithoutPrincipal(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(principalEcho))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
