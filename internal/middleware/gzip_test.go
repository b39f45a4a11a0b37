package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swotplanner/backend/internal/logger"
)

func jsonHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"success":true}`))
}

func TestGzip_CompressesWhenAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	w := httptest.NewRecorder()

	Gzip(http.HandlerFunc(jsonHandler)).ServeHTTP(w, req)

	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true}`, string(body))
}

func TestGzip_PassThrough(t *testing.T) {
	for _, tc := range []struct {
		name, path, encoding string
	}{
		{"no accept-encoding", "/api/auth/me", ""},
		{"metrics endpoint", "/metrics", "gzip"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.encoding != "" {
				req.Header.Set("Accept-Encoding", tc.encoding)
			}
			w := httptest.NewRecorder()

			Gzip(http.HandlerFunc(jsonHandler)).ServeHTTP(w, req)

			assert.Empty(t, w.Header().Get("Content-Encoding"))
			assert.Equal(t, `{"success":true}`, w.Body.String())
		})
	}
}

func TestTiming_SetsServerTimingHeader(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelDebug, "test")

	w := httptest.NewRecorder()
	Timing(log)(http.HandlerFunc(jsonHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, strings.HasPrefix(w.Header().Get("Server-Timing"), "total;dur="))
	assert.Empty(t, buf.String())
}

func TestTiming_WarnsOnSlowRequest(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelDebug, "test")
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(SlowRequestThreshold + 20*time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	Timing(log)(slow).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, buf.String(), "slow request")
	assert.Contains(t, buf.String(), "/api/auth/login")
}
