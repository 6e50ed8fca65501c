package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const webAppOrigin = "https://app.careline.health"

func sendCORS(t *testing.T, mw func(http.Handler) http.Handler, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/bookings", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, reached
}

func TestCORS(t *testing.T) {
	mw := CORS([]string{webAppOrigin})

	t.Run("listed origin gets full headers", func(t *testing.T) {
		rec, reached := sendCORS(t, mw, http.MethodGet, webAppOrigin, false)
		assert.True(t, reached)
		assert.Equal(t, webAppOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
		assert.Equal(t, "X-Request-Id", rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("unknown origin gets nothing", func(t *testing.T) {
		rec, reached := sendCORS(t, mw, http.MethodGet, "https://evil.example", false)
		assert.True(t, reached, "request still served, browser enforces")
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		rec, reached := sendCORS(t, mw, http.MethodOptions, webAppOrigin, true)
		assert.False(t, reached)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, webAppOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origin header passes through untouched", func(t *testing.T) {
		rec, reached := sendCORS(t, mw, http.MethodGet, "", false)
		assert.True(t, reached)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORSWildcardEchoesAnyOrigin(t *testing.T) {
	mw := CORS([]string{"*"})
	rec, _ := sendCORS(t, mw, http.MethodGet, "https://staging.careline.health", false)
	assert.Equal(t, "https://staging.careline.health", rec.Header().Get("Access-Control-Allow-Origin"))
}
