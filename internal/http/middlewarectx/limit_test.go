package middlewarectx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
)

func TestRateLimitMiddleware_PerAccount(t *testing.T) {
	limiter := middlewarectx.NewLimiter(0.001, 2)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middlewarectx.RateLimitMiddleware(limiter, newNoopLogger())(next)

	call := func(accountID string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(middlewarectx.WithAccountID(req.Context(), accountID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("acc-1"))
	assert.Equal(t, http.StatusOK, call("acc-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("acc-1"))

	// другой аккаунт не затронут
	assert.Equal(t, http.StatusOK, call("acc-2"))
}

func TestRateLimitMiddleware_AnonymousByAddress(t *testing.T) {
	limiter := middlewarectx.NewLimiter(0.001, 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middlewarectx.RateLimitMiddleware(limiter, newNoopLogger())(next)

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:5001"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2:5000"))
}
