package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIPRequestLimiter(t *testing.T) {
	mw := NewIPRequestLimiter("Adproxy-Requests", 2, time.Hour)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3 (max 2)", rec.Header().Get("Adproxy-Requests"))

	// Another IP is unaffected.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRequestLimiterIntervalReset(t *testing.T) {
	il := IPRequestLimiter{maxNrRequests: 1, interval: time.Second,
		resetTime: time.Now(), counters: make(map[string]int)}
	now := time.Now()
	_, ok := il.Inc(now, "a")
	require.True(t, ok)
	_, ok = il.Inc(now, "a")
	require.False(t, ok)
	_, ok = il.Inc(now.Add(2*time.Second), "a")
	require.True(t, ok)
}
