package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/auth"
)

func TestRateLimiter_Allow(t *testing.T) {
	l := NewRateLimiter(60, 2, zaptest.NewLogger(t))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("principal:alice"))
	assert.True(t, l.Allow("principal:alice"))
	assert.False(t, l.Allow("principal:alice"), "burst spent")
	assert.True(t, l.Allow("principal:bob"), "buckets are per caller")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("principal:alice"), "one token per second refills")
	assert.False(t, l.Allow("principal:alice"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(0, 0, zaptest.NewLogger(t))
	for range 100 {
		require.True(t, l.Allow("ip:10.0.0.1"))
	}
	assert.Empty(t, l.buckets)
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(60, 1, zaptest.NewLogger(t))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("principal:alice")
	now = now.Add(limiterIdleTTL + time.Minute)
	l.Allow("principal:bob")

	assert.NotContains(t, l.buckets, "principal:alice")
	assert.Contains(t, l.buckets, "principal:bob")
}

func TestRateLimiter_Middleware(t *testing.T) {
	l := NewRateLimiter(60, 1, zaptest.NewLogger(t))
	calls := 0
	handler := l.Middleware(func(w http.ResponseWriter, r *http.Request) { calls++ })

	serve := func(ctx context.Context, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", nil).WithContext(ctx)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	alice := auth.WithSecurityContext(context.Background(), auth.SecurityContext{Principal: "alice"})

	assert.Equal(t, http.StatusOK, serve(alice, "10.0.0.1:1111").Code)
	rec := serve(alice, "10.0.0.2:2222")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited","message":"Too many requests"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, serve(context.Background(), "10.0.0.1:1111").Code, "anonymous callers are keyed by IP")
	assert.Equal(t, http.StatusTooManyRequests, serve(context.Background(), "10.0.0.1:3333").Code)
	assert.Equal(t, 2, calls)
}
