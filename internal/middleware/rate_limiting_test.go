package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/telemetry/metrics"

	"github.com/go-redis/redis_rate/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type countingLimiter struct {
	perKey map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.perKey[key]++
	if l.perKey[key] > limit.Rate {
		return &redis_rate.Result{Limit: limit, Allowed: 0, RetryAfter: 30 * time.Second}, nil
	}
	return &redis_rate.Result{Limit: limit, Allowed: 1, Remaining: limit.Rate - l.perKey[key]}, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{perKey: make(map[string]int)}
	metricsManager := metrics.NewTestManager()
	handler := RateLimit(limiter, "import", 2, metricsManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve := func(userID string) int {
		req := httptest.NewRequest("POST", "/workouts/import", nil)
		req = req.WithContext(auth.NewContext(req.Context(), auth.Identity{UserID: userID}, "tkn"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, serve("alice"))
	assert.Equal(t, http.StatusOK, serve("alice"))
	assert.Equal(t, http.StatusTooManyRequests, serve("alice"))
	// buckets are per user
	assert.Equal(t, http.StatusOK, serve("bob"))
	assert.Equal(t, 3, limiter.perKey["import||alice"])
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRateLimitedRequests))

	limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusInternalServerError, serve("alice"))
}
