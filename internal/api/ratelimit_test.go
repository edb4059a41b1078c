package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(rl *RateLimiter) *time.Time {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return &now
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := fakeClock(rl)

	assert.Zero(t, rl.Reserve("a"))
	assert.Zero(t, rl.Reserve("a"))
	wait := rl.Reserve("a")
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	assert.Zero(t, rl.Reserve("b"), "clients are limited independently")

	*now = now.Add(time.Second)
	assert.Zero(t, rl.Reserve("a"))
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := fakeClock(rl)
	rl.Reserve("a")
	rl.Reserve("b")
	require.Equal(t, 2, rl.Clients())

	*now = now.Add(rl.idle + time.Second)
	rl.Reserve("c")
	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.5, 1)
	limited := prometheus.NewCounter(prometheus.CounterOpts{Name: "limited"})

	r := gin.New()
	r.GET("/x", rl.Middleware(limited), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get().Code)
	w := get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(limited))
}
