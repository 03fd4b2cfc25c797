package mw

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCache(t *testing.T) {
	var calls atomic.Int32
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute, nil))
	r.GET("/status", func(c *gin.Context) {
		n := calls.Add(1)
		c.Header("X-Call", strconv.Itoa(int(n)))
		c.JSON(http.StatusOK, gin.H{"calls": n})
	})
	r.GET("/missing", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	first := get(r, "/status")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":1}`, first.Body.String())

	second := get(r, "/status")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "1", second.Header().Get("X-Call"))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"calls":1}`, second.Body.String())

	bypass := get(r, "/status", "Cache-Control", "no-cache")
	assert.Equal(t, "MISS", bypass.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":2}`, bypass.Body.String())

	refreshed := get(r, "/status")
	assert.Equal(t, "HIT", refreshed.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":2}`, refreshed.Body.String(), "a no-cache request refreshes the entry")

	other := get(r, "/status?room_id=R-0002&x=1")
	assert.JSONEq(t, `{"calls":3}`, other.Body.String())
	reordered := get(r, "/status?x=1&room_id=R-0002")
	assert.Equal(t, "HIT", reordered.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":3}`, reordered.Body.String())

	get(r, "/missing")
	get(r, "/missing")
	assert.Equal(t, int32(5), calls.Load(), "errors are not cached")
}

func TestCache_KeyFunc(t *testing.T) {
	var calls atomic.Int32
	byRoom := func(c *gin.Context) string {
		if c.Query("skip") != "" {
			return ""
		}
		room := c.Query("room_id")
		if room == "" {
			room = "R-0001"
		}
		return "room:" + room
	}

	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute, byRoom))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"calls": calls.Add(1)})
	}
	r.GET("/a", handler)
	r.GET("/b", handler)

	assert.JSONEq(t, `{"calls":1}`, get(r, "/a").Body.String())
	assert.JSONEq(t, `{"calls":1}`, get(r, "/b?room_id=R-0001").Body.String(), "same room, same entry")
	assert.JSONEq(t, `{"calls":2}`, get(r, "/b?room_id=R-0002").Body.String())
	assert.JSONEq(t, `{"calls":3}`, get(r, "/a?skip=1").Body.String())
	assert.JSONEq(t, `{"calls":4}`, get(r, "/a?skip=1").Body.String(), "empty key is never cached")
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, get(r, "/ping").Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/ping").Code)

	w := get(r, "/ping")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestIPRateLimiter_PerClient(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1, time.Minute)

	a := l.GetLimiter("10.0.0.1")
	assert.Same(t, a, l.GetLimiter("10.0.0.1"))
	assert.NotSame(t, a, l.GetLimiter("10.0.0.2"))
	assert.Equal(t, 2, l.Len())

	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
	assert.True(t, l.GetLimiter("10.0.0.2").Allow())
}
