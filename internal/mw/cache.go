package mw

import (
	"bytes"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a stored response.
type snapshot struct {
	status int
	header http.Header
	body   []byte
	at     time.Time
}

type recorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w recorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w recorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// KeyFunc names the cache entry a request maps to. An empty key bypasses the cache.
type KeyFunc func(c *gin.Context) string

// URIKey keys on the path and the query parameters in sorted order.
func URIKey(c *gin.Context) string {
	q := c.Request.URL.Query()
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(c.Request.URL.Path)
	for _, name := range names {
		for _, v := range q[name] {
			b.WriteString("&" + name + "=" + v)
		}
	}
	return b.String()
}

// Cache serves GET responses from store for ttl. A request sent with
// "Cache-Control: no-cache" skips the lookup and refreshes the entry.
// Only 2xx responses are stored.
func Cache(store *cache.Cache, ttl time.Duration, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = URIKey
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		k := key(c)
		if k == "" {
			c.Next()
			return
		}

		if c.GetHeader("Cache-Control") != "no-cache" {
			if v, found := store.Get(k); found {
				serve(c, v.(snapshot))
				return
			}
		}

		c.Header("X-Cache", "MISS")
		rec := &recorder{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = rec

		c.Next()

		if code := rec.Status(); code >= 200 && code < 300 {
			header := rec.Header().Clone()
			header.Del("X-Cache")
			store.Set(k, snapshot{status: code, header: header, body: rec.body.Bytes(), at: time.Now()}, ttl)
		}
	}
}

func serve(c *gin.Context, s snapshot) {
	h := c.Writer.Header()
	for k, v := range s.header {
		h[k] = v
	}
	h.Set("X-Cache", "HIT")
	h.Set("Age", strconv.Itoa(int(time.Since(s.at).Seconds())))
	c.Writer.WriteHeader(s.status)
	c.Writer.Write(s.body)
	c.Abort()
}
