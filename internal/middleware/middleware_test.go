package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/i18n"
	"github.com/stemsi/exstem-runner/internal/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("exam ", 1000)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, body) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())
}

func TestBrotliSkipsExcludedPaths(t *testing.T) {
	r := gin.New()
	r.Use(Brotli())
	r.GET("/ws/v1/x", func(c *gin.Context) { c.String(http.StatusOK, strings.Repeat("a", 4096)) })

	req := httptest.NewRequest(http.MethodGet, "/ws/v1/x", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Len(t, w.Body.String(), 4096)
}

func TestBrotliLeavesEventStreamsAlone(t *testing.T) {
	r := gin.New()
	r.Use(Brotli())
	r.GET("/monitor", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.SSEvent("snapshot", strings.Repeat("x", 4096))
		c.Writer.Flush()
	})

	req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Body.String(), "event:snapshot")
}

func TestAcceptsBrotli(t *testing.T) {
	cases := map[string]bool{
		"br":             true,
		"gzip, br;q=0.5": true,
		"BR":             true,
		"br;q=0":         false,
		"br; q=0.0":      false,
		"gzip":           false,
		"":               false,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", header)
		assert.Equal(t, want, acceptsBrotli(req), header)
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute, nil)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))

	now = now.Add(10 * time.Minute)
	rl.Cleanup(3 * time.Minute)
	assert.Empty(t, rl.visitors)
}

func TestRateLimiterMiddlewareByParam(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	rl := NewRateLimiter(1, time.Minute, ByParam("attempt_id"))

	r := gin.New()
	r.Use(response.RequestIDMiddleware(zerolog.Nop()), Localize())
	r.POST("/attempts/:attempt_id/submit", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(id string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/attempts/"+id+"/submit", nil))
		return w
	}

	assert.Equal(t, http.StatusOK, do("one").Code)
	limited := do("one")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), string(response.ErrRateLimitExceeded))
	assert.Equal(t, http.StatusOK, do("two").Code)
}

func TestLocalizeUsesAcceptLanguage(t *testing.T) {
	require.NoError(t, i18n.Init("en"))

	r := gin.New()
	r.Use(Localize())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, i18n.T(c.Request.Context(), "PassageLabel"))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "id")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "Bacaan", w.Body.String())
}

func TestCacheHeaders(t *testing.T) {
	r := gin.New()
	r.GET("/paper", CacheControl(300), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/state", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/paper", nil))
	assert.Equal(t, "private, max-age=300", w.Header().Get("Cache-Control"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
