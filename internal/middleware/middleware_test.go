package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/config"
	"github.com/iliyamo/boxoffice/internal/utils"
)

const secret = "mw-secret"

func protected() *echo.Echo {
	e := echo.New()
	g := e.Group("", JWTAuth(secret))
	g.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user_id": UserID(c), "role": Role(c)})
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole("ADMIN"))
	return e
}

func do(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, "user-1", role, time.Minute, time.Now())
	require.NoError(t, err)
	return tok.Token
}

func TestJWTAuth(t *testing.T) {
	e := protected()

	rec := do(e, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing bearer token")

	rec = do(e, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")

	rec = do(e, "/me", token(t, "VENDOR"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"user-1","role":"VENDOR"}`, rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	e := protected()
	assert.Equal(t, http.StatusForbidden, do(e, "/admin", token(t, "CUSTOMER")).Code)
	assert.Equal(t, http.StatusNoContent, do(e, "/admin", token(t, "ADMIN")).Code)
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/pools/p1/availability", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/pools/:id/availability")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}
	assert.Equal(t, "rl:ip:10.0.0.1", rateKey(cfg, c))

	cfg.KeyStrategy = "user_route"
	assert.Equal(t, "rl:user:anon:route:GET /v1/pools/:id/availability", rateKey(cfg, c))

	c.Set(UserIDKey, "u-9")
	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:10.0.0.1:user:u-9:route:GET /v1/pools/:id/availability", rateKey(cfg, c))
}

func TestCacheKeyPerPath(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "route_query"}
	key := func(target string) string {
		return cacheKey(cfg, e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder()))
	}
	assert.NotEqual(t, key("/v1/pools/a/availability"), key("/v1/pools/b/availability"))
	assert.NotEqual(t, key("/x?page=1"), key("/x?page=2"))
	assert.Equal(t, key("/x?page=1"), key("/x?page=1"))

	cfg.KeyStrategy = "route"
	assert.Equal(t, key("/x?page=1"), key("/x?page=2"))
}

func TestPayloadCodec(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, h, []byte(`{"ok":true}`))
	require.NoError(t, err)

	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	assert.False(t, ok)
	_, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
	assert.False(t, ok)
}

func TestWithoutRedisIsPassthrough(t *testing.T) {
	e := echo.New()
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil))
	e.Use(NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		rec := do(e, "/ping", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
}
