package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newRouter(verifier *security.TokenVerifier, required bool) *gin.Engine {
	r := gin.New()
	r.Use(Error())
	r.GET("/me", Authenticate(verifier, required), func(c *gin.Context) {
		p, ok := Principal(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"user_id": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID})
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	verifier := security.NewTokenVerifier("secret", "")
	token, err := verifier.Sign(security.Principal{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)

	r := newRouter(verifier, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-1")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "unauthorized")
}

func TestAuthenticateOptional(t *testing.T) {
	verifier := security.NewTokenVerifier("secret", "")
	r := newRouter(verifier, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestErrorMiddlewareHidesPlainErrors(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/plain", func(c *gin.Context) { _ = c.Error(errors.New("db password leaked")) })
	r.GET("/typed", func(c *gin.Context) { _ = c.Error(errutil.Forbidden("not yours", nil)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "password")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/typed", nil))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "not yours")
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/limited", RateLimit(NewIPRateLimiter(0, 2)), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limited", nil))
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
