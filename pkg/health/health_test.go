package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"coin-settlement/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestCheckWithDatabase(t *testing.T) {
	gdb, err := db.NewTest()
	require.NoError(t, err)

	h := ProvideHealth(HealthParams{DB: gdb})
	res := h.Check(context.Background())

	require.Equal(t, statusHealthy, res.Status)
	require.Len(t, res.Deps, 1)
	require.Equal(t, "sqlite", res.Deps[0].Name)
}

func TestReadinessReportsClosedDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gdb, err := db.NewTest()
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	h := ProvideHealth(HealthParams{DB: gdb})

	r := gin.New()
	r.GET("/readyz", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), statusUnhealthy)
}
