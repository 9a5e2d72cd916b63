package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type memRevocations struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func (m *memRevocations) Revoke(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[id] = until
	return nil
}

func (m *memRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok, nil
}

func newRouter(t *testing.T) (*gin.Engine, *security.TokenVerifier, *security.Capabilities) {
	t.Helper()

	verifier := security.NewTokenVerifier("secret", "")
	capabilities := security.NewCapabilities("capability-secret", 10*time.Minute, &memRevocations{ids: map[string]time.Time{}})
	authorizer, err := accesscontrol.NewDefault()
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(HandlerParams{
		Engine:   r,
		Verifier: verifier,
		Gate:     middleware.Gate{Authorizer: authorizer, Capabilities: capabilities},
		Service:  NewService(ServiceParams{Capabilities: capabilities}),
	})
	return r, verifier, capabilities
}

func TestIssueAndRevoke(t *testing.T) {
	r, verifier, capabilities := newRouter(t)
	admin, err := verifier.Sign(security.Principal{UserID: "admin-1", Role: security.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/capabilities",
		strings.NewReader(`{"subject":"ops-bot","scopes":["manual_orders:approve"],"ttl_seconds":3600}`))
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issued Issued
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.Equal(t, "ops-bot", issued.Subject)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), issued.ExpiresAt, 5*time.Second)

	_, err = capabilities.Verify(context.Background(), issued.Token, security.ScopeManualOrderApprove)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/capabilities/"+issued.ID, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err = capabilities.Verify(context.Background(), issued.Token, security.ScopeManualOrderApprove)
	require.ErrorIs(t, err, security.ErrCapabilityRevoked)
}

func TestIssueRequiresAdmin(t *testing.T) {
	r, verifier, _ := newRouter(t)
	secretary, err := verifier.Sign(security.Principal{UserID: "sec-1", Role: security.RoleSecretary}, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/capabilities", strings.NewReader(`{"scopes":["payouts:run"]}`))
	req.Header.Set("Authorization", "Bearer "+secretary)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestIssueRejectsUnknownScope(t *testing.T) {
	svc := NewService(ServiceParams{Capabilities: security.NewCapabilities("k", time.Minute, nil)})

	_, err := svc.Issue(context.Background(), IssueRequest{IssuedBy: "admin-1", Scopes: []string{"ledger:write"}})
	require.Error(t, err)

	_, err = svc.Issue(context.Background(), IssueRequest{IssuedBy: "admin-1"})
	require.Error(t, err)

	res, err := svc.Issue(context.Background(), IssueRequest{IssuedBy: "admin-1", Scopes: []string{security.ScopePayoutRun}})
	require.NoError(t, err)
	require.Equal(t, "admin-1", res.Subject)
}
