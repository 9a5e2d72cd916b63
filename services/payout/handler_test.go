package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"
	"coin-settlement/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "task-1", Queue: taskname.QueueCritical, Type: t.Type()}, nil
}

func newPayoutRouter(t *testing.T, enq *fakeEnqueuer) (*gin.Engine, *security.TokenVerifier, *security.Capabilities) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier := security.NewTokenVerifier("secret", "")
	capabilities := security.NewCapabilities("capability-secret", time.Minute, nil)
	authorizer, err := accesscontrol.NewDefault()
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(HandlerParams{
		Engine:   r,
		Verifier: verifier,
		Gate:     middleware.Gate{Authorizer: authorizer, Capabilities: capabilities},
		Enqueuer: enq,
	})
	return r, verifier, capabilities
}

func TestTriggerRunRequiresPrivilege(t *testing.T) {
	enq := &fakeEnqueuer{}
	r, verifier, capabilities := newPayoutRouter(t, enq)

	post := func(header, value string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/payouts/run", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusForbidden, post("", "").Code)

	secretary, err := verifier.Sign(security.Principal{UserID: "sec-1", Role: security.RoleSecretary}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, post("Authorization", "Bearer "+secretary).Code)

	wrongScope, _, err := capabilities.Issue("ops-bot", []string{security.ScopeManualOrderApprove}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, post(middleware.CapabilityHeader, wrongScope).Code)
	require.Empty(t, enq.tasks)

	capability, _, err := capabilities.Issue("cron", []string{security.ScopePayoutRun}, time.Minute)
	require.NoError(t, err)
	w := post(middleware.CapabilityHeader, capability)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	admin, err := verifier.Sign(security.Principal{UserID: "admin-1", Role: security.RoleAdmin}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, post("Authorization", "Bearer "+admin).Code)

	require.Len(t, enq.tasks, 2)
	var payload DispatchPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, TriggerManual, payload.Trigger)
	require.Equal(t, taskname.PayoutDispatchRun, enq.tasks[0].Type())
}

func TestTriggerRunEnqueueFailure(t *testing.T) {
	r, verifier, _ := newPayoutRouter(t, &fakeEnqueuer{err: errors.New("redis down")})

	admin, err := verifier.Sign(security.Principal{UserID: "admin-1", Role: security.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/payouts/run", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
