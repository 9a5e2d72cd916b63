package payout

import (
	"net/http"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"
	"coin-settlement/pkg/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	enqueuer task.Enqueuer
}

type HandlerParams struct {
	fx.In
	Engine   *gin.Engine
	Verifier *security.TokenVerifier
	Gate     middleware.Gate
	Enqueuer task.Enqueuer
}

func RegisterRoutes(p HandlerParams) *Handler {
	h := &Handler{enqueuer: p.Enqueuer}

	admin := p.Engine.Group("/v1/admin/payouts",
		middleware.Authenticate(p.Verifier, false),
		p.Gate.Require(accesscontrol.ObjectPayouts, accesscontrol.ActionRun, security.ScopePayoutRun),
	)
	admin.POST("/run", h.TriggerRun)

	return h
}

// TriggerRun enqueues a manual dispatcher run; the worker executes it.
func (h *Handler) TriggerRun(c *gin.Context) {
	info, err := h.enqueuer.Enqueue(c.Request.Context(), NewDispatchTask(TriggerManual))
	if err != nil {
		_ = c.Error(errutil.ServiceUnavailable("failed to enqueue payout run", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": info.ID,
		"queue":   info.Queue,
		"trigger": TriggerManual,
	})
}
