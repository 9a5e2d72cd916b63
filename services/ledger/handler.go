package ledger

import (
	"net/http"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	service *Service
}

type HandlerParams struct {
	fx.In
	Engine   *gin.Engine
	Verifier *security.TokenVerifier
	Gate     middleware.Gate
	Service  *Service
}

func RegisterRoutes(p HandlerParams) *Handler {
	h := &Handler{service: p.Service}

	v1 := p.Engine.Group("/v1", middleware.Authenticate(p.Verifier, true))
	v1.GET("/balance", h.GetBalance)

	admin := v1.Group("/admin/ledger", p.Gate.Require(accesscontrol.ObjectLedger, accesscontrol.ActionAudit, ""))
	admin.GET("/:user_id/verify", h.VerifyChain)

	return h
}

func (h *Handler) GetBalance(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), principal.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   balance.UserID,
		"balance":   balance.Balance,
		"reserved":  balance.Reserved,
		"available": balance.Available(),
	})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	report, err := h.service.VerifyChain(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}
