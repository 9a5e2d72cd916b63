package capability

import (
	"net/http"
	"time"

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

	// capabilities cannot mint capabilities: no scope is accepted here
	admin := p.Engine.Group("/v1/admin/capabilities",
		middleware.Authenticate(p.Verifier, true),
		p.Gate.Require(accesscontrol.ObjectCapabilities, accesscontrol.ActionManage, ""),
	)
	admin.POST("", h.Issue)
	admin.DELETE("/:jti", h.Revoke)

	return h
}

type issueBody struct {
	Subject    string   `json:"subject"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

func (h *Handler) Issue(c *gin.Context) {
	principal, _ := middleware.Principal(c)

	var body issueBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.service.Issue(c.Request.Context(), IssueRequest{
		IssuedBy: principal.UserID,
		Subject:  body.Subject,
		Scopes:   body.Scopes,
		TTL:      time.Duration(body.TTLSeconds) * time.Second,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Revoke(c *gin.Context) {
	principal, _ := middleware.Principal(c)

	if err := h.service.Revoke(c.Request.Context(), c.Param("jti"), principal.UserID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
