package capture

import (
	"net/http"
	"strings"

	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

type Handler struct {
	service *Service
}

type HandlerParams struct {
	fx.In
	Engine   *gin.Engine
	Verifier *security.TokenVerifier
	Limiter  *middleware.IPRateLimiter
	Service  *Service
}

func RegisterRoutes(p HandlerParams) *Handler {
	h := &Handler{service: p.Service}

	payments := p.Engine.Group("/v1/payments",
		middleware.RateLimit(p.Limiter),
		middleware.Authenticate(p.Verifier, true),
	)
	payments.POST("/capture", h.Capture)
	payments.POST("/orders", h.CreateOrder)

	return h
}

type captureBody struct {
	OrderID string `json:"orderId"`
	// legacy clients send orderID
	OrderIDLegacy string `json:"orderID"`
	UserID        string `json:"userId"`
}

func (h *Handler) Capture(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	var body captureBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	orderID := strings.TrimSpace(body.OrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(body.OrderIDLegacy)
	}
	if body.UserID != "" && body.UserID != principal.UserID {
		_ = c.Error(errutil.Forbidden("userId does not match the authenticated user", nil))
		return
	}

	res, err := h.service.Verify(c.Request.Context(), VerifyRequest{OrderID: orderID, UserID: principal.UserID})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type createOrderBody struct {
	PackageID string          `json:"packageId"`
	Coins     int64           `json:"coins"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	var body createOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.service.CreateOrder(c.Request.Context(), CreateOrderRequest{
		UserID:    principal.UserID,
		PackageID: body.PackageID,
		Coins:     body.Coins,
		Amount:    body.Amount,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, res)
}
