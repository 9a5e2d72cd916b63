package manualorder

import (
	"net/http"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

type Handler struct {
	service *Service
	gate    middleware.Gate
}

type HandlerParams struct {
	fx.In
	Engine   *gin.Engine
	Verifier *security.TokenVerifier
	Limiter  *middleware.IPRateLimiter
	Gate     middleware.Gate
	Service  *Service
}

func RegisterRoutes(p HandlerParams) *Handler {
	h := &Handler{service: p.Service, gate: p.Gate}

	orders := p.Engine.Group("/v1/manual-orders", middleware.Authenticate(p.Verifier, true))
	orders.POST("", middleware.RateLimit(p.Limiter), h.Action)
	orders.POST("/:id/approve", h.Approve)
	orders.GET("/:id", h.Status)

	return h
}

type packageBody struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Coins    int64           `json:"coins"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

type actionBody struct {
	Action string `json:"action"`

	Package      *packageBody    `json:"package"`
	PackageID    string          `json:"package_id"`
	Coins        int64           `json:"coins"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	Username     string          `json:"username"`
	PurchaseType string          `json:"purchase_type"`
	CashAppTag   string          `json:"cashapp_tag"`
	CashAppTag2  string          `json:"cash_app_tag"`
	PayerCashtag string          `json:"payer_cashtag"`

	OrderID      string `json:"order_id"`
	ExternalTxID string `json:"external_tx_id"`
}

func (b actionBody) createRequest(p *security.Principal) CreateRequest {
	req := CreateRequest{
		UserID:      p.UserID,
		Username:    b.Username,
		PackageID:   b.PackageID,
		Coins:       b.Coins,
		AmountUSD:   b.AmountUSD,
		PayerHandle: firstNonEmpty(b.CashAppTag, b.CashAppTag2, b.PayerCashtag),
		Metadata:    map[string]any{"email": p.Email},
	}
	if req.Username == "" {
		req.Username = p.DisplayName()
	}
	if b.PurchaseType != "" {
		req.Metadata["purchase_type"] = b.PurchaseType
	}
	if pkg := b.Package; pkg != nil {
		if req.PackageID == "" {
			req.PackageID = pkg.ID
		}
		if req.Coins == 0 {
			req.Coins = pkg.Coins
		}
		if req.AmountUSD.IsZero() {
			req.AmountUSD = pkg.PriceUSD
		}
		if pkg.Name != "" {
			req.Metadata["package_name"] = pkg.Name
		}
	}
	return req
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Action serves the single action endpoint: create, approve or status.
func (h *Handler) Action(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("Missing auth token", nil))
		return
	}

	var body actionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	switch body.Action {
	case "":
		_ = c.Error(errutil.BadRequest("Missing action", nil))
	case "create":
		res, err := h.service.Create(c.Request.Context(), body.createRequest(principal))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
	case "approve":
		h.approve(c, principal, body.OrderID, body.ExternalTxID)
	case "status":
		h.status(c, principal, body.OrderID)
	default:
		_ = c.Error(errutil.BadRequest("Unknown action", nil))
	}
}

type approveBody struct {
	ExternalTxID string `json:"external_tx_id"`
}

func (h *Handler) Approve(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("Missing auth token", nil))
		return
	}

	var body approveBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
	}
	h.approve(c, principal, c.Param("id"), body.ExternalTxID)
}

func (h *Handler) Status(c *gin.Context) {
	principal, ok := middleware.Principal(c)
	if !ok {
		_ = c.Error(errutil.Unauthorized("Missing auth token", nil))
		return
	}
	h.status(c, principal, c.Param("id"))
}

func (h *Handler) approve(c *gin.Context, p *security.Principal, orderID, externalTxID string) {
	actor := Actor{
		UserID:     p.UserID,
		Privileged: h.gate.Privileged(c, accesscontrol.ObjectManualOrders, accesscontrol.ActionApprove, security.ScopeManualOrderApprove),
	}

	res, err := h.service.Approve(c.Request.Context(), ApproveRequest{OrderID: orderID, ExternalTxID: externalTxID}, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) status(c *gin.Context, p *security.Principal, orderID string) {
	actor := Actor{
		UserID:     p.UserID,
		Privileged: h.gate.Privileged(c, accesscontrol.ObjectManualOrders, accesscontrol.ActionReadAny, security.ScopeManualOrderReadAny),
	}

	order, err := h.service.Status(c.Request.Context(), orderID, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}
