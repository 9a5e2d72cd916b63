package webhook

import (
	"io"
	"net/http"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service  *Service
	enqueuer task.Enqueuer
	async    bool
}

type HandlerParams struct {
	fx.In
	Config   *config.Config
	Engine   *gin.Engine
	Service  *Service
	Enqueuer task.Enqueuer `optional:"true"`
}

func RegisterRoutes(p HandlerParams) *Handler {
	h := &Handler{
		service:  p.Service,
		enqueuer: p.Enqueuer,
		async:    p.Config.Webhook.Async && p.Enqueuer != nil,
	}

	p.Engine.POST("/v1/webhooks/paypal", h.PayPal)
	return h
}

// PayPal always answers 200 so the provider stops redelivering; the outcome
// is reported in the body.
func (h *Handler) PayPal(c *gin.Context) {
	ctx := c.Request.Context()
	log := zap.L().With(logger.TraceFields(ctx)...)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "handled": OutcomeMalformedDelivery})
		return
	}

	d := Delivery{Headers: c.Request.Header.Clone(), Body: body}

	if h.async {
		t, err := NewProcessTask(d)
		if err == nil {
			_, err = h.enqueuer.Enqueue(ctx, t)
		}
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true, "handled": OutcomeQueued})
			return
		}
		log.Error("failed to enqueue webhook, processing inline", zap.Error(err))
	}

	outcome := h.service.Process(ctx, d)
	c.JSON(http.StatusOK, gin.H{"ok": true, "handled": outcome})
}
