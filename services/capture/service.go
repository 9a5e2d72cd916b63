package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/metrics"
	"coin-settlement/pkg/paypal"
	"coin-settlement/services/ledger"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("coin-settlement/services/capture")

// Ledger is the part of the settlement ledger the verifier credits through.
type Ledger interface {
	FindTransaction(ctx context.Context, externalID, providerOrderID string) (*ledger.Transaction, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (*ledger.CreditResult, error)
	GetBalance(ctx context.Context, userID string) (*ledger.UserBalance, error)
}

type Service struct {
	gateway paypal.Gateway
	ledger  Ledger
}

type ServiceParams struct {
	fx.In
	Gateway paypal.Gateway
	Ledger  Ledger
}

func NewService(p ServiceParams) *Service {
	return &Service{
		gateway: p.Gateway,
		ledger:  p.Ledger,
	}
}

type VerifyRequest struct {
	OrderID string
	UserID  string
}

type VerifyResult struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"order_id"`
	CaptureID  string `json:"capture_id"`
	Coins      int64  `json:"coins"`
	PackageID  string `json:"package_id,omitempty"`
	NewBalance int64  `json:"new_balance"`
	Duplicate  bool   `json:"duplicate"`
}

// Verify captures an approved order and credits its coins to the caller
// exactly once per order.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "capture.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", req.OrderID))

	log := zap.L().With(logger.TraceFields(ctx)...).With(
		zap.String("order_id", req.OrderID),
		zap.String("user_id", req.UserID),
	)

	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return nil, errutil.BadRequest("orderId is required", nil)
	}
	if req.UserID == "" {
		return nil, errutil.Unauthorized("authentication required", nil)
	}

	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		metrics.CaptureVerifications.WithLabelValues("provider_error").Inc()
		log.Error("failed to acquire provider token", zap.Error(err))
		return nil, errutil.BadGateway("payment provider unavailable", err)
	}

	order, err := s.gateway.CaptureOrder(ctx, token, req.OrderID)
	if errors.Is(err, paypal.ErrOrderAlreadyCaptured) {
		log.Info("order already captured, fetching details")
		order, err = s.gateway.GetOrder(ctx, token, req.OrderID)
	}
	var apiErr *paypal.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		metrics.CaptureVerifications.WithLabelValues("incomplete").Inc()
		log.Warn("provider refused capture", zap.String("issue", apiErr.Issue()), zap.String("debug_id", apiErr.DebugID))
		return nil, errutil.UnprocessableEntity(fmt.Sprintf("payment not completed (%s)", apiErr.Issue()), err)
	}
	if err != nil {
		metrics.CaptureVerifications.WithLabelValues("provider_error").Inc()
		log.Error("failed to capture order", zap.Error(err))
		return nil, errutil.BadGateway("failed to capture payment", err)
	}

	if !order.CaptureCompleted() {
		metrics.CaptureVerifications.WithLabelValues("incomplete").Inc()
		log.Warn("capture not completed", zap.String("status", order.Status))
		return nil, errutil.UnprocessableEntity(fmt.Sprintf("payment not completed (status %s)", order.Status), nil)
	}

	meta, err := paypal.ParseOrderMetadata(order.CustomID())
	if err != nil {
		metrics.CaptureVerifications.WithLabelValues("invalid_metadata").Inc()
		log.Error("failed to parse order metadata", zap.Error(err))
		return nil, errutil.UnprocessableEntity("order metadata is invalid", err)
	}

	if meta.UserID != req.UserID {
		metrics.CaptureVerifications.WithLabelValues("identity_mismatch").Inc()
		log.Warn("order belongs to another user", zap.String("order_user_id", meta.UserID))
		return nil, errutil.Forbidden("order does not belong to the caller", nil)
	}

	captureID := ""
	if c := order.FirstCapture(); c != nil {
		captureID = c.ID
	}

	result := &VerifyResult{
		Success:   true,
		OrderID:   req.OrderID,
		CaptureID: captureID,
		Coins:     meta.Coins,
		PackageID: meta.PackageID,
	}

	existing, err := s.ledger.FindTransaction(ctx, captureID, req.OrderID)
	if err != nil {
		log.Error("failed to check existing transaction", zap.Error(err))
		return nil, err
	}
	if existing != nil {
		balance, err := s.ledger.GetBalance(ctx, meta.UserID)
		if err != nil {
			return nil, err
		}
		metrics.CaptureVerifications.WithLabelValues("duplicate").Inc()
		log.Info("order already credited", zap.String("transaction_id", existing.ID))
		result.Duplicate = true
		result.NewBalance = balance.Balance
		return result, nil
	}

	credit, err := s.ledger.Credit(ctx, ledger.CreditRequest{
		UserID:          meta.UserID,
		Amount:          meta.Coins,
		Type:            ledger.TypePurchase,
		ExternalID:      captureID,
		ProviderOrderID: req.OrderID,
		Description:     fmt.Sprintf("PayPal purchase of %d coins", meta.Coins),
		Metadata:        purchaseMetadata(order, meta),
	})
	if err != nil {
		metrics.CaptureVerifications.WithLabelValues("ledger_error").Inc()
		return nil, err
	}

	result.Duplicate = credit.Duplicate
	result.NewBalance = credit.Balance.Balance
	if credit.Duplicate {
		metrics.CaptureVerifications.WithLabelValues("duplicate").Inc()
	} else {
		metrics.CaptureVerifications.WithLabelValues("credited").Inc()
	}
	log.Info("capture verified", zap.Int64("coins", meta.Coins), zap.Bool("duplicate", credit.Duplicate))
	return result, nil
}

func purchaseMetadata(order *paypal.Order, meta *paypal.OrderMetadata) map[string]any {
	md := map[string]any{
		"provider":   "paypal",
		"package_id": meta.PackageID,
		"coins":      meta.Coins,
	}
	if c := order.FirstCapture(); c != nil && c.Amount != nil {
		md["amount"] = c.Amount.Value
		md["currency"] = c.Amount.CurrencyCode
	}
	return md
}

type CreateOrderRequest struct {
	UserID    string
	PackageID string
	Coins     int64
	Amount    decimal.Decimal
}

type CreatedOrder struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	ApprovalURL string `json:"approvalUrl,omitempty"`
}

// CreateOrder opens a provider order carrying the buyer and coin amount in
// custom_id so capture and webhook flows can attribute the payment.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error) {
	ctx, span := tracer.Start(ctx, "capture.CreateOrder")
	defer span.End()

	if req.Coins <= 0 {
		return nil, errutil.BadRequest("coins must be > 0", nil)
	}
	if !req.Amount.IsPositive() {
		return nil, errutil.BadRequest("amount must be > 0", nil)
	}

	customID, err := paypal.EncodeOrderMetadata(paypal.OrderMetadata{
		UserID:    req.UserID,
		Coins:     req.Coins,
		PackageID: req.PackageID,
	})
	if err != nil {
		return nil, errutil.Internal("failed to encode order metadata", err)
	}

	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		return nil, errutil.BadGateway("payment provider unavailable", err)
	}

	order, err := s.gateway.CreateOrder(ctx, token, paypal.CreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypal.PurchaseUnit{{
			Description: fmt.Sprintf("%d Coins", req.Coins),
			CustomID:    customID,
			Amount: &paypal.Money{
				CurrencyCode: "USD",
				Value:        req.Amount.StringFixed(2),
			},
		}},
	})
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Error("failed to create order", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, errutil.BadGateway("failed to create payment order", err)
	}

	return &CreatedOrder{
		OrderID:     order.ID,
		Status:      order.Status,
		ApprovalURL: order.ApprovalURL(),
	}, nil
}
