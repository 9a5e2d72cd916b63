package manualorder

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/metrics"
	"coin-settlement/pkg/repository"
	"coin-settlement/services/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("coin-settlement/services/manualorder")

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,30}$`)

const maxExternalTxID = 128

type Ledger interface {
	OpenCoinOrderTx(ctx context.Context, tx *gorm.DB, req ledger.OpenOrderRequest) (*ledger.CoinOrder, error)
	ApproveManualOrder(ctx context.Context, coinOrderID, approverID, externalTxID string) (*ledger.ApproveResult, error)
}

type Service struct {
	db             *gorm.DB
	orders         repository.Repository[ManualOrder]
	ledger         Ledger
	receiverHandle string
}

type ServiceParams struct {
	fx.In
	Config *config.Config
	DB     *gorm.DB
	Ledger Ledger
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:             p.DB,
		orders:         repository.ProvideStore[ManualOrder](p.DB),
		ledger:         p.Ledger,
		receiverHandle: p.Config.ManualOrder.ReceiverHandle,
	}
}

// NormalizeHandle trims the handle and strips leading "$" markers before
// validating it.
func NormalizeHandle(raw string) (string, error) {
	handle := strings.TrimLeft(strings.TrimSpace(raw), "$")
	if !handlePattern.MatchString(handle) {
		return "", errutil.ValidationFailed("payer_handle", "Cash App tag must be 1-30 letters/numbers (no $).")
	}
	return handle, nil
}

// Note is the memo the payer must attach: the first six characters of the
// username upper-cased, a dash and the coin amount.
func Note(username string, coins int64) string {
	prefix := username
	if utf8.RuneCountInString(prefix) > 6 {
		prefix = string([]rune(prefix)[:6])
	}
	return strings.ToUpper(prefix) + "-" + strconv.FormatInt(coins, 10)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "manualorder.Create")
	defer span.End()

	log := zap.L().With(logger.TraceFields(ctx)...).With(zap.String("user_id", req.UserID))

	handle, err := NormalizeHandle(req.PayerHandle)
	if err != nil {
		metrics.ManualOrders.WithLabelValues("create", "invalid").Inc()
		return nil, err
	}

	amountCents := req.AmountCents
	if amountCents == 0 {
		amountCents = req.AmountUSD.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	}
	if req.Coins <= 0 || amountCents <= 0 {
		metrics.ManualOrders.WithLabelValues("create", "invalid").Inc()
		return nil, errutil.BadRequest("Missing coins or amount", nil)
	}

	username := req.Username
	if username == "" {
		username = "user"
	}

	md := map[string]any{}
	for k, v := range req.Metadata {
		md[k] = v
	}
	md["username"] = username
	md["payer_handle"] = handle
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, errutil.BadRequest("metadata is not serialisable", err)
	}

	now := time.Now().UTC()
	order := &ManualOrder{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		PackageID:   req.PackageID,
		Coins:       req.Coins,
		AmountCents: amountCents,
		Currency:    "USD",
		Provider:    ProviderCashApp,
		PayerHandle: handle,
		Note:        Note(username, req.Coins),
		Status:      StatusPending,
		Metadata:    datatypes.JSON(raw),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// the coin order and its manual order commit together or not at all
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		coinOrder, err := s.ledger.OpenCoinOrderTx(ctx, tx, ledger.OpenOrderRequest{
			UserID:      req.UserID,
			PackageID:   req.PackageID,
			Coins:       req.Coins,
			AmountCents: amountCents,
			Provider:    ProviderCashApp,
		})
		if err != nil {
			return err
		}
		order.CoinOrderID = &coinOrder.ID

		if err := s.orders.WithTrx(tx).Create(ctx, order); err != nil {
			log.Error("failed to create manual order", zap.Error(err))
			return errutil.Internal("Failed to create manual order", err)
		}
		return nil
	})
	if err != nil {
		metrics.ManualOrders.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	metrics.ManualOrders.WithLabelValues("create", "created").Inc()
	log.Info("manual order created", zap.String("order_id", order.ID), zap.Int64("coins", order.Coins))

	return &CreateResult{
		Success: true,
		OrderID: order.ID,
		Status:  order.Status,
		Instructions: Instructions{
			Provider:       ProviderCashApp,
			ReceiverHandle: s.receiverHandle,
			PayerHandle:    handle,
			Note:           order.Note,
			AmountCents:    amountCents,
			AmountUSD:      decimal.New(amountCents, -2).StringFixed(2),
			Message:        instructionsMessage,
		},
	}, nil
}

// Approve credits a manual order through the ledger. Crediting is idempotent
// in the ledger, so approving twice never pays twice.
func (s *Service) Approve(ctx context.Context, req ApproveRequest, actor Actor) (*ApproveResult, error) {
	ctx, span := tracer.Start(ctx, "manualorder.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", req.OrderID))

	log := zap.L().With(logger.TraceFields(ctx)...).With(
		zap.String("order_id", req.OrderID),
		zap.String("approver_id", actor.UserID),
	)

	if !actor.Privileged {
		metrics.ManualOrders.WithLabelValues("approve", "forbidden").Inc()
		return nil, errutil.Forbidden("Forbidden", nil)
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, errutil.BadRequest("Missing order_id", nil)
	}
	if len(orderID) != 36 {
		return nil, errutil.BadRequest("Invalid order_id", nil)
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, errutil.BadRequest("Invalid order_id", err)
	}

	externalTxID := strings.TrimSpace(req.ExternalTxID)
	if len(externalTxID) > maxExternalTxID {
		return nil, errutil.BadRequest("external_tx_id too long", nil)
	}

	order, err := s.orders.FindOne(ctx, &ManualOrder{ID: orderID})
	if err != nil {
		return nil, errutil.Internal("failed to load manual order", err)
	}
	if order == nil {
		return nil, errutil.NotFound("manual_order_not_found", nil)
	}
	if order.CoinOrderID == nil || *order.CoinOrderID == "" {
		return nil, errutil.BadRequest("manual_order_missing_coin_order", nil)
	}

	res, err := s.ledger.ApproveManualOrder(ctx, *order.CoinOrderID, actor.UserID, externalTxID)
	if err != nil {
		metrics.ManualOrders.WithLabelValues("approve", "error").Inc()
		return nil, errutil.BadRequest("Approval failed", err)
	}
	if !res.Success {
		metrics.ManualOrders.WithLabelValues("approve", "rejected").Inc()
		msg := res.ErrorMessage
		if msg == "" {
			msg = "Approval failed"
		}
		return nil, errutil.BadRequest(msg, nil)
	}

	now := time.Now().UTC()
	update := s.db.WithContext(ctx).Model(&ManualOrder{}).
		Where("id = ? AND status = ?", order.ID, StatusPending).
		Updates(map[string]any{
			"status":      StatusApproved,
			"approved_by": actor.UserID,
			"approved_at": now,
			"updated_at":  now,
		})
	if update.Error != nil {
		log.Error("failed to mark manual order approved", zap.Error(update.Error))
	} else if update.RowsAffected == 0 {
		log.Info("manual order was already approved")
	}

	outcome := "approved"
	if res.AlreadyApproved {
		outcome = "duplicate"
	}
	metrics.ManualOrders.WithLabelValues("approve", outcome).Inc()
	log.Info("manual order approval handled", zap.Int64("new_balance", res.NewBalance), zap.Bool("already_approved", res.AlreadyApproved))

	return &ApproveResult{
		Success:         true,
		NewBalance:      res.NewBalance,
		AlreadyApproved: res.AlreadyApproved,
	}, nil
}

// Status is visible to the order's owner and to privileged callers.
func (s *Service) Status(ctx context.Context, orderID string, actor Actor) (*ManualOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errutil.BadRequest("Missing order_id", nil)
	}

	order, err := s.orders.FindOne(ctx, &ManualOrder{ID: orderID})
	if err != nil {
		return nil, errutil.Internal("failed to load manual order", err)
	}
	if order == nil || (order.UserID != actor.UserID && !actor.Privileged) {
		return nil, errutil.NotFound("Order not found", nil)
	}
	return order, nil
}
