package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"coin-settlement/pkg/db/option"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/metrics"
	"coin-settlement/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("coin-settlement/services/ledger")

type Service struct {
	grpc_health_v1.UnimplementedHealthServer

	db   *gorm.DB
	node *snowflake.Node

	transactions repository.Repository[Transaction]
	balances     repository.Repository[UserBalance]
	orders       repository.Repository[CoinOrder]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		transactions: repository.ProvideStore[Transaction](p.DB),
		balances:     repository.ProvideStore[UserBalance](p.DB),
		orders:       repository.ProvideStore[CoinOrder](p.DB),
	}
}

// GetBalance returns a zero balance for users that never received coins.
func (s *Service) GetBalance(ctx context.Context, userID string) (*UserBalance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	balance, err := s.balances.FindOne(ctx, &UserBalance{UserID: userID})
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Error("failed to query balance", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if balance == nil {
		return &UserBalance{UserID: userID}, nil
	}
	return balance, nil
}

// FindTransaction looks a transaction up by either idempotency key.
func (s *Service) FindTransaction(ctx context.Context, externalID, providerOrderID string) (*Transaction, error) {
	return s.findTransaction(ctx, s.transactions, externalID, providerOrderID)
}

func (s *Service) findTransaction(ctx context.Context, repo repository.Repository[Transaction], externalID, providerOrderID string) (*Transaction, error) {
	externalID = strings.TrimSpace(externalID)
	providerOrderID = strings.TrimSpace(providerOrderID)

	switch {
	case externalID != "" && providerOrderID != "":
		return repo.FindOne(ctx, &Transaction{}, option.WithWhere("(external_id = ? OR provider_order_id = ?)", externalID, providerOrderID))
	case externalID != "":
		return repo.FindOne(ctx, &Transaction{}, option.WithWhere("external_id = ?", externalID))
	case providerOrderID != "":
		return repo.FindOne(ctx, &Transaction{}, option.WithWhere("provider_order_id = ?", providerOrderID))
	default:
		return nil, nil
	}
}

// Credit adds coins to a user in one database transaction: idempotency check,
// balance upsert, transaction row and hash chain link. A request whose
// external id or provider order id was already recorded returns the earlier
// transaction with Duplicate set.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("type", req.Type),
		attribute.Int64("amount", req.Amount),
	)

	log := zap.L().With(logger.TraceFields(ctx)...).With(
		zap.String("user_id", req.UserID),
		zap.String("external_id", req.ExternalID),
		zap.String("provider_order_id", req.ProviderOrderID),
	)

	if err := validateCredit(req); err != nil {
		metrics.LedgerCredits.WithLabelValues(req.Type, "invalid").Inc()
		return nil, err
	}

	if existing, err := s.FindTransaction(ctx, req.ExternalID, req.ProviderOrderID); err != nil {
		log.Error("failed to check idempotency key", zap.Error(err))
		return nil, errutil.Internal("ledger lookup failed", err)
	} else if existing != nil {
		log.Info("credit already recorded", zap.String("transaction_id", existing.ID))
		return s.duplicateResult(ctx, existing)
	}

	var result CreditResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, balance, err := s.credit(ctx, tx, req)
		if err != nil {
			return err
		}
		result.Transaction = txn
		result.Balance = balance
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the race against a concurrent delivery of the same event
			existing, lookupErr := s.FindTransaction(ctx, req.ExternalID, req.ProviderOrderID)
			if lookupErr == nil && existing != nil {
				log.Info("credit recorded concurrently", zap.String("transaction_id", existing.ID))
				return s.duplicateResult(ctx, existing)
			}
		}
		metrics.LedgerCredits.WithLabelValues(req.Type, "error").Inc()
		log.Error("failed to credit", zap.Error(err))
		return nil, errutil.Internal("ledger credit failed", err)
	}

	metrics.LedgerCredits.WithLabelValues(req.Type, "credited").Inc()
	log.Info("credited coins",
		zap.String("transaction_id", result.Transaction.ID),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance", result.Balance.Balance),
	)
	return &result, nil
}

func validateCredit(req CreditRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errutil.BadRequest("user_id is required", nil)
	}
	if req.Amount <= 0 {
		return errutil.BadRequest("amount must be > 0", nil)
	}
	if !validTypes[req.Type] {
		return errutil.BadRequest("unsupported transaction type", nil)
	}
	return nil
}

func (s *Service) duplicateResult(ctx context.Context, existing *Transaction) (*CreditResult, error) {
	metrics.LedgerCredits.WithLabelValues(existing.Type, "duplicate").Inc()
	balance, err := s.GetBalance(ctx, existing.UserID)
	if err != nil {
		return nil, err
	}
	return &CreditResult{Transaction: existing, Balance: balance, Duplicate: true}, nil
}

// credit runs inside tx. The balance upsert comes first so concurrent credits
// of the same user serialise on the balance row before reading the chain head.
func (s *Service) credit(ctx context.Context, tx *gorm.DB, req CreditRequest) (*Transaction, *UserBalance, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("user_balances.balance + ?", req.Amount),
			"updated_at": now,
		}),
	}).Create(&UserBalance{UserID: req.UserID, Balance: req.Amount, UpdatedAt: now}).Error; err != nil {
		return nil, nil, err
	}

	balance, err := s.balances.WithTrx(tx).FindOne(ctx, &UserBalance{UserID: req.UserID})
	if err != nil {
		return nil, nil, err
	}
	if balance == nil {
		return nil, nil, errors.New("balance row missing after upsert")
	}

	last, err := s.chainHead(ctx, tx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	previousHash := genesisHash
	if last != nil {
		previousHash = last.Hash
	}

	var metadata datatypes.JSON
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, nil, errutil.BadRequest("metadata is not serialisable", err)
		}
		metadata = datatypes.JSON(raw)
	}

	txn := &Transaction{
		ID:              s.node.Generate().String(),
		UserID:          req.UserID,
		Amount:          req.Amount,
		Type:            req.Type,
		ExternalID:      nullable(req.ExternalID),
		ProviderOrderID: nullable(req.ProviderOrderID),
		Status:          StatusCompleted,
		Description:     req.Description,
		Metadata:        metadata,
		PreviousHash:    previousHash,
		CreatedAt:       now,
	}
	txn.Hash = txn.GenerateHash()

	if err := s.transactions.WithTrx(tx).Create(ctx, txn); err != nil {
		return nil, nil, err
	}

	return txn, balance, nil
}

func (s *Service) chainHead(ctx context.Context, tx *gorm.DB, userID string) (*Transaction, error) {
	allow := map[string]bool{"created_at": true, "id": true}
	return s.transactions.WithTrx(tx).FindOne(ctx, &Transaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: allow}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: allow}),
	)
}

// OpenCoinOrder records a pending purchase that is fulfilled later by
// ApproveManualOrder.
func (s *Service) OpenCoinOrder(ctx context.Context, req OpenOrderRequest) (*CoinOrder, error) {
	return s.OpenCoinOrderTx(ctx, s.db, req)
}

// OpenCoinOrderTx opens the coin order inside the caller's transaction so a
// linked record can be written atomically with it.
func (s *Service) OpenCoinOrderTx(ctx context.Context, tx *gorm.DB, req OpenOrderRequest) (*CoinOrder, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	if req.Coins <= 0 {
		return nil, errutil.BadRequest("coins must be > 0", nil)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	order := &CoinOrder{
		ID:          s.node.Generate().String(),
		UserID:      req.UserID,
		PackageID:   req.PackageID,
		Coins:       req.Coins,
		AmountCents: req.AmountCents,
		Currency:    currency,
		Provider:    req.Provider,
		Status:      OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.WithTrx(tx).Create(ctx, order); err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Error("failed to open coin order", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, errutil.Internal("failed to open coin order", err)
	}
	return order, nil
}

// ApproveManualOrder fulfils a pending coin order and credits its coins in one
// transaction. Approving an order that is already fulfilled succeeds with
// AlreadyApproved set and credits nothing. Business failures are reported
// through ErrorMessage; the error return is reserved for storage failures.
func (s *Service) ApproveManualOrder(ctx context.Context, coinOrderID, approverID, externalTxID string) (*ApproveResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.ApproveManualOrder")
	defer span.End()
	span.SetAttributes(attribute.String("coin_order_id", coinOrderID))

	log := zap.L().With(logger.TraceFields(ctx)...).With(
		zap.String("coin_order_id", coinOrderID),
		zap.String("approver_id", approverID),
	)

	var (
		result  ApproveResult
		ownerID string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.WithTrx(tx).FindOne(ctx, &CoinOrder{ID: coinOrderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if order == nil {
			result.ErrorMessage = "coin order not found"
			return nil
		}
		ownerID = order.UserID

		if order.Status == OrderFulfilled {
			result.Success = true
			result.AlreadyApproved = true
			return nil
		}
		if order.Coins <= 0 {
			result.ErrorMessage = "coin order has no coins"
			return nil
		}

		now := time.Now().UTC()
		res := tx.Model(&CoinOrder{}).
			Where("id = ? AND status = ?", order.ID, OrderPending).
			Updates(map[string]any{
				"status":         OrderFulfilled,
				"approved_by":    approverID,
				"external_tx_id": externalTxID,
				"fulfilled_at":   now,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result.Success = true
			result.AlreadyApproved = true
			return nil
		}

		_, balance, err := s.credit(ctx, tx, CreditRequest{
			UserID:      order.UserID,
			Amount:      order.Coins,
			Type:        TypeManual,
			ExternalID:  "coin_order:" + order.ID,
			Description: "Manual coin order approved",
			Metadata: map[string]any{
				"coin_order_id":  order.ID,
				"package_id":     order.PackageID,
				"amount_cents":   order.AmountCents,
				"provider":       order.Provider,
				"approved_by":    approverID,
				"external_tx_id": externalTxID,
			},
		})
		if err != nil {
			return err
		}

		result.Success = true
		result.NewBalance = balance.Balance
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// a concurrent approval committed first
			result = ApproveResult{Success: true, AlreadyApproved: true}
		} else {
			metrics.LedgerCredits.WithLabelValues(TypeManual, "error").Inc()
			log.Error("failed to approve coin order", zap.Error(err))
			return nil, errutil.Internal("ledger approval failed", err)
		}
	}

	if result.AlreadyApproved && ownerID != "" {
		balance, err := s.GetBalance(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		result.NewBalance = balance.Balance
		metrics.LedgerCredits.WithLabelValues(TypeManual, "duplicate").Inc()
		log.Info("coin order already fulfilled")
	} else if result.Success {
		metrics.LedgerCredits.WithLabelValues(TypeManual, "credited").Inc()
		log.Info("coin order fulfilled", zap.Int64("balance", result.NewBalance))
	}

	return &result, nil
}

// VerifyChain recomputes every hash of a user's transactions in insertion order.
func (s *Service) VerifyChain(ctx context.Context, userID string) (*ChainReport, error) {
	allow := map[string]bool{"created_at": true, "id": true}
	entries, err := s.transactions.Find(ctx, &Transaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: allow}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: allow}),
	)
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Error("failed to query Find entries", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	report := &ChainReport{UserID: userID, Valid: true, Entries: len(entries)}
	lastHash := genesisHash
	for _, entry := range entries {
		if entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			report.Valid = false
			report.BrokenAt = entry.ID
			break
		}
		lastHash = entry.Hash
	}
	return report, nil
}
