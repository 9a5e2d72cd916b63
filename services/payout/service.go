package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db/option"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/featureflags"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/metrics"
	"coin-settlement/pkg/paypal"
	"coin-settlement/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("coin-settlement/services/payout")

const (
	itemCompleted = "completed"
	itemFailed    = "failed"
	itemSkipped   = "skipped"

	completedNote = "Auto-processed via Monday payout schedule"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway paypal.Gateway
	flags   featureflags.FeatureFlag

	stuckAfter time.Duration

	requests repository.Repository[PayoutRequest]
	audits   repository.Repository[AuditLog]
	runs     repository.Repository[Run]
}

type ServiceParams struct {
	fx.In
	Config  *config.Config
	DB      *gorm.DB
	Node    *snowflake.Node
	Gateway paypal.Gateway
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	stuckAfter := time.Hour
	if p.Config != nil && p.Config.Payout.StuckAfter > 0 {
		stuckAfter = p.Config.Payout.StuckAfter
	}

	return &Service{
		db:      p.DB,
		node:    p.Node,
		gateway: p.Gateway,
		flags:   p.Flags,

		stuckAfter: stuckAfter,

		requests: repository.ProvideStore[PayoutRequest](p.DB),
		audits:   repository.ProvideStore[AuditLog](p.DB),
		runs:     repository.ProvideStore[Run](p.DB),
	}
}

// Run pays out approved requests, oldest first, one at a time. Only a failed
// token acquisition or request listing fails the run as a whole.
func (s *Service) Run(ctx context.Context, trigger string) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "payout.Run")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", trigger))

	start := time.Now()
	defer func() { metrics.PayoutRunDuration.Observe(time.Since(start).Seconds()) }()

	log := zap.L().With(logger.TraceFields(ctx)...).With(zap.String("trigger", trigger))

	run := &Run{
		ID:        s.node.Generate().String(),
		Trigger:   trigger,
		Status:    "running",
		StartedAt: start.UTC(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		log.Error("failed to record payout run", zap.Error(err))
		return nil, errutil.Internal("failed to record payout run", err)
	}
	log = log.With(zap.String("run_id", run.ID))

	summary := &Summary{RunID: run.ID, Trigger: trigger, Results: []ItemResult{}}

	if s.flags != nil && !s.flags.Enabled(ctx, featureflags.AutoPayouts, true) {
		summary.Disabled = true
		summary.Message = "Automatic payouts are disabled"
		log.Warn("automatic payouts disabled by feature flag")
		s.finishRun(ctx, run, summary, nil)
		return summary, nil
	}

	settings := LoadSettings(ctx, s.db)

	requests, err := s.requests.Find(ctx, &PayoutRequest{Status: StatusApproved},
		option.WithSortBy(option.QuerySortBy{SortBy: "requested_at", OrderBy: "asc"}),
		option.WithLimit(settings.MaxDailyPayouts),
	)
	if err != nil {
		log.Error("failed to list approved payout requests", zap.Error(err))
		s.finishRun(ctx, run, summary, err)
		return nil, errutil.Internal("failed to list payout requests", err)
	}

	if len(requests) == 0 {
		summary.Message = "No approved payouts to process"
		s.finishRun(ctx, run, summary, nil)
		return summary, nil
	}

	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		log.Error("payout run aborted, provider authentication failed", zap.Error(err))
		s.finishRun(ctx, run, summary, err)
		return nil, errutil.BadGateway("PayPal authentication failed", err)
	}

	for _, req := range requests {
		if ctx.Err() != nil {
			// unclaimed requests stay approved for the next run
			summary.Results = append(summary.Results, ItemResult{ID: req.ID, Status: itemSkipped, Reason: "run cancelled"})
			continue
		}
		res := s.processItem(ctx, token, settings, req)
		metrics.PayoutItems.WithLabelValues(res.Status).Inc()
		summary.Results = append(summary.Results, res)
	}

	summary.Message = "Automatic payouts processed"
	summary.Count = len(summary.Results)
	s.finishRun(context.WithoutCancel(ctx), run, summary, ctx.Err())

	log.Info("payout run finished",
		zap.Int("count", summary.Count),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (s *Service) finishRun(ctx context.Context, run *Run, summary *Summary, runErr error) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Status = "success"
	if runErr != nil {
		run.Status = "failed"
		run.ErrorMsg = runErr.Error()
	}
	for _, r := range summary.Results {
		switch r.Status {
		case itemCompleted:
			run.Processed++
		case itemFailed:
			run.Failed++
		case itemSkipped:
			run.Skipped++
		}
	}
	if raw, err := json.Marshal(summary); err == nil {
		run.Summary = datatypes.JSON(raw)
	}

	err := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":       run.Status,
		"processed":    run.Processed,
		"failed":       run.Failed,
		"skipped":      run.Skipped,
		"error_msg":    run.ErrorMsg,
		"summary":      run.Summary,
		"completed_at": run.CompletedAt,
	}).Error
	if err != nil {
		zap.L().Error("failed to update payout run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// processItem never panics and never returns an error: whatever happens to
// one request stays with that request.
func (s *Service) processItem(ctx context.Context, token string, settings Settings, req *PayoutRequest) (result ItemResult) {
	log := zap.L().With(logger.TraceFields(ctx)...).With(zap.String("payout_request_id", req.ID))
	claimed := false

	defer func() {
		if r := recover(); r != nil {
			log.Error("payout item panicked", zap.Any("panic", r), zap.Stack("stack"))
			if !claimed {
				result = ItemResult{ID: req.ID, Status: itemSkipped, Error: fmt.Sprint(r)}
				return
			}
			result = s.fail(ctx, req, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	ok, err := s.claim(ctx, req.ID)
	if err != nil {
		log.Error("failed to claim payout request", zap.Error(err))
		return ItemResult{ID: req.ID, Status: itemSkipped, Reason: "claim failed", Error: err.Error()}
	}
	if !ok {
		log.Info("payout request claimed by another run")
		return ItemResult{ID: req.ID, Status: itemSkipped, Reason: "concurrent update"}
	}
	claimed = true

	// A claimed request must end completed or failed with its audit entry,
	// so cancellation of the run stops at the claim.
	ctx = context.WithoutCancel(ctx)

	res, err := s.pay(ctx, token, settings, req)
	if err != nil {
		log.Error("auto payout failed", zap.Error(err))
		return s.fail(ctx, req, err)
	}
	return *res
}

// claim moves the request approved → processing. False means another
// run got there first.
func (s *Service) claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&PayoutRequest{}).
		Where("id = ? AND status = ?", id, StatusApproved).
		Updates(map[string]any{
			"status":       StatusProcessing,
			"processed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) pay(ctx context.Context, token string, settings Settings, req *PayoutRequest) (*ItemResult, error) {
	recipient := req.Recipient()
	if recipient == "" {
		return nil, fmt.Errorf("missing PayPal email for payout %s", req.ID)
	}

	b := Compute(req, settings)
	if !b.Net.IsPositive() {
		return nil, fmt.Errorf("no payable amount for payout %s (source %s)", req.ID, b.Source)
	}
	currency := req.PayoutCurrencyCode()

	batch := paypal.PayoutBatch{
		SenderBatchHeader: paypal.SenderBatchHeader{
			SenderBatchID: fmt.Sprintf("auto_payout_%s_%d", req.ID, time.Now().UnixMilli()),
			EmailSubject:  "Your creator payout is on its way",
			EmailMessage:  "Thanks for being a creator. Your payout was processed automatically today.",
		},
		Items: []paypal.PayoutItem{{
			RecipientType: "EMAIL",
			Amount:        paypal.PayoutAmount{Value: b.Net.StringFixed(2), Currency: currency},
			Receiver:      recipient,
			Note:          fmt.Sprintf("creator payout (%s)", req.ID),
			SenderItemID:  req.ID,
		}},
	}

	out, err := s.gateway.CreatePayout(ctx, token, batch)
	if err != nil {
		var apiErr *paypal.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return nil, errors.New(apiErr.Message)
		}
		return nil, err
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Model(&PayoutRequest{}).
		Where("id = ? AND status = ?", req.ID, StatusProcessing).
		Updates(map[string]any{
			"status":                StatusCompleted,
			"completed_at":          now,
			"provider_batch_id":     out.BatchHeader.PayoutBatchID,
			"provider_batch_status": out.BatchHeader.BatchStatus,
			"usd_amount":            b.Amount,
			"net_amount":            b.Net,
			"paypal_fee":            b.Fee,
			"admin_notes":           completedNote,
			"updated_at":            now,
		}).Error
	if err != nil {
		// the money has moved; the reconcile pass will flag the stale row
		zap.L().Error("failed to persist payout completion", zap.String("payout_request_id", req.ID), zap.Error(err))
	}

	s.audit(ctx, &AuditLog{
		PayoutRequestID: req.ID,
		Action:          AuditAutoProcessed,
		ProviderBatchID: out.BatchHeader.PayoutBatchID,
		Amount:          b.Net,
		Currency:        currency,
		Recipient:       MaskEmail(recipient),
		Notes:           fmt.Sprintf("amount %s fee %s source %s", b.Amount.StringFixed(2), b.Fee.StringFixed(2), b.Source),
	})

	return &ItemResult{ID: req.ID, Status: itemCompleted, BatchID: out.BatchHeader.PayoutBatchID}, nil
}

func (s *Service) fail(ctx context.Context, req *PayoutRequest, cause error) ItemResult {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&PayoutRequest{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"status":      StatusFailed,
			"admin_notes": "Auto payout error: " + cause.Error(),
			"updated_at":  now,
		}).Error
	if err != nil {
		zap.L().Error("failed to mark payout failed", zap.String("payout_request_id", req.ID), zap.Error(err))
	}

	amount, _ := positive(req.NetAmount)
	s.audit(ctx, &AuditLog{
		PayoutRequestID: req.ID,
		Action:          AuditAutoFailed,
		Amount:          amount,
		Currency:        req.PayoutCurrencyCode(),
		Recipient:       MaskEmail(req.Recipient()),
		Notes:           cause.Error(),
	})

	return ItemResult{ID: req.ID, Status: itemFailed, Error: cause.Error()}
}

func (s *Service) audit(ctx context.Context, entry *AuditLog) {
	entry.ID = s.node.Generate().String()
	entry.ProcessedBy = processedBySystem
	entry.CreatedAt = time.Now().UTC()

	if err := s.audits.Create(ctx, entry); err != nil {
		zap.L().Error("failed to write payout audit entry",
			zap.String("payout_request_id", entry.PayoutRequestID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
