package payout

import (
	"context"
	"fmt"
	"time"

	"coin-settlement/pkg/db/option"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/metrics"

	"go.uber.org/zap"
)

type FlaggedRequest struct {
	ID              string    `json:"id"`
	ProcessedAt     time.Time `json:"processed_at"`
	ProviderBatchID string    `json:"provider_batch_id,omitempty"`
	ProviderStatus  string    `json:"provider_status,omitempty"`
}

type ReconcileReport struct {
	Flagged []FlaggedRequest `json:"flagged"`
}

// Reconcile flags requests left in processing longer than the stuck
// threshold. A crash between a successful payout call and the completion
// write leaves such rows behind. Request status is never changed here; the
// provider batch status is recorded and an audit entry is appended so an
// operator can settle the row by hand.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "payout.Reconcile")
	defer span.End()

	log := zap.L().With(logger.TraceFields(ctx)...)
	cutoff := time.Now().UTC().Add(-s.stuckAfter)

	stuck, err := s.requests.Find(ctx, &PayoutRequest{Status: StatusProcessing},
		option.ApplyOperator(option.Condition{Field: "processed_at", Operator: option.LT, Value: cutoff}),
		option.WithSortBy(option.QuerySortBy{SortBy: "processed_at", OrderBy: "asc"}),
	)
	if err != nil {
		log.Error("failed to list stuck payout requests", zap.Error(err))
		return nil, err
	}
	metrics.StuckPayouts.Set(float64(len(stuck)))

	report := &ReconcileReport{Flagged: []FlaggedRequest{}}
	if len(stuck) == 0 {
		return report, nil
	}

	var token string
	for _, req := range stuck {
		flagged := FlaggedRequest{ID: req.ID, ProviderBatchID: req.ProviderBatchID}
		if req.ProcessedAt != nil {
			flagged.ProcessedAt = *req.ProcessedAt
		}

		if req.ProviderBatchID != "" {
			if token == "" {
				token, err = s.gateway.AccessToken(ctx)
				if err != nil {
					log.Warn("reconcile could not authenticate with provider, flagging without batch status", zap.Error(err))
				}
			}
			if token != "" {
				flagged.ProviderStatus = s.batchStatus(ctx, token, req)
			}
		}

		log.Warn("payout request stuck in processing",
			zap.String("payout_request_id", req.ID),
			zap.Time("processed_at", flagged.ProcessedAt),
			zap.String("provider_batch_id", req.ProviderBatchID),
			zap.String("provider_status", flagged.ProviderStatus),
		)

		s.audit(ctx, &AuditLog{
			PayoutRequestID: req.ID,
			Action:          AuditReconcileFlagged,
			ProviderBatchID: req.ProviderBatchID,
			Currency:        req.PayoutCurrencyCode(),
			Recipient:       MaskEmail(req.Recipient()),
			Notes:           fmt.Sprintf("processing since %s, provider status %q", flagged.ProcessedAt.Format(time.RFC3339), flagged.ProviderStatus),
		})
		report.Flagged = append(report.Flagged, flagged)
	}

	return report, nil
}

func (s *Service) batchStatus(ctx context.Context, token string, req *PayoutRequest) string {
	batch, err := s.gateway.GetPayoutBatch(ctx, token, req.ProviderBatchID)
	if err != nil {
		zap.L().Warn("failed to query payout batch",
			zap.String("payout_request_id", req.ID),
			zap.String("provider_batch_id", req.ProviderBatchID),
			zap.Error(err),
		)
		return ""
	}

	status := batch.BatchHeader.BatchStatus
	err = s.db.WithContext(ctx).Model(&PayoutRequest{}).
		Where("id = ? AND status = ?", req.ID, StatusProcessing).
		Updates(map[string]any{"provider_batch_status": status}).Error
	if err != nil {
		zap.L().Error("failed to record provider batch status", zap.String("payout_request_id", req.ID), zap.Error(err))
	}
	return status
}
