package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coin-settlement/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type DispatchPayload struct {
	Trigger string `json:"trigger"`
}

func NewDispatchTask(trigger string, opts ...asynq.Option) *asynq.Task {
	payload, _ := json.Marshal(DispatchPayload{Trigger: trigger})
	opts = append([]asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Minute),
		asynq.Queue(taskname.QueueCritical),
	}, opts...)
	return asynq.NewTask(taskname.PayoutDispatchRun, payload, opts...)
}

func NewReconcileTask(opts ...asynq.Option) *asynq.Task {
	opts = append([]asynq.Option{
		asynq.MaxRetry(1),
		asynq.Timeout(10 * time.Minute),
		asynq.Queue(taskname.QueueLow),
	}, opts...)
	return asynq.NewTask(taskname.PayoutReconcileRun, nil, opts...)
}

func (s *Service) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid payout dispatch payload", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.Trigger == "" {
		payload.Trigger = TriggerSchedule
	}

	zap.L().Info("Processing payout dispatch task", zap.String("trigger", payload.Trigger))

	summary, err := s.Run(ctx, payload.Trigger)
	if err != nil {
		zap.L().Error("failed to process payout dispatch", zap.String("trigger", payload.Trigger), zap.Error(err))
		return err
	}

	zap.L().Info("Finished payout dispatch task",
		zap.String("run_id", summary.RunID),
		zap.Int("count", summary.Count),
	)
	return nil
}

func (s *Service) HandleReconcileTask(ctx context.Context, _ *asynq.Task) error {
	report, err := s.Reconcile(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("Finished payout reconcile task", zap.Int("flagged", len(report.Flagged)))
	return nil
}
