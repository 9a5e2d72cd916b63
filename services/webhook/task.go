package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coin-settlement/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func NewProcessTask(d Delivery) (*asynq.Task, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.WebhookPayPalProcess, payload,
		asynq.MaxRetry(5),
		asynq.Timeout(60*time.Second),
		asynq.Queue(taskname.QueueCritical)), nil
}

// retryable outcomes are failures on our side or the provider's; the
// delivery itself was valid and a later attempt can still credit it.
func retryable(o Outcome) bool {
	switch o {
	case OutcomeOrderFetchFailed, OutcomeCreditFailed:
		return true
	}
	return false
}

func (s *Service) HandleProcessTask(ctx context.Context, t *asynq.Task) error {
	var d Delivery
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		zap.L().Error("invalid webhook task payload", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	outcome := s.Process(ctx, d)
	if retryable(outcome) {
		return fmt.Errorf("webhook processing failed: %s", outcome)
	}
	return nil
}
