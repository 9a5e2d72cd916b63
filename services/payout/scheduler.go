package payout

import (
	"context"
	"errors"
	"time"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	dispatchWeekday = time.Monday
	dispatchHour    = 20
	reconcileHour   = 6
)

type Scheduler struct {
	enqueuer task.Enqueuer
	loc      *time.Location
}

func NewScheduler(cfg *config.Config, enqueuer task.Enqueuer) *Scheduler {
	loc, err := time.LoadLocation(cfg.Payout.ScheduleLocation)
	if err != nil {
		zap.L().Warn("[Scheduler] invalid schedule location, using UTC", zap.String("location", cfg.Payout.ScheduleLocation), zap.Error(err))
		loc = time.UTC
	}
	return &Scheduler{enqueuer: enqueuer, loc: loc}
}

// StartScheduler runs the weekly dispatch and daily reconcile loops for the
// lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.loop(ctx, "payout dispatch", s.nextDispatch, s.enqueueDispatch)
			go s.loop(ctx, "payout reconcile", s.nextReconcile, s.enqueueReconcile)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) loop(ctx context.Context, name string, next func(time.Time) time.Time, fire func(context.Context, time.Time)) {
	zap.L().Info("[Scheduler] started", zap.String("job", name))

	for {
		now := time.Now().In(s.loc)
		at := next(now)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.String("job", name),
			zap.Time("next_run", at),
			zap.Duration("sleep_for", at.Sub(now)),
		)

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-timer.C:
			fire(ctx, at)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Warn("[Scheduler] stopped", zap.String("job", name))
			return
		}
	}
}

func (s *Scheduler) nextDispatch(now time.Time) time.Time {
	return nextWeeklyRunTime(now, dispatchWeekday, dispatchHour, 0)
}

func (s *Scheduler) nextReconcile(now time.Time) time.Time {
	return nextRunTime(now, reconcileHour, 0)
}

// The task id is derived from the slot so replicas firing the same slot
// enqueue one task.
func (s *Scheduler) enqueueDispatch(ctx context.Context, slot time.Time) {
	t := NewDispatchTask(TriggerSchedule, asynq.TaskID("payout-dispatch-"+slot.Format("2006-01-02")))
	s.enqueue(ctx, t, "payout dispatch")
}

func (s *Scheduler) enqueueReconcile(ctx context.Context, slot time.Time) {
	t := NewReconcileTask(asynq.TaskID("payout-reconcile-" + slot.Format("2006-01-02")))
	s.enqueue(ctx, t, "payout reconcile")
}

func (s *Scheduler) enqueue(ctx context.Context, t *asynq.Task, name string) {
	info, err := s.enqueuer.Enqueue(ctx, t)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("[Scheduler] slot already enqueued", zap.String("job", name))
		return
	}
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue", zap.String("job", name), zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] enqueued", zap.String("job", name), zap.String("task_id", info.ID))
}

// nextRunTime returns the next occurrence of hour:minute strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// nextWeeklyRunTime returns the next weekday at hour:minute strictly after now.
func nextWeeklyRunTime(now time.Time, weekday time.Weekday, hour, minute int) time.Time {
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	next := time.Date(now.Year(), now.Month(), now.Day()+days, hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
