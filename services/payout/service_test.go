package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/featureflags"
	"coin-settlement/pkg/paypal"
	"coin-settlement/pkg/paypal/mock"
	"coin-settlement/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db      *gorm.DB
	gateway *mock.MockGateway
	service *Service
}

func newFixture(t *testing.T, flags featureflags.FeatureFlag) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	gw := mock.NewMockGateway(gomock.NewController(t))
	svc := NewService(ServiceParams{
		Config:  &config.Config{},
		DB:      db,
		Node:    testutil.NewNode(t),
		Gateway: gw,
		Flags:   flags,
	})
	return &fixture{db: db, gateway: gw, service: svc}
}

func (f *fixture) seed(t *testing.T, reqs ...PayoutRequest) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	for i := range reqs {
		if reqs[i].Status == "" {
			reqs[i].Status = StatusApproved
		}
		if reqs[i].RequestedAt.IsZero() {
			reqs[i].RequestedAt = base.Add(time.Duration(i) * time.Minute)
		}
		require.NoError(t, f.db.Create(&reqs[i]).Error)
	}
}

func (f *fixture) request(t *testing.T, id string) *PayoutRequest {
	t.Helper()
	var r PayoutRequest
	require.NoError(t, f.db.First(&r, "id = ?", id).Error)
	return &r
}

func (f *fixture) audits(t *testing.T, id string) []AuditLog {
	t.Helper()
	var logs []AuditLog
	require.NoError(t, f.db.Where("payout_request_id = ?", id).Order("created_at").Find(&logs).Error)
	return logs
}

func batchResult(id string) *paypal.PayoutBatchResult {
	return &paypal.PayoutBatchResult{BatchHeader: paypal.PayoutBatchHeader{PayoutBatchID: "BATCH-" + id, BatchStatus: "PENDING"}}
}

func TestRunPaysApprovedRequests(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t,
		PayoutRequest{ID: "req-1", UserID: "creator-1", USDAmount: usd("100.00"), PayPalEmail: "creator@example.com"},
		PayoutRequest{ID: "req-2", UserID: "creator-2", RequestedCoins: 1000},
		PayoutRequest{ID: "req-3", UserID: "creator-3", USDAmount: usd("10"), PayPalEmail: "x@example.com", Status: StatusPending},
	)

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil).Times(1)
	f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, batch paypal.PayoutBatch) (*paypal.PayoutBatchResult, error) {
			require.Len(t, batch.Items, 1)
			item := batch.Items[0]
			require.Equal(t, "req-1", item.SenderItemID)
			require.Equal(t, "96.80", item.Amount.Value)
			require.Equal(t, "USD", item.Amount.Currency)
			require.Equal(t, "creator@example.com", item.Receiver)
			require.Equal(t, "creator payout (req-1)", item.Note)
			require.Regexp(t, `^auto_payout_req-1_\d+$`, batch.SenderBatchHeader.SenderBatchID)
			return batchResult("req-1"), nil
		})

	summary, err := f.service.Run(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count)
	require.Equal(t, ItemResult{ID: "req-1", Status: itemCompleted, BatchID: "BATCH-req-1"}, summary.Results[0])
	require.Equal(t, itemFailed, summary.Results[1].Status)

	paid := f.request(t, "req-1")
	require.Equal(t, StatusCompleted, paid.Status)
	require.Equal(t, "BATCH-req-1", paid.ProviderBatchID)
	require.Equal(t, "PENDING", paid.ProviderBatchStatus)
	require.Equal(t, completedNote, paid.AdminNotes)
	require.True(t, paid.NetAmount.Decimal.Equal(decimal.RequireFromString("96.80")))
	require.True(t, paid.PayPalFee.Decimal.Equal(decimal.RequireFromString("3.20")))
	require.NotNil(t, paid.CompletedAt)

	logs := f.audits(t, "req-1")
	require.Len(t, logs, 1)
	require.Equal(t, AuditAutoProcessed, logs[0].Action)
	require.Equal(t, "cre***@example.com", logs[0].Recipient)
	require.Equal(t, processedBySystem, logs[0].ProcessedBy)

	failed := f.request(t, "req-2")
	require.Equal(t, StatusFailed, failed.Status)
	require.Contains(t, failed.AdminNotes, "Auto payout error: missing PayPal email")
	require.Equal(t, AuditAutoFailed, f.audits(t, "req-2")[0].Action)

	require.Equal(t, StatusPending, f.request(t, "req-3").Status)

	var run Run
	require.NoError(t, f.db.First(&run, "id = ?", summary.RunID).Error)
	require.Equal(t, "success", run.Status)
	require.Equal(t, 1, run.Processed)
	require.Equal(t, 1, run.Failed)
}

func TestRunProviderFailureIsolatedPerItem(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t,
		PayoutRequest{ID: "req-1", UserID: "u1", USDAmount: usd("20"), PayPalEmail: "a@example.com"},
		PayoutRequest{ID: "req-2", UserID: "u2", USDAmount: usd("30"), PayPalEmail: "b@example.com"},
	)

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil)
	gomock.InOrder(
		f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).
			Return(nil, &paypal.APIError{StatusCode: 422, Name: "INSUFFICIENT_FUNDS", Message: "Sender does not have sufficient funds"}),
		f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).Return(batchResult("req-2"), nil),
	)

	summary, err := f.service.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, itemFailed, summary.Results[0].Status)
	require.Equal(t, itemCompleted, summary.Results[1].Status)

	require.Equal(t, "Auto payout error: Sender does not have sufficient funds", f.request(t, "req-1").AdminNotes)
	require.Equal(t, StatusCompleted, f.request(t, "req-2").Status)
}

func TestRunCancelledDuringProviderCallSettlesClaimedRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t,
		PayoutRequest{ID: "req-1", UserID: "u1", USDAmount: usd("20"), PayPalEmail: "a@example.com"},
		PayoutRequest{ID: "req-2", UserID: "u2", USDAmount: usd("30"), PayPalEmail: "b@example.com"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil)
	f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).
		DoAndReturn(func(callCtx context.Context, _ string, _ paypal.PayoutBatch) (*paypal.PayoutBatchResult, error) {
			cancel()
			require.NoError(t, callCtx.Err())
			return nil, context.Canceled
		})

	summary, err := f.service.Run(ctx, TriggerSchedule)
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	require.Equal(t, itemFailed, summary.Results[0].Status)
	require.Equal(t, ItemResult{ID: "req-2", Status: itemSkipped, Reason: "run cancelled"}, summary.Results[1])

	failed := f.request(t, "req-1")
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "Auto payout error: context canceled", failed.AdminNotes)

	logs := f.audits(t, "req-1")
	require.Len(t, logs, 1)
	require.Equal(t, AuditAutoFailed, logs[0].Action)

	require.Equal(t, StatusApproved, f.request(t, "req-2").Status)
	require.Empty(t, f.audits(t, "req-2"))

	var run Run
	require.NoError(t, f.db.First(&run, "id = ?", summary.RunID).Error)
	require.Equal(t, "failed", run.Status)
	require.Equal(t, 1, run.Failed)
	require.Equal(t, 1, run.Skipped)
	require.NotNil(t, run.CompletedAt)
}

func TestRunRecoversFromPanic(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, PayoutRequest{ID: "req-1", UserID: "u1", USDAmount: usd("20"), PayPalEmail: "a@example.com"})

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil)
	f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).
		DoAndReturn(func(context.Context, string, paypal.PayoutBatch) (*paypal.PayoutBatchResult, error) {
			panic("boom")
		})

	summary, err := f.service.Run(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, itemFailed, summary.Results[0].Status)
	require.Equal(t, StatusFailed, f.request(t, "req-1").Status)
}

func TestRunAbortsWhenTokenFails(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, PayoutRequest{ID: "req-1", UserID: "u1", USDAmount: usd("20"), PayPalEmail: "a@example.com"})

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("", paypal.ErrAuthentication)

	_, err := f.service.Run(context.Background(), TriggerSchedule)
	require.Error(t, err)
	require.True(t, errors.Is(err, paypal.ErrAuthentication))
	require.Equal(t, StatusApproved, f.request(t, "req-1").Status)

	var run Run
	require.NoError(t, f.db.First(&run).Error)
	require.Equal(t, "failed", run.Status)
}

func TestRunWithNothingApprovedSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)

	summary, err := f.service.Run(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, "No approved payouts to process", summary.Message)
	require.Empty(t, summary.Results)
}

func TestRunDisabledByFlag(t *testing.T) {
	f := newFixture(t, featureflags.Static(map[string]bool{featureflags.AutoPayouts: false}))
	f.seed(t, PayoutRequest{ID: "req-1", UserID: "u1", USDAmount: usd("20"), PayPalEmail: "a@example.com"})

	summary, err := f.service.Run(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.True(t, summary.Disabled)
	require.Equal(t, StatusApproved, f.request(t, "req-1").Status)
}

func TestRunRespectsMaxDailyPayouts(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Create(&Setting{Key: SettingMaxDailyPayouts, Value: "1"}).Error)
	f.seed(t,
		PayoutRequest{ID: "old", UserID: "u1", USDAmount: usd("20"), PayPalEmail: "a@example.com"},
		PayoutRequest{ID: "new", UserID: "u2", USDAmount: usd("20"), PayPalEmail: "b@example.com"},
	)

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil)
	f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).Return(batchResult("old"), nil)

	summary, err := f.service.Run(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, "old", summary.Results[0].ID)
	require.Equal(t, StatusApproved, f.request(t, "new").Status)
}

func TestConcurrentRunsPayEachRequestOnce(t *testing.T) {
	f := newFixture(t, nil)
	ids := []string{"req-1", "req-2", "req-3", "req-4", "req-5"}
	for _, id := range ids {
		f.seed(t, PayoutRequest{ID: id, UserID: "u-" + id, USDAmount: usd("25"), PayPalEmail: id + "@example.com"})
	}

	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil).AnyTimes()
	f.gateway.EXPECT().CreatePayout(gomock.Any(), "token", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, batch paypal.PayoutBatch) (*paypal.PayoutBatchResult, error) {
			id := batch.Items[0].SenderItemID
			mu.Lock()
			calls[id]++
			mu.Unlock()
			return batchResult(id), nil
		}).AnyTimes()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Run(context.Background(), TriggerSchedule)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, 1, calls[id], id)
		require.Equal(t, StatusCompleted, f.request(t, id).Status)
	}
}

func TestReconcileFlagsStuckRequests(t *testing.T) {
	f := newFixture(t, nil)
	stale := time.Now().UTC().Add(-3 * time.Hour)
	fresh := time.Now().UTC()
	f.seed(t,
		PayoutRequest{ID: "stuck-1", UserID: "u1", Status: StatusProcessing, ProcessedAt: &stale, ProviderBatchID: "BATCH-1", PayPalEmail: "creator@example.com"},
		PayoutRequest{ID: "stuck-2", UserID: "u2", Status: StatusProcessing, ProcessedAt: &stale},
		PayoutRequest{ID: "fresh", UserID: "u3", Status: StatusProcessing, ProcessedAt: &fresh},
	)

	f.gateway.EXPECT().AccessToken(gomock.Any()).Return("token", nil)
	f.gateway.EXPECT().GetPayoutBatch(gomock.Any(), "token", "BATCH-1").
		Return(&paypal.PayoutBatchResult{BatchHeader: paypal.PayoutBatchHeader{PayoutBatchID: "BATCH-1", BatchStatus: "SUCCESS"}}, nil)

	report, err := f.service.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Flagged, 2)
	require.Equal(t, "SUCCESS", report.Flagged[0].ProviderStatus)

	first := f.request(t, "stuck-1")
	require.Equal(t, StatusProcessing, first.Status)
	require.Equal(t, "SUCCESS", first.ProviderBatchStatus)

	logs := f.audits(t, "stuck-2")
	require.Len(t, logs, 1)
	require.Equal(t, AuditReconcileFlagged, logs[0].Action)
	require.Empty(t, f.audits(t, "fresh"))
}
