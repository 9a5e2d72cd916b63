package manualorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"
	"coin-settlement/services/ledger"
	"coin-settlement/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) (*Service, *ledger.Service) {
	t.Helper()

	models := append(ledger.Models(), &ManualOrder{})
	db := testutil.NewTestDB(t, models...)
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: testutil.NewNode(t)})

	cfg := &config.Config{}
	cfg.ManualOrder.ReceiverHandle = "$settlement"

	return NewService(ServiceParams{Config: cfg, DB: db, Ledger: led}), led
}

func TestNormalizeHandle(t *testing.T) {
	valid := map[string]string{
		"$jane.doe":   "jane.doe",
		"  $$Jane_99": "Jane_99",
		"a":           "a",
		"abc-def":     "abc-def",
		strings.Repeat("x", 30): strings.Repeat("x", 30),
	}
	for raw, want := range valid {
		got, err := NormalizeHandle(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}

	invalid := []string{
		"",
		"$",
		"$$  ",
		"jane doe",
		strings.Repeat("x", 31),
		"jane@doe",
		"$jane$",
	}
	for _, raw := range invalid {
		_, err := NormalizeHandle(raw)
		require.Error(t, err, raw)
		require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
	}
}

func TestNote(t *testing.T) {
	require.Equal(t, "TROLLM-5000", Note("trollmaster", 5000))
	require.Equal(t, "BOB-100", Note("bob", 100))
	require.Equal(t, "ÉLODIE-10", Note("élodie_x", 10))
}

func TestCreateRejectsInvalidHandleWithoutWrites(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{UserID: "user-1", Coins: 100, AmountCents: 100, PayerHandle: "has space"})
	require.Error(t, err)

	count, err := svc.orders.Count(ctx, &ManualOrder{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestCreateConvertsUSD(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Create(context.Background(), CreateRequest{
		UserID:      "user-1",
		Username:    "jane",
		Coins:       1000,
		AmountUSD:   decimal.RequireFromString("9.995"),
		PayerHandle: "$jane",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), res.Instructions.AmountCents)
	require.Equal(t, "10.00", res.Instructions.AmountUSD)
}

func TestCreateKeepsNormalisedHandleInMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{
		UserID:      "user-1",
		Username:    "jane",
		Coins:       100,
		AmountCents: 100,
		PayerHandle: "$jane",
		Metadata:    map[string]any{"payer_handle": "$someone else", "username": "mallory", "email": "jane@example.com"},
	})
	require.NoError(t, err)

	stored, err := svc.orders.FindOne(ctx, &ManualOrder{ID: res.OrderID})
	require.NoError(t, err)

	var md map[string]any
	require.NoError(t, json.Unmarshal(stored.Metadata, &md))
	require.Equal(t, "jane", md["payer_handle"])
	require.Equal(t, "jane", md["username"])
	require.Equal(t, "jane@example.com", md["email"])
}

func TestCreateLeavesNoCoinOrderWhenInsertFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.db.Migrator().DropTable(&ManualOrder{}))

	_, err := svc.Create(ctx, CreateRequest{UserID: "user-1", Coins: 100, AmountCents: 100, PayerHandle: "payer"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))

	var count int64
	require.NoError(t, svc.db.Model(&ledger.CoinOrder{}).Where("user_id = ?", "user-1").Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestManualOrderEndToEnd(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{
		UserID:      "user-1",
		Username:    "trollmaster",
		PackageID:   "pkg-5000",
		Coins:       5000,
		AmountCents: 5000,
		PayerHandle: "$payer_1",
	})
	require.NoError(t, err)
	require.True(t, created.Success)
	require.Equal(t, StatusPending, created.Status)
	require.Equal(t, ProviderCashApp, created.Instructions.Provider)
	require.Equal(t, "$settlement", created.Instructions.ReceiverHandle)
	require.Equal(t, "payer_1", created.Instructions.PayerHandle)
	require.Equal(t, "TROLLM-5000", created.Instructions.Note)
	require.Equal(t, "50.00", created.Instructions.AmountUSD)

	balance, err := led.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.Balance)

	admin := Actor{UserID: "admin-1", Privileged: true}

	first, err := svc.Approve(ctx, ApproveRequest{OrderID: created.OrderID, ExternalTxID: "CASH-1"}, admin)
	require.NoError(t, err)
	require.True(t, first.Success)
	require.False(t, first.AlreadyApproved)
	require.Equal(t, int64(5000), first.NewBalance)

	order, err := svc.Status(ctx, created.OrderID, Actor{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status)
	require.Equal(t, "admin-1", order.ApprovedBy)

	second, err := svc.Approve(ctx, ApproveRequest{OrderID: created.OrderID, ExternalTxID: "CASH-1"}, admin)
	require.NoError(t, err)
	require.True(t, second.Success)
	require.True(t, second.AlreadyApproved)
	require.Equal(t, int64(5000), second.NewBalance)

	balance, err = led.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(5000), balance.Balance)
}

func TestApproveValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	admin := Actor{UserID: "admin-1", Privileged: true}

	created, err := svc.Create(ctx, CreateRequest{UserID: "user-1", Coins: 100, AmountCents: 100, PayerHandle: "payer"})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, ApproveRequest{OrderID: created.OrderID}, Actor{UserID: "user-1"})
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	_, err = svc.Approve(ctx, ApproveRequest{OrderID: "not-a-uuid"}, admin)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Approve(ctx, ApproveRequest{OrderID: created.OrderID, ExternalTxID: strings.Repeat("x", 129)}, admin)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Approve(ctx, ApproveRequest{OrderID: "00000000-0000-0000-0000-000000000000"}, admin)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestApproveRequiresCoinOrderLink(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	order := &ManualOrder{
		ID:          "6f1c2a8e-7d3b-4c55-9a0e-2b8f1d4e6c71",
		UserID:      "user-1",
		Coins:       100,
		AmountCents: 100,
		Status:      StatusPending,
	}
	require.NoError(t, svc.orders.Create(ctx, order))

	_, err := svc.Approve(ctx, ApproveRequest{OrderID: order.ID}, Actor{UserID: "admin-1", Privileged: true})
	require.Error(t, err)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
	require.Contains(t, err.Error(), "manual_order_missing_coin_order")
}

func TestStatusHiddenFromOtherUsers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{UserID: "user-1", Coins: 100, AmountCents: 100, PayerHandle: "payer"})
	require.NoError(t, err)

	_, err = svc.Status(ctx, created.OrderID, Actor{UserID: "user-2"})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	order, err := svc.Status(ctx, created.OrderID, Actor{UserID: "secretary-1", Privileged: true})
	require.NoError(t, err)
	require.Equal(t, "user-1", order.UserID)
}

func TestHandlerApproveWithRoleAndCapability(t *testing.T) {
	svc, _ := newTestService(t)
	verifier := security.NewTokenVerifier("secret", "")
	capabilities := security.NewCapabilities("capability-secret", time.Minute, nil)
	authorizer, err := accesscontrol.NewDefault()
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(HandlerParams{
		Engine:   r,
		Verifier: verifier,
		Limiter:  middleware.NewIPRateLimiter(100, 100),
		Gate:     middleware.Gate{Authorizer: authorizer, Capabilities: capabilities},
		Service:  svc,
	})

	sign := func(p security.Principal) string {
		token, err := verifier.Sign(p, time.Minute)
		require.NoError(t, err)
		return token
	}
	do := func(token, capability, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/manual-orders", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		if capability != "" {
			req.Header.Set(middleware.CapabilityHeader, capability)
		}
		r.ServeHTTP(w, req)
		return w
	}

	user := sign(security.Principal{UserID: "user-1", Username: "jane"})
	w := do(user, "", `{"action":"create","coins":5000,"amount_usd":"50.00","cashapp_tag":"$payer"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	orders, err := svc.orders.Find(context.Background(), &ManualOrder{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	approve := `{"action":"approve","order_id":"` + orders[0].ID + `"}`

	w = do(user, "", approve)
	require.Equal(t, http.StatusForbidden, w.Code)

	capability, _, err := capabilities.Issue("ops-bot", []string{security.ScopeManualOrderApprove}, time.Minute)
	require.NoError(t, err)
	w = do(user, capability, approve)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"newBalance":5000`)

	secretary := sign(security.Principal{UserID: "sec-1", Role: security.RoleSecretary})
	w = do(secretary, "", approve)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"alreadyApproved":true`)

	w = do(user, "", `{"action":"refund"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
