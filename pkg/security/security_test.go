package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRevocations struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func (m *memoryRevocations) Revoke(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = map[string]time.Time{}
	}
	m.ids[id] = until
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok, nil
}

func TestTokenVerifierRoundTrip(t *testing.T) {
	v := NewTokenVerifier("test-secret", "identity")

	raw, err := v.Sign(Principal{UserID: "user-1", Role: RoleAdmin, Username: "alice"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", p.UserID)
	require.Equal(t, RoleAdmin, p.Role)
	require.Equal(t, "alice", p.DisplayName())
}

func TestTokenVerifierRejects(t *testing.T) {
	v := NewTokenVerifier("test-secret", "identity")

	_, err := v.Verify("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenVerifier("other-secret", "identity")
	raw, err := other.Sign(Principal{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Sign(Principal{UserID: "user-1"}, -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDefaultRole(t *testing.T) {
	v := NewTokenVerifier("test-secret", "")
	raw, err := v.Sign(Principal{UserID: "user-2", Email: "bob@example.com"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, RoleUser, p.Role)
	require.Equal(t, "bob", p.DisplayName())
}

func TestCapabilityLifecycle(t *testing.T) {
	store := &memoryRevocations{}
	caps := NewCapabilities("cap-secret", 10*time.Minute, store)
	ctx := context.Background()

	raw, issued, err := caps.Issue("ops-bot", []string{ScopeManualOrderApprove}, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)

	got, err := caps.Verify(ctx, raw, ScopeManualOrderApprove)
	require.NoError(t, err)
	require.Equal(t, "ops-bot", got.Subject)
	require.Equal(t, issued.ID, got.ID)

	_, err = caps.Verify(ctx, raw, ScopePayoutRun)
	require.ErrorIs(t, err, ErrCapabilityScope)

	require.NoError(t, caps.Revoke(ctx, issued.ID))
	_, err = caps.Verify(ctx, raw, ScopeManualOrderApprove)
	require.ErrorIs(t, err, ErrCapabilityRevoked)
}

func TestCapabilityExpires(t *testing.T) {
	caps := NewCapabilities("cap-secret", time.Minute, nil)
	raw, _, err := caps.Issue("ops-bot", []string{ScopeManualOrderApprove}, time.Minute)
	require.NoError(t, err)

	caps.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = caps.Verify(context.Background(), raw, ScopeManualOrderApprove)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestCapabilityRejectsUserToken(t *testing.T) {
	userToken, err := NewTokenVerifier("shared", "").Sign(Principal{UserID: "user-1", Role: RoleAdmin}, time.Minute)
	require.NoError(t, err)

	caps := NewCapabilities("shared", time.Minute, nil)
	_, err = caps.Verify(context.Background(), userToken, ScopeManualOrderApprove)
	require.Error(t, err)
}
