package security

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"coin-settlement/pkg/rediskey"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Capability scopes.
const (
	ScopeManualOrderApprove = "manual_orders:approve"
	ScopeManualOrderReadAny = "manual_orders:read_any"
	ScopePayoutRun          = "payouts:run"
)

const capabilityAudience = "capability"

var (
	ErrCapabilityRevoked = errors.New("security: capability revoked")
	ErrCapabilityScope   = errors.New("security: capability scope not granted")
)

// Capability is a verified, short-lived grant.
type Capability struct {
	ID        string
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

type capabilityClaims struct {
	Scopes []string `json:"scp"`
}

type RevocationStore interface {
	Revoke(ctx context.Context, id string, until time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

type redisRevocations struct {
	rdb *redis.Client
}

func NewRedisRevocations(rdb *redis.Client) RevocationStore {
	return &redisRevocations{rdb: rdb}
}

// Revoke keeps the marker until the token would have expired anyway.
func (r *redisRevocations) Revoke(ctx context.Context, id string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, rediskey.BuildCapabilityRevokedKey(id), "1", ttl).Err()
}

func (r *redisRevocations) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, rediskey.BuildCapabilityRevokedKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Capabilities issues and checks scoped tokens that stand in for a privileged
// role on a narrow set of operations.
type Capabilities struct {
	key        []byte
	defaultTTL time.Duration
	store      RevocationStore
	now        func() time.Time
}

func NewCapabilities(secret string, defaultTTL time.Duration, store RevocationStore) *Capabilities {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Capabilities{key: []byte(secret), defaultTTL: defaultTTL, store: store, now: time.Now}
}

func (c *Capabilities) Issue(subject string, scopes []string, ttl time.Duration) (string, *Capability, error) {
	if len(c.key) == 0 {
		return "", nil, fmt.Errorf("%w: capability key not configured", ErrInvalidToken)
	}
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}

	sig, err := newSigner(c.key)
	if err != nil {
		return "", nil, err
	}

	now := c.now()
	capa := &Capability{
		ID:        uuid.NewString(),
		Subject:   subject,
		Scopes:    scopes,
		ExpiresAt: now.Add(ttl),
	}
	std := jwt.Claims{
		ID:       capa.ID,
		Subject:  subject,
		Audience: jwt.Audience{capabilityAudience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(capa.ExpiresAt),
	}

	raw, err := jwt.Signed(sig).Claims(std).Claims(capabilityClaims{Scopes: scopes}).Serialize()
	if err != nil {
		return "", nil, err
	}
	return raw, capa, nil
}

// Verify checks signature, expiry, revocation and that scope was granted.
func (c *Capabilities) Verify(ctx context.Context, raw, scope string) (*Capability, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}
	if len(c.key) == 0 {
		return nil, fmt.Errorf("%w: capability key not configured", ErrInvalidToken)
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var std jwt.Claims
	var custom capabilityClaims
	if err := tok.Claims(c.key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	expected := jwt.Expected{AnyAudience: jwt.Audience{capabilityAudience}, Time: c.now()}
	if err := std.ValidateWithLeeway(expected, leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.ID == "" || std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing jti or exp", ErrInvalidToken)
	}

	if !slices.Contains(custom.Scopes, scope) {
		return nil, ErrCapabilityScope
	}

	if c.store != nil {
		revoked, err := c.store.IsRevoked(ctx, std.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrCapabilityRevoked
		}
	}

	return &Capability{
		ID:        std.ID,
		Subject:   std.Subject,
		Scopes:    custom.Scopes,
		ExpiresAt: std.Expiry.Time(),
	}, nil
}

func (c *Capabilities) Revoke(ctx context.Context, id string) error {
	if c.store == nil {
		return errors.New("security: no revocation store")
	}
	return c.store.Revoke(ctx, id, c.now().Add(c.defaultTTL+leeway))
}
