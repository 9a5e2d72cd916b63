package capability

import (
	"context"
	"strings"
	"time"

	"coin-settlement/pkg/errutil"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/security"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var grantable = map[string]bool{
	security.ScopeManualOrderApprove: true,
	security.ScopeManualOrderReadAny: true,
	security.ScopePayoutRun:          true,
}

type Service struct {
	capabilities *security.Capabilities
}

type ServiceParams struct {
	fx.In
	Capabilities *security.Capabilities
}

func NewService(p ServiceParams) *Service {
	return &Service{capabilities: p.Capabilities}
}

type IssueRequest struct {
	IssuedBy string
	Subject  string
	Scopes   []string
	TTL      time.Duration
}

type Issued struct {
	Token     string    `json:"token"`
	ID        string    `json:"jti"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue mints a short-lived capability. The TTL is capped by the configured
// default.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if len(req.Scopes) == 0 {
		return nil, errutil.BadRequest("at least one scope is required", nil)
	}
	for _, scope := range req.Scopes {
		if !grantable[scope] {
			return nil, errutil.ValidationFailed("scopes", "unknown scope "+scope)
		}
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = req.IssuedBy
	}

	raw, c, err := s.capabilities.Issue(subject, req.Scopes, req.TTL)
	if err != nil {
		return nil, errutil.ServiceUnavailable("capability tokens are not configured", err)
	}

	zap.L().With(logger.TraceFields(ctx)...).Info("capability issued",
		zap.String("jti", c.ID),
		zap.String("subject", subject),
		zap.String("issued_by", req.IssuedBy),
		zap.Strings("scopes", c.Scopes),
		zap.Time("expires_at", c.ExpiresAt),
	)

	return &Issued{
		Token:     raw,
		ID:        c.ID,
		Subject:   c.Subject,
		Scopes:    c.Scopes,
		ExpiresAt: c.ExpiresAt,
	}, nil
}

func (s *Service) Revoke(ctx context.Context, id, revokedBy string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errutil.BadRequest("jti is required", nil)
	}
	if err := s.capabilities.Revoke(ctx, id); err != nil {
		return errutil.ServiceUnavailable("failed to revoke capability", err)
	}

	zap.L().With(logger.TraceFields(ctx)...).Info("capability revoked", zap.String("jti", id), zap.String("revoked_by", revokedBy))
	return nil
}
