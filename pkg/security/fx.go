package security

import (
	"coin-settlement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("security",
	fx.Provide(
		ProvideTokenVerifier,
		NewRedisRevocations,
		ProvideCapabilities,
	),
)

func ProvideTokenVerifier(cfg *config.Config) *TokenVerifier {
	if cfg.Auth.JWTSecret == "" {
		zap.L().Warn("AUTH.JWT_SECRET is empty, every bearer token will be rejected")
	}
	return NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

type capabilityParams struct {
	fx.In
	Config *config.Config
	Store  RevocationStore
}

func ProvideCapabilities(p capabilityParams) *Capabilities {
	if p.Config.Capability.Secret == "" {
		zap.L().Warn("CAPABILITY.SECRET is empty, capability tokens are disabled")
	}
	return NewCapabilities(p.Config.Capability.Secret, p.Config.Capability.TTL, p.Store)
}
