package paypal

import (
	"coin-settlement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("paypal.gateway",
	fx.Provide(ProvideGateway),
)

func ProvideGateway(cfg *config.Config) Gateway {
	baseURL := cfg.PayPal.BaseURL
	if baseURL == "" {
		baseURL = BaseURL(cfg.PayPal.Mode)
	}

	zap.L().Info("paypal gateway configured", zap.String("mode", cfg.PayPal.Mode), zap.String("base_url", baseURL))

	return NewClient(Options{
		BaseURL:      baseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		Timeout:      cfg.PayPal.Timeout,
	})
}
