package payout

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SettingCoinToUSDRate       = "coin_to_usd_rate"
	SettingPayPalFeePercentage = "paypal_fee_percentage"
	SettingPayPalFixedFee      = "paypal_fixed_fee"
	SettingMaxDailyPayouts     = "max_daily_payouts"
)

type Settings struct {
	CoinToUSDRate       decimal.Decimal
	PayPalFeePercentage decimal.Decimal
	PayPalFixedFee      decimal.Decimal
	MaxDailyPayouts     int
}

func DefaultSettings() Settings {
	return Settings{
		CoinToUSDRate:       decimal.RequireFromString("0.01"),
		PayPalFeePercentage: decimal.RequireFromString("2.9"),
		PayPalFixedFee:      decimal.RequireFromString("0.30"),
		MaxDailyPayouts:     40,
	}
}

// LoadSettings reads the settings table fresh. A failed read yields the
// defaults; an unparsable value falls back to that key's default.
func LoadSettings(ctx context.Context, db *gorm.DB) Settings {
	settings := DefaultSettings()

	var rows []Setting
	err := db.WithContext(ctx).
		Where("setting_key IN ?", []string{SettingCoinToUSDRate, SettingPayPalFeePercentage, SettingPayPalFixedFee, SettingMaxDailyPayouts}).
		Find(&rows).Error
	if err != nil {
		zap.L().Warn("failed to load payout settings, using defaults", zap.Error(err))
		return settings
	}

	for _, row := range rows {
		v, err := decimal.NewFromString(row.Value)
		if err != nil {
			zap.L().Warn("invalid payout setting, using default",
				zap.String("key", row.Key),
				zap.String("value", row.Value),
			)
			continue
		}

		switch row.Key {
		case SettingCoinToUSDRate:
			settings.CoinToUSDRate = v
		case SettingPayPalFeePercentage:
			settings.PayPalFeePercentage = v
		case SettingPayPalFixedFee:
			settings.PayPalFixedFee = v
		case SettingMaxDailyPayouts:
			settings.MaxDailyPayouts = int(v.IntPart())
		}
	}

	if settings.MaxDailyPayouts < 1 {
		settings.MaxDailyPayouts = 1
	}
	return settings
}
