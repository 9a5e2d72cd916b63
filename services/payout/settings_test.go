package payout

import (
	"context"
	"testing"

	"coin-settlement/services/testutil"

	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaultsWhenEmpty(t *testing.T) {
	db := testutil.NewTestDB(t, &Setting{})

	s := LoadSettings(context.Background(), db)
	require.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsDefaultsOnReadFailure(t *testing.T) {
	db := testutil.NewTestDB(t)

	s := LoadSettings(context.Background(), db)
	require.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsOverrides(t *testing.T) {
	db := testutil.NewTestDB(t, &Setting{})
	require.NoError(t, db.Create([]Setting{
		{Key: SettingCoinToUSDRate, Value: "0.02"},
		{Key: SettingPayPalFeePercentage, Value: "not-a-number"},
		{Key: SettingPayPalFixedFee, Value: "0.25"},
		{Key: SettingMaxDailyPayouts, Value: "0"},
	}).Error)

	s := LoadSettings(context.Background(), db)
	require.Equal(t, "0.02", s.CoinToUSDRate.String())
	require.Equal(t, "2.9", s.PayPalFeePercentage.String())
	require.Equal(t, "0.25", s.PayPalFixedFee.String())
	require.Equal(t, 1, s.MaxDailyPayouts)
}
