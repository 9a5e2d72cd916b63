package payout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func usd(v string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
}

func TestComputeFeeAndNet(t *testing.T) {
	b := Compute(&PayoutRequest{USDAmount: usd("100.00")}, DefaultSettings())

	require.Equal(t, AmountSourceUSDAmount, b.Source)
	require.Equal(t, "100.00", b.Amount.StringFixed(2))
	require.Equal(t, "3.20", b.Fee.StringFixed(2))
	require.Equal(t, "96.80", b.Net.StringFixed(2))
}

func TestResolveAmountFromCoins(t *testing.T) {
	amount, source := ResolveAmount(&PayoutRequest{RequestedCoins: 1000}, DefaultSettings().CoinToUSDRate)

	require.Equal(t, AmountSourceCoinConversion, source)
	require.Equal(t, "10.00", amount.StringFixed(2))
}

func TestResolveAmountPrecedence(t *testing.T) {
	rate := DefaultSettings().CoinToUSDRate

	cases := []struct {
		name   string
		req    PayoutRequest
		want   string
		source AmountSource
	}{
		{"usd_amount first", PayoutRequest{USDAmount: usd("5"), USDValue: usd("6"), CoinAmount: 100}, "5.00", AmountSourceUSDAmount},
		{"zero usd_amount skipped", PayoutRequest{USDAmount: usd("0"), USDValue: usd("6")}, "6.00", AmountSourceUSDValue},
		{"amount_usd", PayoutRequest{AmountUSD: usd("7.125"), CashAmount: usd("8")}, "7.13", AmountSourceAmountUSD},
		{"cash_amount", PayoutRequest{CashAmount: usd("8")}, "8.00", AmountSourceCashAmount},
		{"legacy coin column", PayoutRequest{CoinsUsed: 250}, "2.50", AmountSourceCoinConversion},
		{"nothing set", PayoutRequest{}, "0.00", AmountSourceNone},
		{"negative ignored", PayoutRequest{USDAmount: usd("-3")}, "0.00", AmountSourceNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount, source := ResolveAmount(&tc.req, rate)
			require.Equal(t, tc.want, amount.StringFixed(2))
			require.Equal(t, tc.source, source)
		})
	}
}

func TestComputeStoredFeeAndNetWin(t *testing.T) {
	b := Compute(&PayoutRequest{USDAmount: usd("50"), ProcessingFee: usd("1.00"), NetValue: usd("48.50")}, DefaultSettings())

	require.Equal(t, "1.00", b.Fee.StringFixed(2))
	require.Equal(t, "48.50", b.Net.StringFixed(2))
}

func TestComputeNetFlooredAtZero(t *testing.T) {
	b := Compute(&PayoutRequest{USDAmount: usd("0.10")}, DefaultSettings())

	require.True(t, b.Net.IsZero())
	require.Equal(t, "0.30", b.Fee.StringFixed(2))
}

func TestRecipientAndCurrency(t *testing.T) {
	r := &PayoutRequest{PayoutAddress: "alt@example.com", PayoutCurrency: "eur"}
	require.Equal(t, "alt@example.com", r.Recipient())
	require.Equal(t, "EUR", r.PayoutCurrencyCode())

	r.PayPalEmail = "main@example.com"
	r.Currency = "USD"
	require.Equal(t, "main@example.com", r.Recipient())
	require.Equal(t, "USD", r.PayoutCurrencyCode())

	require.Equal(t, "USD", (&PayoutRequest{}).PayoutCurrencyCode())
}

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "cre***@example.com", MaskEmail("creator@example.com"))
	require.Equal(t, "ab***@example.com", MaskEmail("ab@example.com"))
	require.Equal(t, "***", MaskEmail("not-an-email"))
	require.Equal(t, "", MaskEmail(""))
}
