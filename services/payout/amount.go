package payout

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountSource names the field a payout's currency amount was taken from.
type AmountSource int

const (
	AmountSourceNone AmountSource = iota
	AmountSourceUSDAmount
	AmountSourceUSDValue
	AmountSourceAmountUSD
	AmountSourceCashAmount
	AmountSourceCoinConversion
)

func (s AmountSource) String() string {
	switch s {
	case AmountSourceUSDAmount:
		return "usd_amount"
	case AmountSourceUSDValue:
		return "usd_value"
	case AmountSourceAmountUSD:
		return "amount_usd"
	case AmountSourceCashAmount:
		return "cash_amount"
	case AmountSourceCoinConversion:
		return "coin_conversion"
	default:
		return "none"
	}
}

func positive(d decimal.NullDecimal) (decimal.Decimal, bool) {
	if d.Valid && d.Decimal.IsPositive() {
		return d.Decimal, true
	}
	return decimal.Zero, false
}

// Coins returns the first positive coin column.
func (r *PayoutRequest) Coins() int64 {
	for _, c := range []int64{r.RequestedCoins, r.CoinsRedeemed, r.CoinsUsed, r.CoinAmount} {
		if c > 0 {
			return c
		}
	}
	return 0
}

// ResolveAmount picks the currency amount in precedence order, converting
// coins at rate when no currency column is set.
func ResolveAmount(r *PayoutRequest, rate decimal.Decimal) (decimal.Decimal, AmountSource) {
	candidates := []struct {
		value  decimal.NullDecimal
		source AmountSource
	}{
		{r.USDAmount, AmountSourceUSDAmount},
		{r.USDValue, AmountSourceUSDValue},
		{r.AmountUSD, AmountSourceAmountUSD},
		{r.CashAmount, AmountSourceCashAmount},
	}
	for _, c := range candidates {
		if v, ok := positive(c.value); ok {
			return v.Round(2), c.source
		}
	}

	if coins := r.Coins(); coins > 0 {
		v := decimal.NewFromInt(coins).Mul(rate).Round(2)
		if v.IsPositive() {
			return v, AmountSourceCoinConversion
		}
	}
	return decimal.Zero, AmountSourceNone
}

type Breakdown struct {
	Amount decimal.Decimal
	Fee    decimal.Decimal
	Net    decimal.Decimal
	Source AmountSource
}

// Compute resolves amount, fee and net for r. Stored fee and net values win
// over computed ones.
func Compute(r *PayoutRequest, s Settings) Breakdown {
	amount, source := ResolveAmount(r, s.CoinToUSDRate)

	fee, ok := positive(r.PayPalFee)
	if !ok {
		fee, ok = positive(r.ProcessingFee)
	}
	if !ok {
		fee = amount.Mul(s.PayPalFeePercentage).Div(decimal.NewFromInt(100)).Add(s.PayPalFixedFee)
	}
	fee = fee.Round(2)

	net, ok := positive(r.NetAmount)
	if !ok {
		net, ok = positive(r.NetValue)
	}
	if !ok {
		net = decimal.Max(amount.Sub(fee), decimal.Zero)
	}

	return Breakdown{Amount: amount, Fee: fee, Net: net.Round(2), Source: source}
}

// Recipient returns the payout email, preferring paypal_email.
func (r *PayoutRequest) Recipient() string {
	if v := strings.TrimSpace(r.PayPalEmail); v != "" {
		return v
	}
	return strings.TrimSpace(r.PayoutAddress)
}

func (r *PayoutRequest) PayoutCurrencyCode() string {
	for _, c := range []string{r.Currency, r.PayoutCurrency} {
		if c = strings.TrimSpace(c); c != "" {
			return strings.ToUpper(c)
		}
	}
	return "USD"
}

// MaskEmail keeps the first three characters of the local part.
func MaskEmail(v string) string {
	if v == "" {
		return ""
	}
	local, domain, ok := strings.Cut(v, "@")
	if !ok || domain == "" {
		return "***"
	}
	if r := []rune(local); len(r) > 3 {
		local = string(r[:3])
	}
	return local + "***@" + domain
}
