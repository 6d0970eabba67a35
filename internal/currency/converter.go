package currency

import (
	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

// IdentityRate is recorded on a donation whose currency already matches
// the campaign currency.
var IdentityRate = decimal.New(10000, -4) // 1.0000

// Convert converts amount from one supported currency to the other using
// the given exchange rate. The result is rounded to 2 decimal places,
// half-up. The returned rate is the multiplier that was applied, so the
// conversion is reproducible after the active rate changes.
//
// A nil rate blocks the conversion with ConversionUnavailableError rather
// than letting the unconverted amount through.
func Convert(amount decimal.Decimal, from, to string, rate *domain.ExchangeRate) (decimal.Decimal, decimal.Decimal, error) {
	if !domain.SupportedCurrency(from) || !domain.SupportedCurrency(to) {
		return decimal.Zero, decimal.Zero, &domain.ValidationError{
			Msg: "unsupported currency pair: " + from + " -> " + to,
		}
	}

	if from == to {
		return amount.Round(2), IdentityRate, nil
	}

	if rate == nil {
		return decimal.Zero, decimal.Zero, &domain.ConversionUnavailableError{From: from, To: to}
	}

	var multiplier decimal.Decimal
	switch {
	case from == domain.CurrencyUSD && to == domain.CurrencyNGN:
		multiplier = rate.UsdToNgn
	case from == domain.CurrencyNGN && to == domain.CurrencyUSD:
		multiplier = rate.NgnToUsd
	}

	// decimal.Round is round-half-away-from-zero, which is half-up for the
	// non-negative amounts that reach this point.
	return amount.Mul(multiplier).Round(2), multiplier, nil
}
