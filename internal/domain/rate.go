package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate holds the two reciprocal rates for the USD/NGN corridor.
// At most one row is active at a time; activating a new rate deactivates
// all others in the same transaction. In-flight conversions keep whichever
// rate was active when they read it.
type ExchangeRate struct {
	ID          string          `json:"id"`
	UsdToNgn    decimal.Decimal `json:"usd_to_ngn"`
	NgnToUsd    decimal.Decimal `json:"ngn_to_usd"`
	EffectiveAt time.Time       `json:"effective_at"`
	Active      bool            `json:"active"`
}
