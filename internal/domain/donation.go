package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DonationStatus string

const (
	DonationPending   DonationStatus = "PENDING"
	DonationCompleted DonationStatus = "COMPLETED"
	DonationFailed    DonationStatus = "FAILED"
	DonationCancelled DonationStatus = "CANCELLED"
)

type Frequency string

const (
	FrequencyOneTime   Frequency = "ONE_TIME"
	FrequencyRecurring Frequency = "RECURRING"
)

type GatewayName string

const (
	GatewayPaystack GatewayName = "PAYSTACK"
	GatewayPaypal   GatewayName = "PAYPAL"
)

const (
	CurrencyUSD = "USD"
	CurrencyNGN = "NGN"
)

// SupportedCurrency reports whether the code is one of the two corridors
// the platform accepts.
func SupportedCurrency(code string) bool {
	return code == CurrencyUSD || code == CurrencyNGN
}

// Donation is one donor payment: a single gift, the first charge of a
// recurring series, or one renewal installment of that series.
//
// Reference is the gateway-assigned transaction identifier and is unique
// across all donations. ConvertedAmount and ExchangeRateUsed are written
// exactly once, when the donation completes, and are never recomputed even
// if the active exchange rate later changes.
type Donation struct {
	ID               string              `json:"id"`
	CampaignID       string              `json:"campaign_id,omitempty"`
	DonorEmail       string              `json:"donor_email"`
	DonorName        string              `json:"donor_name"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	Frequency        Frequency           `json:"frequency"`
	Gateway          GatewayName         `json:"gateway"`
	Reference        string              `json:"reference"`
	PlanCode         string              `json:"plan_code,omitempty"`
	AgreementID      string              `json:"agreement_id,omitempty"`
	ParentDonationID string              `json:"parent_donation_id,omitempty"`
	Status           DonationStatus      `json:"status"`
	ConvertedAmount  decimal.NullDecimal `json:"converted_amount"`
	ExchangeRateUsed decimal.NullDecimal `json:"exchange_rate_used"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}
