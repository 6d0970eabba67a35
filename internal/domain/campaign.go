package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
	CampaignPaused    CampaignStatus = "PAUSED"
)

// Campaign is a fundraising effort with a target amount in a base currency.
// AmountRaised, PercentageFunded and RemainingAmount are mutated only as a
// side effect of a donation reaching COMPLETED, inside the same transaction.
type Campaign struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Summary            string          `json:"summary,omitempty"`
	Category           string          `json:"category,omitempty"`
	TargetAmount       decimal.Decimal `json:"target_amount"`
	Currency           string          `json:"currency"`
	AmountRaised       decimal.Decimal `json:"amount_raised"`
	AmountSpent        decimal.Decimal `json:"amount_spent"`
	PercentageFunded   float64         `json:"percentage_funded"`
	RemainingAmount    decimal.Decimal `json:"remaining_amount"`
	Status             CampaignStatus  `json:"status"`
	ReceivingDonations bool            `json:"receiving_donations"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// AcceptsDonations reports whether a new donation may target this campaign.
func (c *Campaign) AcceptsDonations() bool {
	return c.Status == CampaignActive && c.ReceivingDonations
}

// Credit adds a completed donation's converted amount to the raised total
// and refreshes the derived fields.
func (c *Campaign) Credit(amount decimal.Decimal) {
	c.AmountRaised = c.AmountRaised.Add(amount)
	c.UpdateProgress()
}

// UpdateProgress recomputes PercentageFunded and RemainingAmount from the
// current totals and auto-completes the campaign the instant the raised
// amount reaches the target.
func (c *Campaign) UpdateProgress() {
	if c.TargetAmount.IsPositive() {
		c.PercentageFunded, _ = c.AmountRaised.Div(c.TargetAmount).Mul(decimal.NewFromInt(100)).Float64()
		remaining := c.TargetAmount.Sub(c.AmountRaised)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		c.RemainingAmount = remaining
	} else {
		c.PercentageFunded = 0
		c.RemainingAmount = decimal.Zero
	}

	if c.Status == CampaignActive && c.TargetAmount.IsPositive() &&
		c.AmountRaised.GreaterThanOrEqual(c.TargetAmount) {
		c.Status = CampaignCompleted
	}
}
