package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/currency"
	"github.com/needafrica/donations/internal/domain"
	"github.com/needafrica/donations/internal/gateway"
	"github.com/needafrica/donations/internal/repository"
)

// Service coordinates the donation lifecycle: it starts gateway charges,
// persists PENDING donations keyed by the gateway reference, and drives
// every completion path (webhook or redirect confirmation) through one
// guarded transition.
type Service struct {
	db          *sql.DB
	donations   *repository.DonationRepo
	campaigns   *repository.CampaignRepo
	rates       *repository.RateRepo
	gateways    map[domain.GatewayName]gateway.Gateway
	frontendURL string
}

func NewService(
	db *sql.DB,
	donations *repository.DonationRepo,
	campaigns *repository.CampaignRepo,
	rates *repository.RateRepo,
	gateways []gateway.Gateway,
	frontendURL string,
) *Service {
	byName := make(map[domain.GatewayName]gateway.Gateway, len(gateways))
	for _, gw := range gateways {
		byName[domain.GatewayName(gw.Name())] = gw
	}
	return &Service{
		db:          db,
		donations:   donations,
		campaigns:   campaigns,
		rates:       rates,
		gateways:    byName,
		frontendURL: frontendURL,
	}
}

type CreateDonationRequest struct {
	CampaignID string
	DonorEmail string
	DonorName  string
	Amount     decimal.Decimal
	Currency   string
	Frequency  domain.Frequency
	Gateway    domain.GatewayName
}

type CreateDonationResult struct {
	Donation    *domain.Donation `json:"donation"`
	CheckoutURL string           `json:"checkout_url"`
}

// CreateDonation validates the request, starts the gateway transaction and
// persists a PENDING donation keyed by the gateway's reference. Nothing is
// persisted when the gateway call fails, and no gateway call is made when
// a cross-currency donation has no active exchange rate to reconcile with
// later.
func (s *Service) CreateDonation(ctx context.Context, req CreateDonationRequest) (*CreateDonationResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	var campaign *domain.Campaign
	if req.CampaignID != "" {
		var err error
		campaign, err = s.campaigns.GetByID(req.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("load campaign: %w", err)
		}
		if campaign == nil {
			return nil, &domain.NotFoundError{Entity: "campaign", Key: req.CampaignID}
		}
		if !campaign.AcceptsDonations() {
			return nil, &domain.ValidationError{
				Msg: fmt.Sprintf("campaign %q is not accepting donations", campaign.Title),
			}
		}

		if campaign.Currency != req.Currency {
			rate, err := s.rates.GetActive()
			if err != nil {
				return nil, fmt.Errorf("load active rate: %w", err)
			}
			if rate == nil {
				return nil, &domain.ConversionUnavailableError{From: req.Currency, To: campaign.Currency}
			}
		}
	}

	gw := s.gateways[req.Gateway]
	charge := gateway.ChargeRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		DonorEmail:  req.DonorEmail,
		Description: fmt.Sprintf("donation: amount:%s %s", req.Amount.StringFixed(2), req.Currency),
		ReturnURL:   s.frontendURL + "/thankyou",
		CancelURL:   s.frontendURL,
	}

	var start *gateway.StartResult
	var err error
	if req.Frequency == domain.FrequencyRecurring {
		start, err = gw.StartRecurring(ctx, charge)
	} else {
		start, err = gw.StartCharge(ctx, charge)
	}
	if err != nil {
		return nil, err
	}

	donation := &domain.Donation{
		ID:         uuid.NewString(),
		CampaignID: req.CampaignID,
		DonorEmail: req.DonorEmail,
		DonorName:  req.DonorName,
		Amount:     req.Amount.Round(2),
		Currency:   req.Currency,
		Frequency:  req.Frequency,
		Gateway:    req.Gateway,
		Reference:  start.Reference,
		PlanCode:   start.PlanCode,
		Status:     domain.DonationPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.donations.Insert(donation); err != nil {
		return nil, fmt.Errorf("persist donation: %w", err)
	}

	log.Printf("[orchestrator] created %s donation %s (%s %s) via %s, reference=%s",
		donation.Frequency, donation.ID, donation.Amount, donation.Currency,
		donation.Gateway, donation.Reference)

	return &CreateDonationResult{Donation: donation, CheckoutURL: start.CheckoutURL}, nil
}

func (s *Service) validate(req *CreateDonationRequest) error {
	if req.DonorEmail == "" || !strings.Contains(req.DonorEmail, "@") {
		return &domain.ValidationError{Msg: "a valid donor email is required"}
	}
	if req.DonorName == "" {
		req.DonorName = "Anonymous"
	}
	if !req.Amount.IsPositive() {
		return &domain.ValidationError{Msg: "amount must be greater than zero"}
	}
	if !domain.SupportedCurrency(req.Currency) {
		return &domain.ValidationError{Msg: "currency must be USD or NGN"}
	}
	if req.Frequency == "" {
		req.Frequency = domain.FrequencyOneTime
	}
	if req.Frequency != domain.FrequencyOneTime && req.Frequency != domain.FrequencyRecurring {
		return &domain.ValidationError{Msg: "frequency must be ONE_TIME or RECURRING"}
	}
	if _, ok := s.gateways[req.Gateway]; !ok {
		return &domain.ValidationError{Msg: fmt.Sprintf("unknown gateway %q", req.Gateway)}
	}
	return nil
}

// WebhookOutcome summarises what an inbound webhook delivery did.
type WebhookOutcome struct {
	Status     string `json:"status"`
	Reference  string `json:"reference,omitempty"`
	DonationID string `json:"donation_id,omitempty"`
}

const (
	OutcomeCompleted        = "completed"
	OutcomeAlreadyProcessed = "already processed"
	OutcomeFailureRecorded  = "failure recorded"
	OutcomeIgnored          = "ignored"
)

// HandleWebhook authenticates and applies one inbound gateway notification.
// Verification and envelope parsing happen before any lock is taken.
// Redelivered events are absorbed by the AlreadyProcessed check inside the
// completion transition, not by an external dedup store.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, body []byte, header http.Header) (*WebhookOutcome, error) {
	gw, ok := s.gateways[domain.GatewayName(strings.ToUpper(gatewayName))]
	if !ok {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("unknown gateway %q", gatewayName)}
	}

	if err := gw.VerifyWebhook(ctx, body, header); err != nil {
		return nil, err
	}

	event, err := gw.ParseWebhook(body)
	if err != nil {
		return nil, &domain.ValidationError{Msg: err.Error()}
	}

	switch event.Kind {
	case gateway.EventChargeSuccess:
		return s.applySuccessEvent(event)

	case gateway.EventChargeFailed:
		n, err := s.donations.MarkFailed(event.Reference, event.FailureReason)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			log.Printf("[orchestrator] failure event for %s ignored (no pending donation)", event.Reference)
			return &WebhookOutcome{Status: OutcomeIgnored, Reference: event.Reference}, nil
		}
		log.Printf("[orchestrator] donation %s marked FAILED: %s", event.Reference, event.FailureReason)
		return &WebhookOutcome{Status: OutcomeFailureRecorded, Reference: event.Reference}, nil

	default:
		log.Printf("[orchestrator] ignoring %s webhook event", gw.Name())
		return &WebhookOutcome{Status: OutcomeIgnored}, nil
	}
}

func (s *Service) applySuccessEvent(event *gateway.WebhookEvent) (*WebhookOutcome, error) {
	donation, err := s.complete(event.Reference, event.AgreementID)
	if err == nil {
		return &WebhookOutcome{
			Status:     OutcomeCompleted,
			Reference:  event.Reference,
			DonationID: donation.ID,
		}, nil
	}

	var alreadyErr *domain.AlreadyProcessedError
	if errors.As(err, &alreadyErr) {
		return &WebhookOutcome{Status: OutcomeAlreadyProcessed, Reference: event.Reference}, nil
	}

	// An unknown reference on an event that names a recurring series is a
	// renewal installment: the gateway charged the agreement again and the
	// new transaction has no donation row yet.
	var notFoundErr *domain.NotFoundError
	if errors.As(err, &notFoundErr) && (event.AgreementID != "" || event.PlanCode != "") {
		return s.applyRenewal(event)
	}

	return nil, err
}

// ExecuteRedirect confirms a donation through the browser-redirect return
// flow: the gateway is asked to execute the payment (or agreement) and, on
// success, the donation runs through the same completion transition as a
// webhook. The agreement id the gateway reports for a recurring series is
// stored on the donation.
func (s *Service) ExecuteRedirect(ctx context.Context, paymentID, payerID, token string) (*domain.Donation, error) {
	var reference string
	switch {
	case paymentID != "" && payerID != "":
		reference = paymentID
	case token != "":
		reference = token
	default:
		return nil, &domain.ValidationError{Msg: "either payment_id and payer_id, or token, is required"}
	}

	donation, err := s.donations.GetByReference(reference)
	if err != nil {
		return nil, fmt.Errorf("load donation: %w", err)
	}
	if donation == nil {
		return nil, &domain.NotFoundError{Entity: "donation", Key: reference}
	}
	if donation.Status == domain.DonationCompleted {
		return nil, &domain.AlreadyProcessedError{Reference: reference}
	}

	gw, ok := s.gateways[donation.Gateway]
	if !ok {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("gateway %q not configured", donation.Gateway)}
	}

	// The execute call happens before the completion lock is taken.
	confirm, err := gw.Confirm(ctx, gateway.ConfirmRequest{
		PaymentID: paymentID,
		PayerID:   payerID,
		Token:     token,
	})
	if err != nil {
		return nil, err
	}

	return s.complete(reference, confirm.AgreementID)
}

// CancelRedirect handles the gateway's cancel-return: the donor backed out
// of the checkout, so a still-PENDING donation moves to CANCELLED.
func (s *Service) CancelRedirect(reference string) error {
	n, err := s.donations.MarkCancelled(reference)
	if err != nil {
		return err
	}
	if n == 0 {
		donation, err := s.donations.GetByReference(reference)
		if err != nil {
			return err
		}
		if donation == nil {
			return &domain.NotFoundError{Entity: "donation", Key: reference}
		}
		// Terminal already; nothing to do.
		return nil
	}
	log.Printf("[orchestrator] donation %s cancelled by donor", reference)
	return nil
}

// complete is the single entry point for every PENDING -> COMPLETED
// transition. Currency conversion uses the rate active right now; the
// conditional UPDATE inside the transaction decides the race when two
// deliveries arrive at once, and the campaign credit commits or rolls back
// together with the donation.
func (s *Service) complete(reference, agreementID string) (*domain.Donation, error) {
	donation, err := s.donations.GetByReference(reference)
	if err != nil {
		return nil, fmt.Errorf("load donation: %w", err)
	}
	if donation == nil {
		return nil, &domain.NotFoundError{Entity: "donation", Key: reference}
	}
	if donation.Status == domain.DonationCompleted {
		return nil, &domain.AlreadyProcessedError{Reference: reference}
	}

	campaign, converted, rateUsed, err := s.convertForCampaign(donation.Amount, donation.Currency, donation.CampaignID)
	if err != nil {
		return nil, err
	}

	completedAt := time.Now().UTC()
	err = repository.RunInTx(s.db, func(tx *sql.Tx) error {
		n, err := s.donations.MarkCompleted(tx, donation.ID, completedAt, converted, rateUsed, agreementID)
		if err != nil {
			return err
		}
		if n == 0 {
			// Someone else moved the donation out of PENDING between our
			// read and this write.
			status, err := s.donations.StatusTx(tx, donation.ID)
			if err != nil {
				return err
			}
			if status == domain.DonationCompleted {
				return &domain.AlreadyProcessedError{Reference: reference}
			}
			return &domain.ValidationError{
				Msg: fmt.Sprintf("donation %s is %s and cannot complete", reference, status),
			}
		}

		if campaign != nil {
			current, err := s.campaigns.GetTx(tx, campaign.ID)
			if err != nil {
				return fmt.Errorf("load campaign: %w", err)
			}
			current.Credit(converted)
			if err := s.campaigns.SaveProgressTx(tx, current); err != nil {
				return err
			}
			campaign = current
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	donation.Status = domain.DonationCompleted
	donation.CompletedAt = &completedAt
	donation.ConvertedAmount = decimal.NullDecimal{Decimal: converted, Valid: true}
	donation.ExchangeRateUsed = decimal.NullDecimal{Decimal: rateUsed, Valid: true}
	if agreementID != "" {
		donation.AgreementID = agreementID
	}

	if campaign != nil {
		log.Printf("[orchestrator] donation %s completed: %s %s credited to campaign %s (%.1f%% funded)",
			donation.ID, converted, campaign.Currency, campaign.ID, campaign.PercentageFunded)
	} else {
		log.Printf("[orchestrator] donation %s completed: %s %s (no campaign)",
			donation.ID, converted, donation.Currency)
	}

	return donation, nil
}

// applyRenewal records one installment of a recurring series as a fresh
// COMPLETED donation referencing the original, converted at the rate
// active at renewal time rather than the rate captured on the original.
func (s *Service) applyRenewal(event *gateway.WebhookEvent) (*WebhookOutcome, error) {
	if event.Reference == "" {
		return nil, &domain.ValidationError{Msg: "renewal event carries no transaction reference"}
	}

	parent, err := s.findRenewalParent(event)
	if err != nil {
		return nil, err
	}

	// Gateways redeliver; the reference may have been recorded by an
	// earlier delivery of this same sale.
	existing, err := s.donations.GetByReference(event.Reference)
	if err != nil {
		return nil, fmt.Errorf("load donation: %w", err)
	}
	if existing != nil {
		return &WebhookOutcome{Status: OutcomeAlreadyProcessed, Reference: event.Reference}, nil
	}

	amount := event.Amount
	if amount.IsZero() {
		amount = parent.Amount
	}
	curr := event.Currency
	if curr == "" {
		curr = parent.Currency
	}

	campaign, converted, rateUsed, err := s.convertForCampaign(amount, curr, parent.CampaignID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	renewal := &domain.Donation{
		ID:               uuid.NewString(),
		CampaignID:       parent.CampaignID,
		DonorEmail:       parent.DonorEmail,
		DonorName:        parent.DonorName,
		Amount:           amount.Round(2),
		Currency:         curr,
		Frequency:        domain.FrequencyRecurring,
		Gateway:          parent.Gateway,
		Reference:        event.Reference,
		PlanCode:         parent.PlanCode,
		ParentDonationID: parent.ID,
		Status:           domain.DonationCompleted,
		ConvertedAmount:  decimal.NullDecimal{Decimal: converted, Valid: true},
		ExchangeRateUsed: decimal.NullDecimal{Decimal: rateUsed, Valid: true},
		CreatedAt:        now,
		CompletedAt:      &now,
	}

	err = repository.RunInTx(s.db, func(tx *sql.Tx) error {
		if err := s.donations.InsertTx(tx, renewal); err != nil {
			return err
		}
		if campaign != nil {
			current, err := s.campaigns.GetTx(tx, campaign.ID)
			if err != nil {
				return fmt.Errorf("load campaign: %w", err)
			}
			current.Credit(converted)
			return s.campaigns.SaveProgressTx(tx, current)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent delivery of the same sale won the insert.
			return &WebhookOutcome{Status: OutcomeAlreadyProcessed, Reference: event.Reference}, nil
		}
		return nil, err
	}

	log.Printf("[orchestrator] renewal %s recorded for parent %s (%s %s)",
		renewal.ID, parent.ID, renewal.Amount, renewal.Currency)

	return &WebhookOutcome{
		Status:     OutcomeCompleted,
		Reference:  event.Reference,
		DonationID: renewal.ID,
	}, nil
}

func (s *Service) findRenewalParent(event *gateway.WebhookEvent) (*domain.Donation, error) {
	if event.AgreementID != "" {
		parent, err := s.donations.GetByAgreementID(event.AgreementID)
		if err != nil {
			return nil, fmt.Errorf("load parent by agreement: %w", err)
		}
		if parent != nil {
			return parent, nil
		}
	}
	if event.PlanCode != "" {
		parent, err := s.donations.GetFirstByPlanCode(event.PlanCode)
		if err != nil {
			return nil, fmt.Errorf("load parent by plan: %w", err)
		}
		if parent != nil {
			return parent, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "recurring donation", Key: event.AgreementID + event.PlanCode}
}

// convertForCampaign resolves the conversion for a donation amount against
// its campaign's base currency. A donation without a campaign keeps its
// own currency with the identity rate.
func (s *Service) convertForCampaign(amount decimal.Decimal, curr, campaignID string) (*domain.Campaign, decimal.Decimal, decimal.Decimal, error) {
	if campaignID == "" {
		return nil, amount.Round(2), currency.IdentityRate, nil
	}

	campaign, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("load campaign: %w", err)
	}
	if campaign == nil {
		return nil, decimal.Zero, decimal.Zero, &domain.NotFoundError{Entity: "campaign", Key: campaignID}
	}

	var rate *domain.ExchangeRate
	if campaign.Currency != curr {
		rate, err = s.rates.GetActive()
		if err != nil {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("load active rate: %w", err)
		}
	}

	converted, rateUsed, err := currency.Convert(amount, curr, campaign.Currency, rate)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}
	return campaign, converted, rateUsed, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
