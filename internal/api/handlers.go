package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
	"github.com/needafrica/donations/internal/orchestrator"
	"github.com/needafrica/donations/internal/repository"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	orch         *orchestrator.Service
	donationRepo *repository.DonationRepo
	campaignRepo *repository.CampaignRepo
	rateRepo     *repository.RateRepo
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. An
// AlreadyProcessed outcome is a success, not an error.
func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var notFoundErr *domain.NotFoundError
	var conversionErr *domain.ConversionUnavailableError
	var alreadyErr *domain.AlreadyProcessedError
	var signatureErr *domain.SignatureVerificationError
	var gatewayErr *domain.GatewayError

	switch {
	case errors.As(err, &alreadyErr):
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    orchestrator.OutcomeAlreadyProcessed,
			"reference": alreadyErr.Reference,
		})
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Msg)
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &conversionErr):
		writeError(w, http.StatusUnprocessableEntity, conversionErr.Error())
	case errors.As(err, &signatureErr):
		writeError(w, http.StatusBadRequest, signatureErr.Error())
	case errors.As(err, &gatewayErr):
		log.Printf("[api] gateway failure: %v", gatewayErr)
		writeError(w, http.StatusBadGateway, gatewayErr.Error())
	default:
		log.Printf("[api] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- Donations ---

type createDonationRequest struct {
	CampaignID string          `json:"campaign_id"`
	DonorEmail string          `json:"donor_email"`
	DonorName  string          `json:"donor_full_name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Frequency  string          `json:"frequency"`
	Gateway    string          `json:"gateway"`
}

func (h *Handlers) CreateDonation(w http.ResponseWriter, r *http.Request) {
	var req createDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.orch.CreateDonation(r.Context(), orchestrator.CreateDonationRequest{
		CampaignID: req.CampaignID,
		DonorEmail: req.DonorEmail,
		DonorName:  req.DonorName,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Frequency:  domain.Frequency(req.Frequency),
		Gateway:    domain.GatewayName(req.Gateway),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DonationFilter{
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		Frequency: q.Get("frequency"),
		Gateway:   q.Get("gateway"),
		Page:      parseIntDefault(q.Get("page"), 1),
		Limit:     parseIntDefault(q.Get("limit"), 50),
	}

	donations, total, err := h.donationRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"donations": donations,
		"total":     total,
		"page":      filter.Page,
		"limit":     filter.Limit,
	})
}

func (h *Handlers) GetDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	donation, err := h.donationRepo.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if donation == nil {
		writeError(w, http.StatusNotFound, "donation not found")
		return
	}
	writeJSON(w, http.StatusOK, donation)
}

func (h *Handlers) GetDonationMetrics(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := todayStart.AddDate(0, 0, -((int(todayStart.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	metrics, err := h.donationRepo.GetMetrics(todayStart, weekStart, monthStart)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// --- Gateway callbacks ---

func (h *Handlers) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, string(domain.GatewayPaystack))
}

func (h *Handlers) PaypalWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, string(domain.GatewayPaypal))
}

func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request, gatewayName string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	outcome, err := h.orch.HandleWebhook(r.Context(), gatewayName, body, r.Header)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handlers) ExecutePaypal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	paymentID := q.Get("payment_id")
	if paymentID == "" {
		paymentID = q.Get("paymentId")
	}
	payerID := q.Get("payer_id")
	if payerID == "" {
		payerID = q.Get("PayerID")
	}
	token := q.Get("token")

	donation, err := h.orch.ExecuteRedirect(r.Context(), paymentID, payerID, token)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "payment executed successfully",
		"donation": donation,
	})
}

func (h *Handlers) CancelPaypal(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("token")
	if reference == "" {
		reference = r.URL.Query().Get("payment_id")
	}
	if reference == "" {
		writeError(w, http.StatusBadRequest, "token or payment_id is required")
		return
	}

	if err := h.orch.CancelRedirect(reference); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Campaigns ---

type createCampaignRequest struct {
	Title              string          `json:"title"`
	Summary            string          `json:"summary"`
	Category           string          `json:"category"`
	TargetAmount       decimal.Decimal `json:"target_amount"`
	Currency           string          `json:"currency"`
	Status             string          `json:"status"`
	ReceivingDonations *bool           `json:"receiving_donations"`
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if !req.TargetAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "target_amount must be greater than zero")
		return
	}
	if !domain.SupportedCurrency(req.Currency) {
		writeError(w, http.StatusBadRequest, "currency must be USD or NGN")
		return
	}

	status := domain.CampaignStatus(req.Status)
	if status == "" {
		status = domain.CampaignDraft
	}
	receiving := true
	if req.ReceivingDonations != nil {
		receiving = *req.ReceivingDonations
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:                 uuid.NewString(),
		Title:              req.Title,
		Summary:            req.Summary,
		Category:           req.Category,
		TargetAmount:       req.TargetAmount.Round(2),
		Currency:           req.Currency,
		AmountRaised:       decimal.Zero,
		AmountSpent:        decimal.Zero,
		Status:             status,
		ReceivingDonations: receiving,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	campaign.UpdateProgress()

	if err := h.campaignRepo.Insert(campaign); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CampaignFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Status:   q.Get("status"),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}

	campaigns, total, err := h.campaignRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaigns,
		"total":     total,
		"page":      filter.Page,
		"limit":     filter.Limit,
	})
}

type recordSpendRequest struct {
	AmountSpent decimal.Decimal `json:"amount_spent"`
}

// RecordCampaignSpend records money paid out of a campaign toward its cause.
func (h *Handlers) RecordCampaignSpend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	campaign, err := h.campaignRepo.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	var req recordSpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AmountSpent.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount_spent cannot be negative")
		return
	}

	campaign.AmountSpent = req.AmountSpent.Round(2)
	if err := h.campaignRepo.UpdateSpent(campaign); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	campaign, err := h.campaignRepo.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// --- Exchange rate ---

type setRateRequest struct {
	UsdToNgn decimal.Decimal `json:"usd_to_ngn"`
	NgnToUsd decimal.Decimal `json:"ngn_to_usd"`
}

func (h *Handlers) SetExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.UsdToNgn.IsPositive() {
		writeError(w, http.StatusBadRequest, "usd_to_ngn must be greater than zero")
		return
	}
	if req.NgnToUsd.IsZero() {
		req.NgnToUsd = decimal.NewFromInt(1).DivRound(req.UsdToNgn, 8)
	}
	if !req.NgnToUsd.IsPositive() {
		writeError(w, http.StatusBadRequest, "ngn_to_usd must be greater than zero")
		return
	}

	rate := &domain.ExchangeRate{
		ID:          uuid.NewString(),
		UsdToNgn:    req.UsdToNgn,
		NgnToUsd:    req.NgnToUsd,
		EffectiveAt: time.Now().UTC(),
		Active:      true,
	}
	if err := h.rateRepo.SetActive(rate); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (h *Handlers) GetExchangeRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.rateRepo.GetActive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rate == nil {
		writeError(w, http.StatusNotFound, "no active exchange rate")
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

// --- Dashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	campaignStats, err := h.campaignRepo.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := todayStart.AddDate(0, 0, -((int(todayStart.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	donationMetrics, err := h.donationRepo.GetMetrics(todayStart, weekStart, monthStart)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaignStats,
		"donations": donationMetrics,
	})
}
