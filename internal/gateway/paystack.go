package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

// Paystack is the redirect-checkout gateway. Charges are started with
// transaction/initialize (amounts in minor units), recurring gifts ride on
// a monthly plan, and inbound webhooks are authenticated with an
// HMAC-SHA512 signature over the raw body.
type Paystack struct {
	secretKey string
	apiURL    string
	http      *http.Client
}

func NewPaystack(secretKey, apiURL string) *Paystack {
	return &Paystack{
		secretKey: secretKey,
		apiURL:    apiURL,
		http:      newHTTPClient(),
	}
}

func (p *Paystack) Name() string { return string(domain.GatewayPaystack) }

type paystackData struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
	PlanCode         string `json:"plan_code"`
	Status           string `json:"status"`
}

type paystackEnvelope struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Data    paystackData `json:"data"`
}

func (p *Paystack) StartCharge(ctx context.Context, req ChargeRequest) (*StartResult, error) {
	payload := map[string]any{
		"email":        req.DonorEmail,
		"amount":       minorUnits(req.Amount),
		"currency":     req.Currency,
		"callback_url": req.ReturnURL,
	}

	var env paystackEnvelope
	if err := p.post(ctx, "/transaction/initialize", payload, &env); err != nil {
		return nil, err
	}

	return &StartResult{
		CheckoutURL: env.Data.AuthorizationURL,
		Reference:   env.Data.Reference,
	}, nil
}

func (p *Paystack) StartRecurring(ctx context.Context, req ChargeRequest) (*StartResult, error) {
	planPayload := map[string]any{
		"name":     fmt.Sprintf("Monthly Donation Plan - %s %s", req.Amount.StringFixed(2), req.Currency),
		"interval": "monthly",
		"amount":   minorUnits(req.Amount),
		"currency": req.Currency,
	}

	var planEnv paystackEnvelope
	if err := p.post(ctx, "/plan", planPayload, &planEnv); err != nil {
		return nil, err
	}

	txnPayload := map[string]any{
		"email":        req.DonorEmail,
		"amount":       minorUnits(req.Amount),
		"plan":         planEnv.Data.PlanCode,
		"currency":     req.Currency,
		"callback_url": req.ReturnURL,
	}

	var txnEnv paystackEnvelope
	if err := p.post(ctx, "/transaction/initialize", txnPayload, &txnEnv); err != nil {
		return nil, err
	}

	return &StartResult{
		CheckoutURL: txnEnv.Data.AuthorizationURL,
		Reference:   txnEnv.Data.Reference,
		PlanCode:    planEnv.Data.PlanCode,
	}, nil
}

// Confirm re-checks a transaction with the verify endpoint. Paystack's
// redirect return carries no proof of payment, so the server asks the API
// directly.
func (p *Paystack) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	ref := req.PaymentID
	if ref == "" {
		ref = req.Token
	}

	var env paystackEnvelope
	if err := p.get(ctx, "/transaction/verify/"+ref, &env); err != nil {
		return nil, err
	}
	if env.Data.Status != "success" {
		return nil, &domain.GatewayError{
			Gateway: p.Name(),
			Err:     fmt.Errorf("transaction %s not successful: %s", ref, env.Data.Status),
		}
	}

	return &ConfirmResult{Reference: ref}, nil
}

func (p *Paystack) VerifyWebhook(_ context.Context, body []byte, header http.Header) error {
	want := header.Get("X-Paystack-Signature")
	got := SignPayload(body, p.secretKey)
	if want == "" || !hmac.Equal([]byte(got), []byte(want)) {
		return &domain.SignatureVerificationError{Gateway: p.Name()}
	}
	return nil
}

// SignPayload computes the hex HMAC-SHA512 signature Paystack sends in the
// X-Paystack-Signature header.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type paystackPlan struct {
	PlanCode string `json:"plan_code"`
}

// Paystack sends the plan as an object on charge events but as a bare plan
// code string on some subscription events.
func (p *paystackPlan) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &p.PlanCode)
	}
	var aux struct {
		PlanCode string `json:"plan_code"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.PlanCode = aux.PlanCode
	return nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string       `json:"reference"`
		Status          string       `json:"status"`
		GatewayResponse string       `json:"gateway_response"`
		Amount          int64        `json:"amount"`
		Currency        string       `json:"currency"`
		Plan            paystackPlan `json:"plan"`
	} `json:"data"`
}

var paystackSuccessResponses = map[string]bool{
	"Successful":      true,
	"Approved":        true,
	"[Test] Approved": true,
}

func (p *Paystack) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode paystack event: %w", err)
	}

	out := &WebhookEvent{
		Kind:      EventIgnored,
		Reference: ev.Data.Reference,
		PlanCode:  ev.Data.Plan.PlanCode,
		Amount:    decimal.New(ev.Data.Amount, -2), // minor units
		Currency:  ev.Data.Currency,
	}

	switch {
	case ev.Event == "charge.success" && ev.Data.Status == "success" &&
		paystackSuccessResponses[ev.Data.GatewayResponse]:
		out.Kind = EventChargeSuccess
	case ev.Event == "charge.failed" || ev.Data.Status == "failed":
		out.Kind = EventChargeFailed
		out.FailureReason = ev.Data.GatewayResponse
	}

	return out, nil
}

// --- transport helpers ---

func (p *Paystack) post(ctx context.Context, path string, payload any, out *paystackEnvelope) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	return p.do(req, out)
}

func (p *Paystack) get(ctx context.Context, path string, out *paystackEnvelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	return p.do(req, out)
}

func (p *Paystack) do(req *http.Request, out *paystackEnvelope) error {
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.GatewayError{
			Gateway: p.Name(),
			Err:     fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Status {
		return &domain.GatewayError{
			Gateway: p.Name(),
			Err:     fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, out.Message),
		}
	}
	return nil
}

// minorUnits converts a major-unit amount to the integer minor units
// (kobo, cents) Paystack expects.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
