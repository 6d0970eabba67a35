package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

// Paypal is the subscription-capable gateway. One-time gifts go through
// the payments API with a browser-redirect execute step; recurring gifts
// create a billing plan plus agreement whose approval token identifies the
// donation until execution returns the agreement id. Webhook verification
// is a server-side API call that requires an OAuth token first.
type Paypal struct {
	clientID  string
	secretKey string
	apiURL    string
	webhookID string
	http      *http.Client
}

func NewPaypal(clientID, secretKey, apiURL, webhookID string) *Paypal {
	return &Paypal{
		clientID:  clientID,
		secretKey: secretKey,
		apiURL:    apiURL,
		webhookID: webhookID,
		http:      newHTTPClient(),
	}
}

func (p *Paypal) Name() string { return string(domain.GatewayPaypal) }

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func approvalURL(links []paypalLink) string {
	for _, l := range links {
		if l.Rel == "approval_url" {
			return l.Href
		}
	}
	return ""
}

func (p *Paypal) StartCharge(ctx context.Context, req ChargeRequest) (*StartResult, error) {
	payload := map[string]any{
		"intent": "sale",
		"payer":  map[string]any{"payment_method": "paypal"},
		"redirect_urls": map[string]any{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
		"transactions": []map[string]any{{
			"amount": map[string]any{
				"total":    req.Amount.StringFixed(2),
				"currency": req.Currency,
			},
			"description": req.Description,
		}},
	}

	var resp struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/payments/payment", payload, &resp); err != nil {
		return nil, err
	}

	checkout := approvalURL(resp.Links)
	if checkout == "" {
		return nil, &domain.GatewayError{
			Gateway: p.Name(),
			Err:     fmt.Errorf("payment %s has no approval_url", resp.ID),
		}
	}

	return &StartResult{CheckoutURL: checkout, Reference: resp.ID}, nil
}

func (p *Paypal) StartRecurring(ctx context.Context, req ChargeRequest) (*StartResult, error) {
	planPayload := map[string]any{
		"name":        fmt.Sprintf("Monthly Donation Plan %s %s", req.Amount.StringFixed(2), req.Currency),
		"description": req.Description,
		"type":        "INFINITE",
		"payment_definitions": []map[string]any{{
			"name":               "Monthly Donation",
			"type":               "REGULAR",
			"frequency":          "MONTH",
			"frequency_interval": "1",
			"amount":             map[string]any{"value": req.Amount.StringFixed(2), "currency": req.Currency},
			"cycles":             "0",
		}},
		"merchant_preferences": map[string]any{
			"auto_bill_amount":           "YES",
			"initial_fail_amount_action": "CONTINUE",
			"max_fail_attempts":          "1",
			"return_url":                 req.ReturnURL,
			"cancel_url":                 req.CancelURL,
			"setup_fee":                  map[string]any{"value": req.Amount.StringFixed(2), "currency": req.Currency},
		},
	}

	var plan struct {
		ID string `json:"id"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/payments/billing-plans", planPayload, &plan); err != nil {
		return nil, err
	}

	activate := []map[string]any{{
		"op":    "replace",
		"path":  "/",
		"value": map[string]any{"state": "ACTIVE"},
	}}
	if err := p.call(ctx, http.MethodPatch, "/v1/payments/billing-plans/"+plan.ID, activate, nil); err != nil {
		return nil, err
	}

	// PayPal rejects agreements starting in the past; the first charge is
	// covered by the setup fee.
	start := time.Now().UTC().Add(25 * time.Hour).Format("2006-01-02T15:04:05Z")
	agreementPayload := map[string]any{
		"name":        "Monthly Donation Agreement",
		"description": req.Description,
		"start_date":  start,
		"plan":        map[string]any{"id": plan.ID},
		"payer":       map[string]any{"payment_method": "paypal"},
	}

	var agreement struct {
		Links []paypalLink `json:"links"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/payments/billing-agreements", agreementPayload, &agreement); err != nil {
		return nil, err
	}

	checkout := approvalURL(agreement.Links)
	token := approvalToken(checkout)
	if checkout == "" || token == "" {
		return nil, &domain.GatewayError{
			Gateway: p.Name(),
			Err:     fmt.Errorf("agreement for plan %s has no approval token", plan.ID),
		}
	}

	return &StartResult{CheckoutURL: checkout, Reference: token, PlanCode: plan.ID}, nil
}

// approvalToken extracts the EC token from an agreement approval URL.
func approvalToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

func (p *Paypal) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if req.PayerID != "" && req.PaymentID != "" {
		payload := map[string]any{"payer_id": req.PayerID}
		path := "/v1/payments/payment/" + req.PaymentID + "/execute"
		if err := p.call(ctx, http.MethodPost, path, payload, nil); err != nil {
			return nil, err
		}
		return &ConfirmResult{Reference: req.PaymentID}, nil
	}

	if req.Token != "" {
		var resp struct {
			ID string `json:"id"`
		}
		path := "/v1/payments/billing-agreements/" + req.Token + "/agreement-execute"
		if err := p.call(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
			return nil, err
		}
		return &ConfirmResult{Reference: req.Token, AgreementID: resp.ID}, nil
	}

	return nil, &domain.ValidationError{Msg: "either payer_id and payment_id, or token, is required"}
}

func (p *Paypal) VerifyWebhook(ctx context.Context, body []byte, header http.Header) error {
	var event json.RawMessage
	if err := json.Unmarshal(body, &event); err != nil {
		return &domain.SignatureVerificationError{Gateway: p.Name()}
	}

	payload := map[string]any{
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"transmission_id":   header.Get("Paypal-Transmission-Id"),
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.webhookID,
		"webhook_event":     event,
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &resp); err != nil {
		return err
	}
	if resp.VerificationStatus != "SUCCESS" {
		return &domain.SignatureVerificationError{Gateway: p.Name()}
	}
	return nil
}

type paypalEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		ParentPayment      string `json:"parent_payment"`
		BillingAgreementID string `json:"billing_agreement_id"`
		State              string `json:"state"`
		Amount             struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"amount"`
	} `json:"resource"`
}

func (p *Paypal) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode paypal event: %w", err)
	}

	out := &WebhookEvent{
		Kind:        EventIgnored,
		Reference:   ev.Resource.ID,
		AgreementID: ev.Resource.BillingAgreementID,
		Currency:    ev.Resource.Amount.Currency,
	}
	// Sales executed from a one-time payment carry the payment id the
	// donation was keyed by.
	if ev.Resource.ParentPayment != "" {
		out.Reference = ev.Resource.ParentPayment
	}
	if ev.Resource.Amount.Total != "" {
		amount, err := decimal.NewFromString(ev.Resource.Amount.Total)
		if err != nil {
			return nil, fmt.Errorf("decode paypal amount %q: %w", ev.Resource.Amount.Total, err)
		}
		out.Amount = amount
	}

	switch ev.EventType {
	case "PAYMENT.SALE.COMPLETED":
		out.Kind = EventChargeSuccess
	case "PAYMENT.SALE.DENIED":
		out.Kind = EventChargeFailed
		out.FailureReason = "payment sale denied"
	}

	return out, nil
}

// --- transport helpers ---

func (p *Paypal) accessToken(ctx context.Context) (string, error) {
	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	req.SetBasicAuth(p.clientID, p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.GatewayError{
			Gateway: p.Name(),
			Err:     fmt.Errorf("oauth token: status %d", resp.StatusCode),
		}
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.GatewayError{Gateway: p.Name(), Err: fmt.Errorf("decode token: %w", err)}
	}
	return out.AccessToken, nil
}

func (p *Paypal) call(ctx context.Context, method, path string, payload, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.GatewayError{Gateway: p.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
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
			Err:     fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data),
		}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &domain.GatewayError{Gateway: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
