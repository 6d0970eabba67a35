package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

// paypalStub serves the oauth token endpoint plus whatever the test wires in.
func paypalStub(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client-id" || pass != "client-secret" {
				t.Errorf("unexpected oauth credentials %s/%s", user, pass)
			}
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1"})
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q on %s", auth, r.URL.Path)
		}
		handle(w, r)
	}))
}

func TestPaypalStartCharge(t *testing.T) {
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/payment" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload struct {
			Intent       string `json:"intent"`
			Transactions []struct {
				Amount struct {
					Total    string `json:"total"`
					Currency string `json:"currency"`
				} `json:"amount"`
			} `json:"transactions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Intent != "sale" {
			t.Errorf("expected intent sale, got %s", payload.Intent)
		}
		if got := payload.Transactions[0].Amount.Total; got != "50.00" {
			t.Errorf("expected total 50.00, got %s", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "PAY-1",
			"links": []map[string]string{
				{"rel": "self", "href": "https://api/self"},
				{"rel": "approval_url", "href": "https://paypal.com/checkout?token=EC-1"},
			},
		})
	})
	defer srv.Close()

	p := NewPaypal("client-id", "client-secret", srv.URL, "wh-1")
	res, err := p.StartCharge(context.Background(), ChargeRequest{
		Amount:   decimal.RequireFromString("50"),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("StartCharge failed: %v", err)
	}
	if res.Reference != "PAY-1" {
		t.Errorf("expected reference PAY-1, got %s", res.Reference)
	}
	if res.CheckoutURL != "https://paypal.com/checkout?token=EC-1" {
		t.Errorf("unexpected checkout url %s", res.CheckoutURL)
	}
}

func TestPaypalStartRecurring(t *testing.T) {
	var activated bool
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments/billing-plans":
			json.NewEncoder(w).Encode(map[string]any{"id": "P-PLAN1"})
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/payments/billing-plans/P-PLAN1":
			activated = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments/billing-agreements":
			if !activated {
				t.Error("agreement created before the plan was activated")
			}
			json.NewEncoder(w).Encode(map[string]any{
				"links": []map[string]string{
					{"rel": "approval_url", "href": "https://paypal.com/agree?token=EC-AGREE"},
				},
			})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	})
	defer srv.Close()

	p := NewPaypal("client-id", "client-secret", srv.URL, "wh-1")
	res, err := p.StartRecurring(context.Background(), ChargeRequest{
		Amount:   decimal.RequireFromString("25"),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("StartRecurring failed: %v", err)
	}
	if res.Reference != "EC-AGREE" {
		t.Errorf("expected the approval token as reference, got %s", res.Reference)
	}
	if res.PlanCode != "P-PLAN1" {
		t.Errorf("expected plan P-PLAN1, got %s", res.PlanCode)
	}
}

func TestPaypalConfirm(t *testing.T) {
	t.Run("executes a one-time payment by payer id", func(t *testing.T) {
		srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/payments/payment/PAY-1/execute" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["payer_id"] != "PAYER-1" {
				t.Errorf("expected payer_id PAYER-1, got %v", payload)
			}
			w.WriteHeader(http.StatusOK)
		})
		defer srv.Close()

		p := NewPaypal("client-id", "client-secret", srv.URL, "wh-1")
		res, err := p.Confirm(context.Background(), ConfirmRequest{PaymentID: "PAY-1", PayerID: "PAYER-1"})
		if err != nil {
			t.Fatalf("Confirm failed: %v", err)
		}
		if res.Reference != "PAY-1" || res.AgreementID != "" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("executes an agreement by token and returns the agreement id", func(t *testing.T) {
		srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/payments/billing-agreements/EC-AGREE/agreement-execute" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "I-AGREE1"})
		})
		defer srv.Close()

		p := NewPaypal("client-id", "client-secret", srv.URL, "wh-1")
		res, err := p.Confirm(context.Background(), ConfirmRequest{Token: "EC-AGREE"})
		if err != nil {
			t.Fatalf("Confirm failed: %v", err)
		}
		if res.Reference != "EC-AGREE" || res.AgreementID != "I-AGREE1" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("rejects a request with no identifiers", func(t *testing.T) {
		p := NewPaypal("client-id", "client-secret", "https://api", "wh-1")
		_, err := p.Confirm(context.Background(), ConfirmRequest{})
		var valErr *domain.ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestPaypalVerifyWebhook(t *testing.T) {
	body := []byte(`{"event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-1"}}`)
	header := http.Header{}
	header.Set("Paypal-Transmission-Id", "tx-1")
	header.Set("Paypal-Transmission-Sig", "sig-1")
	header.Set("Paypal-Transmission-Time", "2026-01-01T00:00:00Z")
	header.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	header.Set("Paypal-Auth-Algo", "SHA256withRSA")

	newServer := func(status string) *httptest.Server {
		return paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/notifications/verify-webhook-signature" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["webhook_id"] != "wh-1" {
				t.Errorf("expected webhook_id wh-1, got %v", payload["webhook_id"])
			}
			if payload["transmission_id"] != "tx-1" {
				t.Errorf("expected transmission_id tx-1, got %v", payload["transmission_id"])
			}
			json.NewEncoder(w).Encode(map[string]any{"verification_status": status})
		})
	}

	t.Run("accepts a verified event", func(t *testing.T) {
		srv := newServer("SUCCESS")
		defer srv.Close()

		p := NewPaypal("client-id", "client-secret", srv.URL, "wh-1")
		if err := p.VerifyWebhook(context.Background(), body, header); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
	})

	t.Run("rejects an unverified event", func(t *testing.T) {
		srv := newServer("FAILURE")
		defer srv.Close()

		p := NewPaypal("client-id", "client-secret", srv.URL, "wh-1")
		err := p.VerifyWebhook(context.Background(), body, header)
		var sigErr *domain.SignatureVerificationError
		if !errors.As(err, &sigErr) {
			t.Fatalf("expected SignatureVerificationError, got %v", err)
		}
	})
}

func TestPaypalParseWebhook(t *testing.T) {
	p := NewPaypal("client-id", "client-secret", "https://api", "wh-1")

	t.Run("completed sale keys on the parent payment", func(t *testing.T) {
		body := []byte(`{
			"event_type": "PAYMENT.SALE.COMPLETED",
			"resource": {
				"id": "SALE-1",
				"parent_payment": "PAY-1",
				"amount": {"total": "50.00", "currency": "USD"}
			}
		}`)
		ev, err := p.ParseWebhook(body)
		if err != nil {
			t.Fatalf("ParseWebhook failed: %v", err)
		}
		if ev.Kind != EventChargeSuccess {
			t.Errorf("expected charge_success, got %s", ev.Kind)
		}
		if ev.Reference != "PAY-1" {
			t.Errorf("expected reference PAY-1, got %s", ev.Reference)
		}
		if want := decimal.RequireFromString("50"); !ev.Amount.Equal(want) {
			t.Errorf("expected amount 50, got %s", ev.Amount)
		}
	})

	t.Run("renewal sale carries the billing agreement id", func(t *testing.T) {
		body := []byte(`{
			"event_type": "PAYMENT.SALE.COMPLETED",
			"resource": {
				"id": "SALE-2",
				"billing_agreement_id": "I-AGREE1",
				"amount": {"total": "25.00", "currency": "USD"}
			}
		}`)
		ev, err := p.ParseWebhook(body)
		if err != nil {
			t.Fatalf("ParseWebhook failed: %v", err)
		}
		if ev.Reference != "SALE-2" {
			t.Errorf("expected reference SALE-2, got %s", ev.Reference)
		}
		if ev.AgreementID != "I-AGREE1" {
			t.Errorf("expected agreement I-AGREE1, got %s", ev.AgreementID)
		}
	})

	t.Run("denied sale maps to a failure", func(t *testing.T) {
		body := []byte(`{"event_type":"PAYMENT.SALE.DENIED","resource":{"id":"SALE-3","parent_payment":"PAY-3"}}`)
		ev, err := p.ParseWebhook(body)
		if err != nil {
			t.Fatalf("ParseWebhook failed: %v", err)
		}
		if ev.Kind != EventChargeFailed {
			t.Errorf("expected charge_failed, got %s", ev.Kind)
		}
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		body := []byte(`{"event_type":"BILLING.PLAN.CREATED","resource":{"id":"P-1"}}`)
		ev, err := p.ParseWebhook(body)
		if err != nil {
			t.Fatalf("ParseWebhook failed: %v", err)
		}
		if ev.Kind != EventIgnored {
			t.Errorf("expected ignored, got %s", ev.Kind)
		}
	})
}
