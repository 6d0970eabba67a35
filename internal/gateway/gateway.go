package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeRequest describes a charge to start with a remote gateway.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	DonorEmail  string
	Description string
	ReturnURL   string
	CancelURL   string
}

// StartResult is returned by a successful StartCharge or StartRecurring
// call. Reference is the gateway identifier the donation is keyed by: a
// transaction reference for Paystack, a payment id (one-time) or agreement
// token (recurring) for PayPal.
type StartResult struct {
	CheckoutURL string
	Reference   string
	PlanCode    string
}

// ConfirmRequest identifies the transaction to execute on the redirect
// return flow. PayerID+PaymentID drive a one-time confirmation, Token a
// recurring agreement.
type ConfirmRequest struct {
	PaymentID string
	PayerID   string
	Token     string
}

// ConfirmResult reports a successful confirmation. AgreementID is set when
// the gateway created a recurring billing agreement.
type ConfirmResult struct {
	Reference   string
	AgreementID string
}

// EventKind classifies an inbound webhook event after the gateway-specific
// envelope has been stripped.
type EventKind string

const (
	EventChargeSuccess EventKind = "charge_success"
	EventChargeFailed  EventKind = "charge_failed"
	EventIgnored       EventKind = "ignored"
)

// WebhookEvent is the normalized form of an inbound notification.
// Reference correlates the event to a donation; AgreementID or PlanCode
// identify the parent series when the event is a recurring renewal whose
// reference is not yet known.
type WebhookEvent struct {
	Kind          EventKind
	Reference     string
	PlanCode      string
	AgreementID   string
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

// Gateway abstracts a remote payment processor behind one capability
// interface. Each implementation owns its quirky confirmation and
// verification protocol so the orchestrator never branches on gateway
// internals.
type Gateway interface {
	Name() string
	StartCharge(ctx context.Context, req ChargeRequest) (*StartResult, error)
	StartRecurring(ctx context.Context, req ChargeRequest) (*StartResult, error)
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	// VerifyWebhook authenticates an inbound notification. A nil error
	// means the payload is genuine; anything else is a
	// SignatureVerificationError.
	VerifyWebhook(ctx context.Context, body []byte, header http.Header) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
