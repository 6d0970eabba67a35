package domain

import "fmt"

// ValidationError reports a caller-correctable problem with a request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports an absent campaign or donation.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// ConversionUnavailableError reports that a cross-currency operation was
// blocked because no active exchange rate exists.
type ConversionUnavailableError struct {
	From string
	To   string
}

func (e *ConversionUnavailableError) Error() string {
	return fmt.Sprintf("no active exchange rate for %s -> %s", e.From, e.To)
}

// GatewayError wraps a transport or non-2xx failure from a remote payment
// gateway, carrying the gateway name alongside the underlying cause.
type GatewayError struct {
	Gateway string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Gateway, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// AlreadyProcessedError reports that a completion attempt targeted a
// donation that is already COMPLETED. It is an idempotent no-op, surfaced
// to callers as success rather than a failure.
type AlreadyProcessedError struct {
	Reference string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("donation %s already processed", e.Reference)
}

// SignatureVerificationError reports a rejected inbound webhook. No state
// is mutated when verification fails.
type SignatureVerificationError struct {
	Gateway string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("[%s] webhook signature verification failed", e.Gateway)
}
