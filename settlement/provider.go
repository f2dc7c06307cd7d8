/*
provider.go - Payment-provider interface and registry

PURPOSE:
  Abstracts an external payment-processing capability (card network,
  peer-transfer network) behind a single interface. The engine is
  polymorphic over provider identity: a registry keyed by provider ID
  returns the right implementation, replacing ad hoc branching on a
  provider enum.

WEBHOOKS:
  VerifyAndParseWebhook owns both signature verification and payload
  decoding. Each provider maps its own payload shape to a WebhookEvent
  carrying the provider transaction ID explicitly - the engine never
  guesses which payload field holds the identifier. Signature failure
  is surfaced as ErrBadSignature, distinct from "valid signature,
  unknown event type" (EventUnknown, a no-op for the engine).

SEE ALSO:
  - providers/: Concrete implementations and registry
  - engine.go: Charge/refund/reconcile call sites
*/
package settlement

import (
	"context"
	"errors"
	"time"
)

// ErrBadSignature is returned by VerifyAndParseWebhook when the payload
// signature does not verify. Distinct from an unknown event type.
var ErrBadSignature = errors.New("webhook signature verification failed")

// =============================================================================
// WEBHOOK EVENTS
// =============================================================================

// EventType is the provider-agnostic meaning of a webhook event.
type EventType string

const (
	EventSucceeded  EventType = "succeeded"
	EventFailed     EventType = "failed"
	EventProcessing EventType = "processing"
	EventCanceled   EventType = "canceled"
	EventRefunded   EventType = "refunded"

	// EventUnknown marks event kinds the engine doesn't track.
	// Reconciliation treats these as no-op successes, not errors,
	// since providers emit many kinds beyond payment lifecycle.
	EventUnknown EventType = "unknown"
)

// TransactionStatus maps a webhook event type to the transaction
// status it implies. ok is false for EventUnknown.
func (e EventType) TransactionStatus() (TransactionStatus, bool) {
	switch e {
	case EventSucceeded:
		return TxCompleted, true
	case EventFailed:
		return TxFailed, true
	case EventProcessing:
		return TxProcessing, true
	case EventCanceled:
		return TxCancelled, true
	case EventRefunded:
		return TxRefunded, true
	}
	return "", false
}

// WebhookEvent is a verified, decoded provider notification.
type WebhookEvent struct {
	ID                    string
	Type                  EventType
	ProviderTransactionID string
	OccurredAt            time.Time
	Data                  map[string]string
}

// =============================================================================
// PAYMENT METHOD TOKENIZATION
// =============================================================================

// PaymentMethodDetails is raw instrument input for tokenization.
// The concrete fields a provider reads depend on the instrument kind.
type PaymentMethodDetails struct {
	Kind   string // "card", "bank_account", "handle"
	Number string
	Expiry string
	Holder string
	Handle string // peer-transfer address
}

// PaymentMethodToken is the provider's opaque reference plus display info.
type PaymentMethodToken struct {
	Token       string
	DisplayName string // e.g. "Visa ending 4242"
	Kind        string
}

// =============================================================================
// PROVIDER - External payment-processing capability
// =============================================================================

type Provider interface {
	// ID returns the registry key for this provider.
	ID() string

	// TokenizePaymentMethod exchanges raw instrument details for an
	// opaque token and display info.
	TokenizePaymentMethod(ctx context.Context, details PaymentMethodDetails) (*PaymentMethodToken, error)

	// Charge executes a payment attempt. On success the returned
	// transaction carries the provider reference and resulting status.
	// The input transaction is not mutated.
	Charge(ctx context.Context, tx *Transaction, paymentMethodID string) (*Transaction, error)

	// Refund executes a refund of original. The returned refund
	// transaction carries the provider reference and resulting status.
	Refund(ctx context.Context, refund *Transaction, original *Transaction) (*Transaction, error)

	// GetStatus polls the provider for the current status of a
	// previously submitted transaction.
	GetStatus(ctx context.Context, providerTxID string) (TransactionStatus, error)

	// VerifyAndParseWebhook checks the payload signature and decodes
	// the event. Returns ErrBadSignature on verification failure.
	VerifyAndParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// =============================================================================
// REGISTRY - Provider lookup keyed by ID
// =============================================================================

// Registry resolves provider IDs to implementations.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.ID()] = p
}

// Get returns the provider registered under id, or ErrProviderNotFound.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// IDs returns the registered provider IDs.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
