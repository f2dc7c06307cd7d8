/*
Package providers contains concrete payment-provider implementations.

PURPOSE:
  Each provider adapts one external payment-processing capability to
  the settlement.Provider interface. The engine never branches on
  provider identity; it resolves an implementation from the registry
  and calls through the interface.

IMPLEMENTATIONS:
  cardnet.go - card-network processor (card tokenization, intents)
  peerpay.go - peer-transfer processor (handles, transfers)
  registry.go - builds the registry from configuration

SIMULATION:
  The processors here simulate the network leg in memory so the full
  settlement flow runs without external credentials. Payment method
  tokens control the simulated outcome:
    declined-* -> charge fails
    async-*    -> charge left PROCESSING (settled later via webhook)
  Webhook signature verification (HMAC-SHA256 over the raw payload) is
  real and matches what the live integrations use.

SEE ALSO:
  - settlement/provider.go: The interface being implemented
*/
package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/settlement-engine/settlement"
)

// CardNetID is the registry key for the card-network processor.
const CardNetID = "cardnet"

// =============================================================================
// CARDNET - Card-network processor
// =============================================================================

type CardNet struct {
	secret []byte

	mu     sync.RWMutex
	issued map[string]settlement.TransactionStatus
}

// NewCardNet creates a card-network provider with the given webhook secret.
func NewCardNet(webhookSecret string) *CardNet {
	return &CardNet{
		secret: []byte(webhookSecret),
		issued: make(map[string]settlement.TransactionStatus),
	}
}

func (c *CardNet) ID() string { return CardNetID }

func (c *CardNet) TokenizePaymentMethod(_ context.Context, details settlement.PaymentMethodDetails) (*settlement.PaymentMethodToken, error) {
	if details.Kind != "card" {
		return nil, fmt.Errorf("cardnet cannot tokenize %q instruments", details.Kind)
	}
	if len(details.Number) < 4 {
		return nil, fmt.Errorf("card number too short")
	}
	last4 := details.Number[len(details.Number)-4:]
	return &settlement.PaymentMethodToken{
		Token:       "tok_cn_" + uuid.NewString(),
		DisplayName: "Card ending " + last4,
		Kind:        "card",
	}, nil
}

func (c *CardNet) Charge(_ context.Context, tx *settlement.Transaction, paymentMethodID string) (*settlement.Transaction, error) {
	out := *tx
	out.ProviderTransactionID = "pi_" + uuid.NewString()
	out.Status = outcomeFor(paymentMethodID)

	c.mu.Lock()
	c.issued[out.ProviderTransactionID] = out.Status
	c.mu.Unlock()
	return &out, nil
}

func (c *CardNet) Refund(_ context.Context, refund *settlement.Transaction, original *settlement.Transaction) (*settlement.Transaction, error) {
	c.mu.RLock()
	_, known := c.issued[original.ProviderTransactionID]
	c.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("unknown payment intent %s", original.ProviderTransactionID)
	}

	out := *refund
	out.ProviderTransactionID = "re_" + uuid.NewString()
	out.Status = settlement.TxCompleted

	c.mu.Lock()
	c.issued[out.ProviderTransactionID] = out.Status
	c.mu.Unlock()
	return &out, nil
}

func (c *CardNet) GetStatus(_ context.Context, providerTxID string) (settlement.TransactionStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.issued[providerTxID]
	if !ok {
		return "", fmt.Errorf("unknown payment intent %s", providerTxID)
	}
	return status, nil
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// cardNetEvent is the card network's webhook payload shape.
type cardNetEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentIntentID string            `json:"payment_intent_id"`
		Extra           map[string]string `json:"extra,omitempty"`
	} `json:"data"`
	CreatedAt int64 `json:"created_at"`
}

// cardNetEventTypes maps wire event types to engine semantics.
// Everything absent is EventUnknown.
var cardNetEventTypes = map[string]settlement.EventType{
	"payment_intent.succeeded":      settlement.EventSucceeded,
	"payment_intent.payment_failed": settlement.EventFailed,
	"payment_intent.processing":     settlement.EventProcessing,
	"payment_intent.canceled":       settlement.EventCanceled,
	"charge.refunded":               settlement.EventRefunded,
}

func (c *CardNet) VerifyAndParseWebhook(payload []byte, signature string) (*settlement.WebhookEvent, error) {
	if !verifySignature(c.secret, payload, signature) {
		return nil, settlement.ErrBadSignature
	}

	var evt cardNetEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("decode cardnet event: %w", err)
	}

	semantic, ok := cardNetEventTypes[evt.Type]
	if !ok {
		semantic = settlement.EventUnknown
	}

	return &settlement.WebhookEvent{
		ID:                    evt.ID,
		Type:                  semantic,
		ProviderTransactionID: evt.Data.PaymentIntentID,
		OccurredAt:            time.Unix(evt.CreatedAt, 0),
		Data:                  evt.Data.Extra,
	}, nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// Sign computes the hex HMAC-SHA256 signature for a payload.
// Exported for tests and webhook fixtures.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret, payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// outcomeFor derives the simulated charge result from the payment
// method token.
func outcomeFor(paymentMethodID string) settlement.TransactionStatus {
	switch {
	case strings.HasPrefix(paymentMethodID, "declined-"):
		return settlement.TxFailed
	case strings.HasPrefix(paymentMethodID, "async-"):
		return settlement.TxProcessing
	default:
		return settlement.TxCompleted
	}
}
