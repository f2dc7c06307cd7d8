/*
peerpay.go - Peer-transfer processor

PURPOSE:
  Adapts a peer-transfer network (handle-addressed transfers) to the
  settlement.Provider interface. Same simulation rules as cardnet but
  a different wire shape: peer networks identify transactions by a
  transfer ID nested under "transfer", not a payment intent.
*/
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/settlement-engine/settlement"
)

// PeerPayID is the registry key for the peer-transfer processor.
const PeerPayID = "peerpay"

// =============================================================================
// PEERPAY
// =============================================================================

type PeerPay struct {
	secret []byte

	mu     sync.RWMutex
	issued map[string]settlement.TransactionStatus
}

// NewPeerPay creates a peer-transfer provider with the given webhook secret.
func NewPeerPay(webhookSecret string) *PeerPay {
	return &PeerPay{
		secret: []byte(webhookSecret),
		issued: make(map[string]settlement.TransactionStatus),
	}
}

func (p *PeerPay) ID() string { return PeerPayID }

func (p *PeerPay) TokenizePaymentMethod(_ context.Context, details settlement.PaymentMethodDetails) (*settlement.PaymentMethodToken, error) {
	if details.Kind != "handle" {
		return nil, fmt.Errorf("peerpay cannot tokenize %q instruments", details.Kind)
	}
	handle := strings.TrimPrefix(details.Handle, "@")
	if handle == "" {
		return nil, fmt.Errorf("handle must not be empty")
	}
	return &settlement.PaymentMethodToken{
		Token:       "tok_pp_" + uuid.NewString(),
		DisplayName: "@" + handle,
		Kind:        "handle",
	}, nil
}

func (p *PeerPay) Charge(_ context.Context, tx *settlement.Transaction, paymentMethodID string) (*settlement.Transaction, error) {
	out := *tx
	out.ProviderTransactionID = "tr_" + uuid.NewString()
	out.Status = outcomeFor(paymentMethodID)

	p.mu.Lock()
	p.issued[out.ProviderTransactionID] = out.Status
	p.mu.Unlock()
	return &out, nil
}

func (p *PeerPay) Refund(_ context.Context, refund *settlement.Transaction, original *settlement.Transaction) (*settlement.Transaction, error) {
	p.mu.RLock()
	_, known := p.issued[original.ProviderTransactionID]
	p.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("unknown transfer %s", original.ProviderTransactionID)
	}

	out := *refund
	out.ProviderTransactionID = "rv_" + uuid.NewString()
	out.Status = settlement.TxCompleted

	p.mu.Lock()
	p.issued[out.ProviderTransactionID] = out.Status
	p.mu.Unlock()
	return &out, nil
}

func (p *PeerPay) GetStatus(_ context.Context, providerTxID string) (settlement.TransactionStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.issued[providerTxID]
	if !ok {
		return "", fmt.Errorf("unknown transfer %s", providerTxID)
	}
	return status, nil
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// peerPayEvent is the peer network's webhook payload shape.
type peerPayEvent struct {
	EventID  string `json:"event_id"`
	Event    string `json:"event"`
	Transfer struct {
		ID   string            `json:"id"`
		Note map[string]string `json:"note,omitempty"`
	} `json:"transfer"`
	Timestamp int64 `json:"timestamp"`
}

var peerPayEventTypes = map[string]settlement.EventType{
	"transfer.completed": settlement.EventSucceeded,
	"transfer.failed":    settlement.EventFailed,
	"transfer.pending":   settlement.EventProcessing,
	"transfer.cancelled": settlement.EventCanceled,
	"transfer.reversed":  settlement.EventRefunded,
}

func (p *PeerPay) VerifyAndParseWebhook(payload []byte, signature string) (*settlement.WebhookEvent, error) {
	if !verifySignature(p.secret, payload, signature) {
		return nil, settlement.ErrBadSignature
	}

	var evt peerPayEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("decode peerpay event: %w", err)
	}

	semantic, ok := peerPayEventTypes[evt.Event]
	if !ok {
		semantic = settlement.EventUnknown
	}

	return &settlement.WebhookEvent{
		ID:                    evt.EventID,
		Type:                  semantic,
		ProviderTransactionID: evt.Transfer.ID,
		OccurredAt:            time.Unix(evt.Timestamp, 0),
		Data:                  evt.Transfer.Note,
	}, nil
}
