/*
registry.go - Provider registry construction

PURPOSE:
  Builds the settlement.Registry from configuration. This replaces the
  original runtime class-switch on a provider enum: each provider ID
  maps to exactly one implementation, and the engine resolves it
  through the registry.
*/
package providers

import (
	"github.com/warp/settlement-engine/settlement"
)

// Config carries the per-provider secrets used for webhook verification.
type Config struct {
	CardNetWebhookSecret string
	PeerPayWebhookSecret string
}

// NewRegistry builds a registry with every configured provider.
// Providers with an empty secret are skipped.
func NewRegistry(cfg Config) *settlement.Registry {
	r := settlement.NewRegistry()
	if cfg.CardNetWebhookSecret != "" {
		r.Register(NewCardNet(cfg.CardNetWebhookSecret))
	}
	if cfg.PeerPayWebhookSecret != "" {
		r.Register(NewPeerPay(cfg.PeerPayWebhookSecret))
	}
	return r
}
