/*
metrics.go - Prometheus instrumentation for the settlement engine

PURPOSE:
  Counters for the money-moving paths: payment attempts, webhook
  reconciliation, refunds. Registered on the default registry and
  exposed by the API server on /metrics.
*/
package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_attempted_total",
		Help: "Share payment attempts, by provider.",
	}, []string{"provider"})

	paymentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_completed_total",
		Help: "Share payments that reached COMPLETED, by provider.",
	}, []string{"provider"})

	webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhooks_received_total",
		Help: "Webhook deliveries received, by provider.",
	}, []string{"provider"})

	webhooksReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhooks_reconciled_total",
		Help: "Webhook deliveries that updated a transaction, by provider.",
	}, []string{"provider"})

	webhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhooks_rejected_total",
		Help: "Webhook deliveries dropped (bad signature, orphan, or internal error), by provider.",
	}, []string{"provider"})

	refundsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_refunds_processed_total",
		Help: "Refunds executed against a provider, by provider and outcome.",
	}, []string{"provider", "outcome"})
)
