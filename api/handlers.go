/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Splits:
    POST   /api/splits                Create split
    GET    /api/splits?event=|user=   List splits
    GET    /api/splits/{id}           Get split
    GET    /api/splits/{id}/summary   Settlement summary
    POST   /api/splits/{id}/pay      Pay one share
    POST   /api/splits/{id}/status   Set split status
    POST   /api/splits/{id}/cancel   Cancel split
    POST   /api/splits/{id}/remind   Record payment reminder

  Transactions:
    POST   /api/transactions/{id}/refund  Refund a completed payment

  Statistics:
    GET    /api/statistics/{scope}/{id}   Aggregation (event|user|split)

  Webhooks:
    POST   /api/webhooks/{provider}       Provider callbacks

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, business-rule violations
  - 404: Split/share/transaction/provider not found
  - 409: Concurrent modification (lost update race)
  - 502: Provider call failed
  - 500: Internal errors
  The webhook endpoint is the exception: it always answers 200.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *settlement.Engine
}

// NewHandler creates a new handler around the settlement engine.
func NewHandler(engine *settlement.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// SPLIT HANDLERS
// =============================================================================

// CreateSplit creates a new split with allocated shares.
func (h *Handler) CreateSplit(w http.ResponseWriter, r *http.Request) {
	var req CreateSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := settlement.NewMoneyFromString(req.TotalAmount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total_amount", err)
		return
	}
	dueDate, err := time.Parse(time.RFC3339, req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use RFC 3339)", err)
		return
	}
	participants, err := toParticipants(req.Participants)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participants", err)
		return
	}

	split, err := h.Engine.CreateSplit(r.Context(), settlement.CreateSplitRequest{
		EventID:      req.EventID,
		CreatedBy:    req.CreatedBy,
		TotalAmount:  total,
		Strategy:     settlement.Strategy(req.Strategy),
		DueDate:      dueDate,
		Participants: participants,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSplitDTO(split))
}

// GetSplit returns a single split.
func (h *Handler) GetSplit(w http.ResponseWriter, r *http.Request) {
	split, err := h.Engine.GetSplit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTO(split))
}

// ListSplits returns splits filtered by event or user.
func (h *Handler) ListSplits(w http.ResponseWriter, r *http.Request) {
	var (
		splits []*settlement.Split
		err    error
	)
	switch {
	case r.URL.Query().Get("event") != "":
		splits, err = h.Engine.SplitsByEvent(r.Context(), r.URL.Query().Get("event"))
	case r.URL.Query().Get("user") != "":
		splits, err = h.Engine.SplitsByUser(r.Context(), r.URL.Query().Get("user"))
	default:
		writeError(w, http.StatusBadRequest, "Either event or user query parameter is required", nil)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SplitDTO, len(splits))
	for i, s := range splits {
		dtos[i] = toSplitDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns a split's settlement summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.GetSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// ProcessSharePayment charges one participant's share.
func (h *Handler) ProcessSharePayment(w http.ResponseWriter, r *http.Request) {
	var req PayShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.PaymentMethodID == "" || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "user_id, payment_method_id, and provider are required", nil)
		return
	}

	completed, err := h.Engine.ProcessSharePayment(r.Context(),
		chi.URLParam(r, "id"), req.UserID, req.PaymentMethodID, req.Provider)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentResultDTO{Completed: completed})
}

// UpdateSplitStatus sets a split's status, subject to the aggregate's
// derivation rules.
func (h *Handler) UpdateSplitStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateSplitStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	split, err := h.Engine.UpdateSplitStatus(r.Context(),
		chi.URLParam(r, "id"), settlement.SplitStatus(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTO(split))
}

// CancelSplit cancels a split and fails its pending shares.
func (h *Handler) CancelSplit(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.CancelSplit(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemindPendingPayments records a reminder for unpaid shares.
func (h *Handler) RemindPendingPayments(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.Engine.RemindPendingPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemindResultDTO{Recipients: recipients})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ProcessRefund refunds a completed transaction.
func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	refund, err := h.Engine.ProcessRefund(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(refund))
}

// =============================================================================
// STATISTICS HANDLERS
// =============================================================================

// GetStatistics returns aggregated settlement statistics.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.GetStatistics(r.Context(),
		chi.URLParam(r, "id"), settlement.StatScope(chi.URLParam(r, "scope")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(stats))
}

// =============================================================================
// WEBHOOK HANDLER
// =============================================================================

// ReceiveWebhook applies a provider callback. Always answers 200:
// providers retry non-2xx responses, and internal failures are already
// logged and counted by the engine.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.Engine.ReconcileWebhook(r.Context(),
		chi.URLParam(r, "provider"), payload, r.Header.Get("X-Signature"))
	w.WriteHeader(http.StatusOK)
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toParticipants(reqs []ParticipantRequest) ([]settlement.Participant, error) {
	participants := make([]settlement.Participant, len(reqs))
	for i, p := range reqs {
		participants[i] = settlement.Participant{UserID: p.UserID}
		if p.Percentage != "" {
			pct, err := decimal.NewFromString(p.Percentage)
			if err != nil {
				return nil, err
			}
			participants[i].Percentage = pct
		}
		if p.Amount != "" {
			amt, err := decimal.NewFromString(p.Amount)
			if err != nil {
				return nil, err
			}
			participants[i].Amount = amt
		}
	}
	return participants, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the settlement error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case settlement.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case settlement.IsRetryable(err):
		writeError(w, http.StatusConflict, "Conflict, retry the request", err)
	case settlement.IsProvider(err):
		writeError(w, http.StatusBadGateway, "Payment provider error", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
