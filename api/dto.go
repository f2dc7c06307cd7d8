/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (decode, field presence) happens in handlers;
  business validation happens in the settlement engine and surfaces as
  typed errors mapped to HTTP status codes.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ParticipantRequest is one allocation input. Percentage is used by
// PERCENTAGE splits, amount by CUSTOM splits.
type ParticipantRequest struct {
	UserID     string `json:"user_id"`
	Percentage string `json:"percentage,omitempty"`
	Amount     string `json:"amount,omitempty"`
}

// CreateSplitRequest is the request to create a split.
type CreateSplitRequest struct {
	EventID      string               `json:"event_id,omitempty"`
	CreatedBy    string               `json:"created_by"`
	TotalAmount  string               `json:"total_amount"`
	Currency     string               `json:"currency"`
	Strategy     string               `json:"strategy"`
	DueDate      string               `json:"due_date"` // RFC 3339
	Participants []ParticipantRequest `json:"participants"`
}

// PayShareRequest is the request to pay one participant's share.
type PayShareRequest struct {
	UserID          string `json:"user_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Provider        string `json:"provider"`
}

// UpdateSplitStatusRequest is the request to set a split's status.
type UpdateSplitStatusRequest struct {
	Status string `json:"status"`
}

// RefundRequest carries the reason for a refund.
type RefundRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ShareDTO represents a share in API responses.
type ShareDTO struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Amount     string `json:"amount"`
	Percentage string `json:"percentage"`
	Status     string `json:"status"`
}

// SplitDTO represents a split in API responses.
type SplitDTO struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	TotalAmount string     `json:"total_amount"`
	Currency    string     `json:"currency"`
	Strategy    string     `json:"strategy"`
	Status      string     `json:"status"`
	DueDate     string     `json:"due_date"`
	Shares      []ShareDTO `json:"shares"`
	Reminders   int        `json:"reminder_count"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID                    string `json:"id"`
	Type                  string `json:"type"`
	Status                string `json:"status"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	UserID                string `json:"user_id"`
	Provider              string `json:"provider,omitempty"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
	SplitID               string `json:"split_id,omitempty"`
	EventID               string `json:"event_id,omitempty"`
	RefundedTransactionID string `json:"refunded_transaction_id,omitempty"`
	CreatedAt             string `json:"created_at"`
}

// SummaryDTO is a split's settlement progress.
type SummaryDTO struct {
	SplitID              string     `json:"split_id"`
	Status               string     `json:"status"`
	TotalAmount          string     `json:"total_amount"`
	TotalPaid            string     `json:"total_paid"`
	RemainingAmount      string     `json:"remaining_amount"`
	CompletionPercentage string     `json:"completion_percentage"`
	Shares               []ShareDTO `json:"shares"`
	ReminderCount        int        `json:"reminder_count"`
}

// StatisticsDTO aggregates settlement progress for a scope.
type StatisticsDTO struct {
	Scope          string         `json:"scope"`
	ID             string         `json:"id"`
	SplitCount     int            `json:"split_count"`
	TotalAmount    string         `json:"total_amount"`
	PaidAmount     string         `json:"paid_amount"`
	PendingAmount  string         `json:"pending_amount"`
	SharesByStatus map[string]int `json:"shares_by_status"`
	SplitsByStatus map[string]int `json:"splits_by_status"`
}

// PaymentResultDTO reports the outcome of a share payment attempt.
type PaymentResultDTO struct {
	Completed bool `json:"completed"`
}

// RemindResultDTO reports who was reminded.
type RemindResultDTO struct {
	Recipients []string `json:"recipients"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toSplitDTO(s *settlement.Split) SplitDTO {
	shares := make([]ShareDTO, len(s.Shares))
	for i, sh := range s.Shares {
		shares[i] = toShareDTO(sh)
	}
	return SplitDTO{
		ID:          s.ID,
		EventID:     s.EventID,
		CreatedBy:   s.CreatedBy,
		TotalAmount: s.TotalAmount.String(),
		Currency:    s.TotalAmount.Currency,
		Strategy:    string(s.Strategy),
		Status:      string(s.Status),
		DueDate:     s.DueDate.Format(time.RFC3339),
		Shares:      shares,
		Reminders:   len(s.Reminders),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

func toShareDTO(sh settlement.Share) ShareDTO {
	return ShareDTO{
		ID:         sh.ID,
		UserID:     sh.UserID,
		Amount:     sh.Amount.String(),
		Percentage: sh.Percentage.StringFixed(2),
		Status:     string(sh.Status),
	}
}

func toTransactionDTO(tx *settlement.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                    tx.ID,
		Type:                  string(tx.Type),
		Status:                string(tx.Status),
		Amount:                tx.Amount.String(),
		Currency:              tx.Amount.Currency,
		UserID:                tx.UserID,
		Provider:              tx.Provider,
		ProviderTransactionID: tx.ProviderTransactionID,
		SplitID:               tx.SplitID,
		EventID:               tx.EventID,
		RefundedTransactionID: tx.RefundedTransactionID,
		CreatedAt:             tx.CreatedAt.Format(time.RFC3339),
	}
}

func toSummaryDTO(sum *settlement.Summary) SummaryDTO {
	shares := make([]ShareDTO, len(sum.Shares))
	for i, sh := range sum.Shares {
		shares[i] = ShareDTO{
			UserID:     sh.UserID,
			Amount:     sh.Amount.String(),
			Percentage: sh.Percentage.StringFixed(2),
			Status:     string(sh.Status),
		}
	}
	return SummaryDTO{
		SplitID:              sum.SplitID,
		Status:               string(sum.Status),
		TotalAmount:          sum.TotalAmount.String(),
		TotalPaid:            sum.TotalPaid.String(),
		RemainingAmount:      sum.RemainingAmount.String(),
		CompletionPercentage: sum.CompletionPercentage.StringFixed(2),
		Shares:               shares,
		ReminderCount:        sum.ReminderCount,
	}
}

func toStatisticsDTO(st *settlement.Statistics) StatisticsDTO {
	shares := make(map[string]int, len(st.SharesByStatus))
	for k, v := range st.SharesByStatus {
		shares[string(k)] = v
	}
	splits := make(map[string]int, len(st.SplitsByStatus))
	for k, v := range st.SplitsByStatus {
		splits[string(k)] = v
	}
	return StatisticsDTO{
		Scope:          string(st.Scope),
		ID:             st.ID,
		SplitCount:     st.SplitCount,
		TotalAmount:    st.TotalAmount.StringFixed(2),
		PaidAmount:     st.PaidAmount.StringFixed(2),
		PendingAmount:  st.PendingAmount.StringFixed(2),
		SharesByStatus: shares,
		SplitsByStatus: splits,
	}
}
