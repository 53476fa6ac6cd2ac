// internal/models/pending.go
package models

import "time"

type PendingStatus string

const (
	PendingAwaitingCompletion PendingStatus = "awaiting_completion"
	PendingPaid               PendingStatus = "paid"
	PendingCompleted          PendingStatus = "completed"
)

// PendingPayment is a provider-authorized payment whose buyer has not yet
// finished the profile step. Status "paid" is set outside this service.
type PendingPayment struct {
	ID                int64         `json:"id" db:"id"`
	ProviderReference string        `json:"providerReference" db:"provider_reference"`
	ItemID            int64         `json:"itemId" db:"item_id"`
	AmountPaid        float64       `json:"amountPaid" db:"amount_paid"`
	Currency          string        `json:"currency" db:"currency"`
	Provider          Provider      `json:"provider" db:"provider"`
	BuyerEmail        string        `json:"buyerEmail" db:"buyer_email"`
	BuyerName         string        `json:"buyerName,omitempty" db:"buyer_name"`
	BuyerPhone        string        `json:"buyerPhone,omitempty" db:"buyer_phone"`
	Status            PendingStatus `json:"status" db:"status"`
	SubjectID         *int64        `json:"subjectId,omitempty" db:"subject_id"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty" db:"completed_at"`
}

// ProviderConfirmed reports whether reconciliation may act on this row.
func (p PendingPayment) ProviderConfirmed() bool {
	return p.Status == PendingPaid || p.Status == PendingCompleted
}

// BuyerDetails are written back to the ledger when a pending payment completes.
type BuyerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}
