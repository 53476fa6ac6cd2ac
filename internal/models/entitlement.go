// internal/models/entitlement.go
package models

import "time"

// CredentialTier identifies which provisioning strategy produced a credential.
type CredentialTier string

const (
	TierIsolated    CredentialTier = "isolated"
	TierShared      CredentialTier = "shared"
	TierPlaceholder CredentialTier = "placeholder"
)

// Credential grants access to the purchased content.
type Credential struct {
	Username string         `json:"username" db:"credential_username"`
	Secret   string         `json:"secret" db:"credential_secret"`
	Host     string         `json:"host,omitempty"`
	Tier     CredentialTier `json:"tier"`
}

// Degraded reports whether the credential is a placeholder that connects nowhere.
func (c Credential) Degraded() bool {
	return c.Tier == TierPlaceholder
}

// Entitlement is immutable once written. At most one exists per (SubjectID, ItemID).
type Entitlement struct {
	ID                    int64     `json:"id" db:"id"`
	SubjectID             int64     `json:"subjectId" db:"subject_id"`
	ItemID                int64     `json:"itemId" db:"item_id"`
	AmountPaid            float64   `json:"amountPaid" db:"amount_paid"`
	Currency              string    `json:"currency" db:"currency"`
	Provider              Provider  `json:"provider" db:"provider"`
	ProviderTransactionID string    `json:"providerTransactionId" db:"provider_transaction_id"`
	CredentialUsername    string    `json:"credentialUsername" db:"credential_username"`
	CredentialSecret      string    `json:"-" db:"credential_secret"`
	CreatedAt             time.Time `json:"createdAt" db:"created_at"`
}
