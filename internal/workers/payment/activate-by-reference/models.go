// internal/workers/payment/activate-by-reference/models.go
package activatebyreference

type Input struct {
	Reference string `json:"reference"`
	// Email only fills in when the provider has no buyer e-mail on record.
	Email  string `json:"email,omitempty"`
	ItemID int64  `json:"itemId,omitempty"`
}

type Output struct {
	EntitlementID int64   `json:"entitlementId"`
	SubjectID     int64   `json:"subjectId"`
	ItemID        int64   `json:"itemId"`
	AmountPaid    float64 `json:"amountPaid"`
	Currency      string  `json:"currency"`
	Username      string  `json:"username"`
	Secret        string  `json:"secret"`
	Host          string  `json:"host,omitempty"`
	Tier          string  `json:"tier"`
	Created       bool    `json:"created"`
	Degraded      bool    `json:"degraded"`
}
