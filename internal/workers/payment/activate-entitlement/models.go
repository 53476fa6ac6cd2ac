// internal/workers/payment/activate-entitlement/models.go
package activateentitlement

type Input struct {
	Reference  string `json:"reference"`
	SubjectID  int64  `json:"subjectId"`
	BuyerName  string `json:"buyerName,omitempty"`
	BuyerPhone string `json:"buyerPhone,omitempty"`
	ItemID     int64  `json:"itemId,omitempty"`
}

// Output is merged into the process instance. The secret travels only here
// so the process can show it to the buyer once.
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
