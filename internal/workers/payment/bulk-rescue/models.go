// internal/workers/payment/bulk-rescue/models.go
package bulkrescue

import "entitlement-workers/internal/activation"

type Input struct {
	References     []string          `json:"references"`
	EmailOverrides map[string]string `json:"emailOverrides,omitempty"`
}

type Output struct {
	Results   []activation.RescueResult `json:"results"`
	Activated int                       `json:"activated"`
	Skipped   int                       `json:"skipped"`
	Failed    int                       `json:"failed"`
}
