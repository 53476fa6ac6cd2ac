// internal/workers/payment/list-pending-payments/models.go
package listpendingpayments

import "entitlement-workers/internal/models"

type Output struct {
	Pending []models.PendingPayment `json:"pending"`
	Count   int                     `json:"count"`
}
