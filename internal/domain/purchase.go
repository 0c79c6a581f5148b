/**
 * @description
 * This file models the result contract of the in-app purchase flow. The
 * purchase provider is an external collaborator; the service only relays its
 * typed outcome to callers, it never raises purchase failures as errors.
 */
package domain

// StoreRedirectError is the sentinel carried in PurchaseResult.Error when the
// user was handed off to the platform store instead of completing an in-app
// purchase. Callers must not treat it as a real failure.
const StoreRedirectError = "STORE_REDIRECT"

// PurchaseResult is the typed outcome of a purchase attempt.
type PurchaseResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty"`
}

// IsStoreRedirect reports whether the result is the store-handoff sentinel
// rather than a genuine failure.
func (r *PurchaseResult) IsStoreRedirect() bool {
	return !r.Success && r.Error == StoreRedirectError
}
