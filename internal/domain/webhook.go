/**
 * @description
 * This file models the webhook payloads delivered by the payment processor
 * (RevenueCat). These structs are what the webhook endpoint unmarshals before
 * handing the event to the commission state machine.
 *
 * @notes
 * - Delivery is at-least-once: the processor retries until it sees a 2xx, so
 *   every event carries an id used for de-duplication downstream.
 */
package domain

import "time"

// Payment-processor event types that drive the commission state machine.
const (
	EventInitialPurchase = "INITIAL_PURCHASE"
	EventRenewal         = "RENEWAL"
	EventCancellation    = "CANCELLATION"
	EventExpiration      = "EXPIRATION"
	EventUncancellation  = "UNCANCELLATION"
	EventBillingIssue    = "BILLING_ISSUE"
	EventProductChange   = "PRODUCT_CHANGE"
	EventSubscriberAlias = "SUBSCRIBER_ALIAS"
	EventTest            = "TEST"
)

// WebhookPayload is the top-level body posted to /revenuecat-webhook.
type WebhookPayload struct {
	Event      WebhookEvent `json:"event"`
	APIVersion string       `json:"api_version"`
}

// WebhookEvent carries the lifecycle event itself.
type WebhookEvent struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	AppUserID     string `json:"app_user_id"`
	ProductID     string `json:"product_id,omitempty"`
	Environment   string `json:"environment,omitempty"`
	EventTimeMs   int64  `json:"event_timestamp_ms,omitempty"`
	ExpirationMs  int64  `json:"expiration_at_ms,omitempty"`
	PeriodType    string `json:"period_type,omitempty"`
	Store         string `json:"store,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	OriginalAppID string `json:"original_app_user_id,omitempty"`
}

// WebhookResponse is the 200 body returned after an event is handled.
type WebhookResponse struct {
	Success     bool      `json:"success"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
