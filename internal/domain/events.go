/**
 * @description
 * Internal event payloads published to RabbitMQ when the commission state
 * machine applies a transition. Other services (analytics, payout) consume
 * these off the referral_events topic exchange.
 */
package domain

import "time"

// Routing keys on the referral_events exchange.
const (
	RoutingReferralActivated  = "referral.activated"
	RoutingReferralCommission = "referral.commission"
	RoutingReferralCancelled  = "referral.cancelled"
	RoutingReferralResumed    = "referral.resumed"
)

// ReferralActivatedEvent is published when a pending referral converts.
type ReferralActivatedEvent struct {
	ReferralID     string    `json:"referral_id"`
	ReferrerID     string    `json:"referrer_id"`
	ReferredUserID string    `json:"referred_user_id"`
	RewardAmount   int64     `json:"reward_amount"`
	ConvertedAt    time.Time `json:"converted_at"`
}

// CommissionCreditedEvent is published for each renewal-bearing period.
type CommissionCreditedEvent struct {
	ReferralID      string `json:"referral_id"`
	ReferrerID      string `json:"referrer_id"`
	RewardAmount    int64  `json:"reward_amount"`
	TotalMonthsPaid int    `json:"total_months_paid"`
	TotalEarned     int64  `json:"total_earned"`
}

// ReferralCancelledEvent is published when accrual stops.
type ReferralCancelledEvent struct {
	ReferralID string         `json:"referral_id"`
	ReferrerID string         `json:"referrer_id"`
	Status     ReferralStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
}

// ReferralResumedEvent is published when a cancelled referral reactivates.
type ReferralResumedEvent struct {
	ReferralID string `json:"referral_id"`
	ReferrerID string `json:"referrer_id"`
}
