/**
 * @description
 * This file defines the referral-program domain models: the per-user referral
 * code, the per-signup referral ledger row with its status machine, and the
 * aggregate stats snapshot served to referrers.
 */
package domain

import "time"

// ReferralStatus tracks where a referred signup sits in its commission
// lifecycle. Commission accrues only while a referral is active.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralActive    ReferralStatus = "active"
	ReferralInactive  ReferralStatus = "inactive"
	ReferralCancelled ReferralStatus = "cancelled"
	ReferralPaid      ReferralStatus = "paid"
)

// IsTerminal reports whether the status stops future commission accrual.
// Terminal referrals can only resume via an explicit reactivation.
func (s ReferralStatus) IsTerminal() bool {
	return s == ReferralInactive || s == ReferralCancelled
}

// ReferralCode is a user's unique referral code. It is created exactly once
// per user and immutable afterwards.
type ReferralCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// Referral is one row of the commission ledger, created per referred signup.
// Amounts are in cents.
type Referral struct {
	ID              string         `json:"id"`
	ReferrerID      string         `json:"referrer_id"`
	ReferredUserID  string         `json:"referred_user_id"`
	ReferralCode    string         `json:"referral_code"`
	Status          ReferralStatus `json:"status"`
	ConvertedAt     *time.Time     `json:"converted_at,omitempty"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	RewardAmount    int64          `json:"reward_amount"`
	TotalMonthsPaid int            `json:"total_months_paid"`
	TotalEarned     int64          `json:"total_earned"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ReferralStats is the aggregate snapshot for one referrer, recomputed by SQL.
// The client treats it as read-only and possibly stale.
type ReferralStats struct {
	TotalReferrals     int   `json:"total_referrals"`
	TotalConversions   int   `json:"total_conversions"`
	TotalEarned        int64 `json:"total_earned"`
	PendingEarnings    int64 `json:"pending_earnings"`
	PaidEarnings       int64 `json:"paid_earnings"`
	ActiveSubscribers  int   `json:"active_subscribers"`
	MonthlyRecurring   int64 `json:"monthly_recurring"`
	LifetimeMonthsPaid int   `json:"lifetime_months_paid"`
}

// ReferralData bundles everything a referrer's dashboard needs. Stats and
// history fetches degrade independently: an unavailable section is nil/empty
// with its flag cleared, which lets callers tell "errored" apart from
// "loaded-empty".
type ReferralData struct {
	Code             *ReferralCode  `json:"code"`
	Link             string         `json:"link"`
	Stats            *ReferralStats `json:"stats,omitempty"`
	History          []Referral     `json:"history"`
	StatsAvailable   bool           `json:"stats_available"`
	HistoryAvailable bool           `json:"history_available"`
}
