/**
 * @description
 * This file defines the core domain models for a user's subscription state.
 * It includes the persisted SubscriptionState struct, its time-dependent access
 * derivations, and the DTO returned to clients when they ask for their status.
 */
package domain

import "time"

// AccessLevel describes the single access tier a user occupies at an instant.
// Exactly one level applies at any point in time.
type AccessLevel string

const (
	AccessFree         AccessLevel = "free"
	AccessTrialing     AccessLevel = "trialing"
	AccessExpiredTrial AccessLevel = "expired_trial"
	AccessPremium      AccessLevel = "premium"
)

// ScanKind identifies which free-scan quota a scan consumes.
type ScanKind string

const (
	ScanGlow  ScanKind = "glow"
	ScanStyle ScanKind = "style"
)

// Default free quotas for new users.
const (
	DefaultMaxFreeGlowScans  = 1
	DefaultMaxFreeStyleScans = 1
)

// SubscriptionState represents the access tier and quota usage for one user.
// It is cached per-user in the key-value store and mirrored in the
// subscriptions table, which wins on reconciliation.
type SubscriptionState struct {
	UserID             string     `json:"user_id"`
	IsPremium          bool       `json:"is_premium"`
	HasAddedPayment    bool       `json:"has_added_payment"`
	HasStartedTrial    bool       `json:"has_started_trial"`
	TrialStartedAt     *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	FreeGlowScansUsed  int        `json:"free_glow_scans_used"`
	MaxFreeGlowScans   int        `json:"max_free_glow_scans"`
	FreeStyleScansUsed int        `json:"free_style_scans_used"`
	MaxFreeStyleScans  int        `json:"max_free_style_scans"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewSubscriptionState returns the default state created on first load.
func NewSubscriptionState(userID string) *SubscriptionState {
	return &SubscriptionState{
		UserID:            userID,
		MaxFreeGlowScans:  DefaultMaxFreeGlowScans,
		MaxFreeStyleScans: DefaultMaxFreeStyleScans,
		UpdatedAt:         time.Now(),
	}
}

// InTrial reports whether now falls within [TrialStartedAt, TrialEndsAt).
func (s *SubscriptionState) InTrial(now time.Time) bool {
	if !s.HasStartedTrial || s.TrialStartedAt == nil || s.TrialEndsAt == nil {
		return false
	}
	return !now.Before(*s.TrialStartedAt) && now.Before(*s.TrialEndsAt)
}

// IsTrialExpired reports whether a started trial has run out.
func (s *SubscriptionState) IsTrialExpired(now time.Time) bool {
	if !s.HasStartedTrial || s.TrialEndsAt == nil {
		return false
	}
	return !now.Before(*s.TrialEndsAt)
}

// Level derives the single access tier for the given instant.
func (s *SubscriptionState) Level(now time.Time) AccessLevel {
	switch {
	case s.IsPremium:
		return AccessPremium
	case s.InTrial(now):
		return AccessTrialing
	case s.IsTrialExpired(now):
		return AccessExpiredTrial
	default:
		return AccessFree
	}
}

// CanScan reports whether the user may run a glow scan right now.
// An expired trial blocks scanning regardless of remaining quota.
func (s *SubscriptionState) CanScan(now time.Time) bool {
	if s.IsPremium || s.InTrial(now) {
		return true
	}
	if s.IsTrialExpired(now) {
		return false
	}
	return s.FreeGlowScansUsed < s.MaxFreeGlowScans
}

// CanScanStyleCheck reports whether the user may run a style scan right now.
func (s *SubscriptionState) CanScanStyleCheck(now time.Time) bool {
	if s.IsPremium || s.InTrial(now) {
		return true
	}
	if s.IsTrialExpired(now) {
		return false
	}
	return s.FreeStyleScansUsed < s.MaxFreeStyleScans
}

// CanViewResults reports whether previously generated analysis results are
// still accessible. Results stay visible to anyone who is not locked out by an
// expired trial.
func (s *SubscriptionState) CanViewResults(now time.Time) bool {
	if s.IsPremium || s.InTrial(now) {
		return true
	}
	return !s.IsTrialExpired(now)
}

// SubscriptionStatus is the DTO returned to clients asking for their status.
type SubscriptionStatus struct {
	Level               AccessLevel `json:"level"`
	IsPremium           bool        `json:"is_premium"`
	HasAddedPayment     bool        `json:"has_added_payment"`
	InTrial             bool        `json:"in_trial"`
	IsTrialExpired      bool        `json:"is_trial_expired"`
	TrialEndsAt         *time.Time  `json:"trial_ends_at,omitempty"`
	GlowScansRemaining  int         `json:"glow_scans_remaining"`
	StyleScansRemaining int         `json:"style_scans_remaining"`
	CanScan             bool        `json:"can_scan"`
	CanScanStyleCheck   bool        `json:"can_scan_style_check"`
	CanViewResults      bool        `json:"can_view_results"`
}

// StatusAt builds the status DTO for the given instant. Premium and trialing
// users report unlimited scans, represented as -1.
func (s *SubscriptionState) StatusAt(now time.Time) *SubscriptionStatus {
	status := &SubscriptionStatus{
		Level:             s.Level(now),
		IsPremium:         s.IsPremium,
		HasAddedPayment:   s.HasAddedPayment,
		InTrial:           s.InTrial(now),
		IsTrialExpired:    s.IsTrialExpired(now),
		CanScan:           s.CanScan(now),
		CanScanStyleCheck: s.CanScanStyleCheck(now),
		CanViewResults:    s.CanViewResults(now),
	}
	if s.IsPremium || status.InTrial {
		status.GlowScansRemaining = -1
		status.StyleScansRemaining = -1
		if status.InTrial {
			status.TrialEndsAt = s.TrialEndsAt
		}
		return status
	}
	status.GlowScansRemaining = remaining(s.MaxFreeGlowScans, s.FreeGlowScansUsed)
	status.StyleScansRemaining = remaining(s.MaxFreeStyleScans, s.FreeStyleScansUsed)
	if s.IsTrialExpired(now) {
		status.GlowScansRemaining = 0
		status.StyleScansRemaining = 0
	}
	return status
}

func remaining(max, used int) int {
	if r := max - used; r > 0 {
		return r
	}
	return 0
}

// SubscriptionUpdate carries a partial update to SubscriptionState. Nil fields
// are left untouched by the merge.
type SubscriptionUpdate struct {
	IsPremium       *bool `json:"is_premium,omitempty"`
	HasAddedPayment *bool `json:"has_added_payment,omitempty"`
}

// Apply merges the non-nil fields of the update into the state.
func (u SubscriptionUpdate) Apply(s *SubscriptionState) {
	if u.IsPremium != nil {
		s.IsPremium = *u.IsPremium
	}
	if u.HasAddedPayment != nil {
		s.HasAddedPayment = *u.HasAddedPayment
	}
}
