/**
 * @description
 * This file implements the data access layer on PostgreSQL. It owns the
 * referral-commission ledger (the backend source of truth), the subscription
 * mirror rows used for reconciliation, and the processed-webhook-event table
 * that makes at-least-once webhook delivery safe to replay.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glowcheck/subscription-service/internal/domain"
)

// Sentinel errors surfaced to the app layer.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrReferralCodeNotFound = errors.New("referral code not found")
	ErrReferralNotFound     = errors.New("referral not found")
	ErrInvalidTransition    = errors.New("referral is not in a state that allows this transition")
)

// Repository handles database operations for subscriptions and referrals.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetSubscription retrieves the subscription mirror row for a user.
func (r *Repository) GetSubscription(ctx context.Context, userID string) (*domain.SubscriptionState, error) {
	var state domain.SubscriptionState
	query := `
        SELECT user_id, is_premium, has_added_payment, has_started_trial,
               trial_started_at, trial_ends_at,
               free_glow_scans_used, max_free_glow_scans,
               free_style_scans_used, max_free_style_scans,
               updated_at
        FROM subscriptions
        WHERE user_id = $1
    `
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&state.UserID,
		&state.IsPremium,
		&state.HasAddedPayment,
		&state.HasStartedTrial,
		&state.TrialStartedAt,
		&state.TrialEndsAt,
		&state.FreeGlowScansUsed,
		&state.MaxFreeGlowScans,
		&state.FreeStyleScansUsed,
		&state.MaxFreeStyleScans,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &state, nil
}

// UpsertSubscription creates or replaces the subscription mirror row.
func (r *Repository) UpsertSubscription(ctx context.Context, state *domain.SubscriptionState) error {
	query := `
        INSERT INTO subscriptions (user_id, is_premium, has_added_payment, has_started_trial,
                                   trial_started_at, trial_ends_at,
                                   free_glow_scans_used, max_free_glow_scans,
                                   free_style_scans_used, max_free_style_scans, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (user_id) DO UPDATE SET
            is_premium = EXCLUDED.is_premium,
            has_added_payment = EXCLUDED.has_added_payment,
            has_started_trial = EXCLUDED.has_started_trial,
            trial_started_at = EXCLUDED.trial_started_at,
            trial_ends_at = EXCLUDED.trial_ends_at,
            free_glow_scans_used = EXCLUDED.free_glow_scans_used,
            max_free_glow_scans = EXCLUDED.max_free_glow_scans,
            free_style_scans_used = EXCLUDED.free_style_scans_used,
            max_free_style_scans = EXCLUDED.max_free_style_scans,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		state.UserID,
		state.IsPremium,
		state.HasAddedPayment,
		state.HasStartedTrial,
		state.TrialStartedAt,
		state.TrialEndsAt,
		state.FreeGlowScansUsed,
		state.MaxFreeGlowScans,
		state.FreeStyleScansUsed,
		state.MaxFreeStyleScans,
	)
	return err
}

// SetSubscriptionPremium flips only the premium flag on the mirror row,
// creating the row with defaults when it does not exist yet. Used by the
// webhook processor, which knows nothing about quotas.
func (r *Repository) SetSubscriptionPremium(ctx context.Context, userID string, premium bool) error {
	query := `
        INSERT INTO subscriptions (user_id, is_premium, has_added_payment, has_started_trial,
                                   free_glow_scans_used, max_free_glow_scans,
                                   free_style_scans_used, max_free_style_scans, updated_at)
        VALUES ($1, $2, FALSE, FALSE, 0, $3, 0, $4, NOW())
        ON CONFLICT (user_id) DO UPDATE SET
            is_premium = EXCLUDED.is_premium,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query, userID, premium,
		domain.DefaultMaxFreeGlowScans, domain.DefaultMaxFreeStyleScans)
	return err
}

// ListSubscriptions returns mirror rows updated since the given time, used by
// the reconciliation sweep.
func (r *Repository) ListSubscriptions(ctx context.Context, updatedSince time.Time, limit int) ([]domain.SubscriptionState, error) {
	query := `
        SELECT user_id, is_premium, has_added_payment, has_started_trial,
               trial_started_at, trial_ends_at,
               free_glow_scans_used, max_free_glow_scans,
               free_style_scans_used, max_free_style_scans,
               updated_at
        FROM subscriptions
        WHERE updated_at >= $1
        ORDER BY updated_at ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, updatedSince, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.SubscriptionState
	for rows.Next() {
		var state domain.SubscriptionState
		if err := rows.Scan(
			&state.UserID,
			&state.IsPremium,
			&state.HasAddedPayment,
			&state.HasStartedTrial,
			&state.TrialStartedAt,
			&state.TrialEndsAt,
			&state.FreeGlowScansUsed,
			&state.MaxFreeGlowScans,
			&state.FreeStyleScansUsed,
			&state.MaxFreeStyleScans,
			&state.UpdatedAt,
		); err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// GetReferralCodeByUserID looks up a user's referral code.
func (r *Repository) GetReferralCodeByUserID(ctx context.Context, userID string) (*domain.ReferralCode, error) {
	var code domain.ReferralCode
	query := `
        SELECT id, user_id, code, created_at, is_active
        FROM referral_codes
        WHERE user_id = $1
    `
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&code.ID, &code.UserID, &code.Code, &code.CreatedAt, &code.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

// CreateReferralCode inserts a referral code for a user. The user_id unique
// constraint makes creation exactly-once: a concurrent or repeated call
// returns the already-existing row instead of a second code.
func (r *Repository) CreateReferralCode(ctx context.Context, userID, code string) (*domain.ReferralCode, error) {
	var created domain.ReferralCode
	query := `
        INSERT INTO referral_codes (user_id, code, is_active)
        VALUES ($1, $2, TRUE)
        ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
        RETURNING id, user_id, code, created_at, is_active
    `
	err := r.db.QueryRow(ctx, query, userID, code).Scan(
		&created.ID, &created.UserID, &created.Code, &created.CreatedAt, &created.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// TrackReferralSignup records a referred signup as a pending referral. The
// referred_user_id unique constraint makes repeated calls with the same code
// no-ops, so the client may safely replay it.
func (r *Repository) TrackReferralSignup(ctx context.Context, referredUserID, code string) error {
	var referrerID string
	lookup := `
        SELECT user_id FROM referral_codes WHERE code = $1 AND is_active = TRUE
    `
	err := r.db.QueryRow(ctx, lookup, code).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReferralCodeNotFound
		}
		return err
	}

	insert := `
        INSERT INTO referrals (referrer_id, referred_user_id, referral_code, status,
                               reward_amount, total_months_paid, total_earned)
        VALUES ($1, $2, $3, 'pending', 0, 0, 0)
        ON CONFLICT (referred_user_id) DO NOTHING
    `
	_, err = r.db.Exec(ctx, insert, referrerID, referredUserID, code)
	return err
}

// GetReferralByReferredUser finds the ledger row for a referred user.
func (r *Repository) GetReferralByReferredUser(ctx context.Context, referredUserID string) (*domain.Referral, error) {
	var ref domain.Referral
	query := `
        SELECT id, referrer_id, referred_user_id, referral_code, status,
               converted_at, paid_at, reward_amount, total_months_paid, total_earned, created_at
        FROM referrals
        WHERE referred_user_id = $1
    `
	err := r.db.QueryRow(ctx, query, referredUserID).Scan(
		&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &ref.ReferralCode, &ref.Status,
		&ref.ConvertedAt, &ref.PaidAt, &ref.RewardAmount, &ref.TotalMonthsPaid,
		&ref.TotalEarned, &ref.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &ref, nil
}

// GetReferralHistory returns all ledger rows for one referrer, newest first.
func (r *Repository) GetReferralHistory(ctx context.Context, referrerID string) ([]domain.Referral, error) {
	query := `
        SELECT id, referrer_id, referred_user_id, referral_code, status,
               converted_at, paid_at, reward_amount, total_months_paid, total_earned, created_at
        FROM referrals
        WHERE referrer_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.Referral
	for rows.Next() {
		var ref domain.Referral
		if err := rows.Scan(
			&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &ref.ReferralCode, &ref.Status,
			&ref.ConvertedAt, &ref.PaidAt, &ref.RewardAmount, &ref.TotalMonthsPaid,
			&ref.TotalEarned, &ref.CreatedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, ref)
	}
	return history, rows.Err()
}

// GetReferralStats recomputes the aggregate snapshot for one referrer.
func (r *Repository) GetReferralStats(ctx context.Context, referrerID string) (*domain.ReferralStats, error) {
	var stats domain.ReferralStats
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status IN ('active', 'paid')),
               COALESCE(SUM(total_earned), 0),
               COALESCE(SUM(total_earned) FILTER (WHERE status <> 'paid'), 0),
               COALESCE(SUM(total_earned) FILTER (WHERE status = 'paid'), 0),
               COUNT(*) FILTER (WHERE status = 'active'),
               COALESCE(SUM(reward_amount) FILTER (WHERE status = 'active'), 0),
               COALESCE(SUM(total_months_paid), 0)
        FROM referrals
        WHERE referrer_id = $1
    `
	err := r.db.QueryRow(ctx, query, referrerID).Scan(
		&stats.TotalReferrals,
		&stats.TotalConversions,
		&stats.TotalEarned,
		&stats.PendingEarnings,
		&stats.PaidEarnings,
		&stats.ActiveSubscribers,
		&stats.MonthlyRecurring,
		&stats.LifetimeMonthsPaid,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// MarkReferralActive converts a pending referral. The first period is
// credited to total_earned; the month counter starts at zero and only
// renewals increment it. The WHERE clause makes the transition atomic: a row
// not in pending state is left untouched and reported as an invalid
// transition.
func (r *Repository) MarkReferralActive(ctx context.Context, referralID string, rewardAmount int64) (*domain.Referral, error) {
	query := `
        UPDATE referrals
        SET status = 'active',
            converted_at = NOW(),
            reward_amount = $2,
            total_earned = total_earned + $2
        WHERE id = $1 AND status = 'pending'
        RETURNING id, referrer_id, referred_user_id, referral_code, status,
                  converted_at, paid_at, reward_amount, total_months_paid, total_earned, created_at
    `
	return r.scanReferralRow(ctx, query, referralID, rewardAmount)
}

// ProcessRecurringCommission credits one renewal period. Only active
// referrals accrue; the month counter and earnings advance together.
func (r *Repository) ProcessRecurringCommission(ctx context.Context, referralID string) (*domain.Referral, error) {
	query := `
        UPDATE referrals
        SET total_months_paid = total_months_paid + 1,
            total_earned = total_earned + reward_amount
        WHERE id = $1 AND status = 'active'
        RETURNING id, referrer_id, referred_user_id, referral_code, status,
                  converted_at, paid_at, reward_amount, total_months_paid, total_earned, created_at
    `
	return r.scanReferralRow(ctx, query, referralID)
}

// CancelReferralSubscription stops future accrual. The terminal status is
// 'cancelled' for an explicit cancellation and 'inactive' for an expiration.
func (r *Repository) CancelReferralSubscription(ctx context.Context, referralID string, status domain.ReferralStatus) (*domain.Referral, error) {
	query := `
        UPDATE referrals
        SET status = $2
        WHERE id = $1 AND status = 'active'
        RETURNING id, referrer_id, referred_user_id, referral_code, status,
                  converted_at, paid_at, reward_amount, total_months_paid, total_earned, created_at
    `
	return r.scanReferralRow(ctx, query, referralID, string(status))
}

// ReactivateReferralSubscription resumes accrual for a terminal referral.
func (r *Repository) ReactivateReferralSubscription(ctx context.Context, referralID string) (*domain.Referral, error) {
	query := `
        UPDATE referrals
        SET status = 'active'
        WHERE id = $1 AND status IN ('inactive', 'cancelled')
        RETURNING id, referrer_id, referred_user_id, referral_code, status,
                  converted_at, paid_at, reward_amount, total_months_paid, total_earned, created_at
    `
	return r.scanReferralRow(ctx, query, referralID)
}

func (r *Repository) scanReferralRow(ctx context.Context, query string, args ...any) (*domain.Referral, error) {
	var ref domain.Referral
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &ref.ReferralCode, &ref.Status,
		&ref.ConvertedAt, &ref.PaidAt, &ref.RewardAmount, &ref.TotalMonthsPaid,
		&ref.TotalEarned, &ref.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return &ref, nil
}

// RecordWebhookEvent inserts the processor event id into the dedupe table.
// It returns false when the id was already recorded, meaning the event is a
// redelivery and must not mutate the ledger again.
func (r *Repository) RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
        INSERT INTO webhook_events (event_id, event_type, received_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (event_id) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteWebhookEvent removes a dedupe entry. Called when processing fails
// after the id was recorded, so the processor's retry is not swallowed as a
// duplicate.
func (r *Repository) DeleteWebhookEvent(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID)
	return err
}

// PruneWebhookEvents deletes dedupe entries older than the cutoff.
func (r *Repository) PruneWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
