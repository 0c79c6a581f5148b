/**
 * @description
 * This file contains the commission state machine driven by payment-processor
 * webhooks. Each lifecycle event maps to at most one ledger transition:
 *
 *   INITIAL_PURCHASE  pending            -> active    (credit first period)
 *   RENEWAL           active             -> active    (credit one period, +1 month)
 *   UNCANCELLATION    inactive/cancelled -> active    (resume accrual)
 *   CANCELLATION      active             -> cancelled (stop accrual)
 *   EXPIRATION        active             -> inactive  (stop accrual)
 *   BILLING_ISSUE, PRODUCT_CHANGE, SUBSCRIBER_ALIAS, TEST: logged no-ops
 *
 * Delivery is at-least-once, so every event id is recorded in the
 * webhook_events table before the ledger is touched; redeliveries become
 * no-ops. A short-TTL in-memory map fronts the table to absorb rapid retries
 * without a round trip.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

// ErrMalformedEvent marks payloads missing required fields; handlers map it
// to a 400 so the processor does not retry them.
var ErrMalformedEvent = errors.New("malformed webhook event")

const (
	dedupeWindow     = 5 * time.Minute
	dedupeMaxAge     = time.Hour
	referralExchange = "referral_events"
)

// WebhookRepository defines the database operations the processor needs.
type WebhookRepository interface {
	RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
	DeleteWebhookEvent(ctx context.Context, eventID string) error
	GetReferralByReferredUser(ctx context.Context, referredUserID string) (*domain.Referral, error)
	MarkReferralActive(ctx context.Context, referralID string, rewardAmount int64) (*domain.Referral, error)
	ProcessRecurringCommission(ctx context.Context, referralID string) (*domain.Referral, error)
	CancelReferralSubscription(ctx context.Context, referralID string, status domain.ReferralStatus) (*domain.Referral, error)
	ReactivateReferralSubscription(ctx context.Context, referralID string) (*domain.Referral, error)
	SetSubscriptionPremium(ctx context.Context, userID string, premium bool) error
}

// EventPublisher publishes internal events after a transition is applied.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// WebhookProcessor applies lifecycle events to the commission ledger.
type WebhookProcessor struct {
	repo         WebhookRepository
	publisher    EventPublisher
	logger       *slog.Logger
	rewardAmount int64

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewWebhookProcessor creates a processor. rewardAmount is the per-period
// commission in cents. publisher may be nil when messaging is not configured.
func NewWebhookProcessor(repo WebhookRepository, publisher EventPublisher, logger *slog.Logger, rewardAmount int64) *WebhookProcessor {
	return &WebhookProcessor{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		rewardAmount: rewardAmount,
		seen:         make(map[string]time.Time),
	}
}

// Process applies one webhook event. Malformed payloads return
// ErrMalformedEvent with no side effects; duplicate deliveries and
// unrecognized event types return nil so the processor stops retrying; store
// failures are returned so the handler answers 5xx and delivery is retried.
func (p *WebhookProcessor) Process(ctx context.Context, event domain.WebhookEvent) error {
	if event.Type == "" || event.AppUserID == "" {
		return ErrMalformedEvent
	}

	switch event.Type {
	case domain.EventInitialPurchase, domain.EventRenewal,
		domain.EventCancellation, domain.EventExpiration, domain.EventUncancellation:
		// handled below
	case domain.EventBillingIssue, domain.EventProductChange, domain.EventSubscriberAlias, domain.EventTest:
		p.logger.Info("ignoring non-commission event", "type", event.Type, "app_user_id", event.AppUserID)
		return nil
	default:
		p.logger.Info("unhandled webhook event type", "type", event.Type)
		return nil
	}

	if event.ID != "" {
		if p.recentlySeen(event.ID) {
			p.logger.Info("duplicate event absorbed in memory", "event_id", event.ID, "type", event.Type)
			return nil
		}
		inserted, err := p.repo.RecordWebhookEvent(ctx, event.ID, event.Type)
		if err != nil {
			p.forget(event.ID)
			return fmt.Errorf("recording webhook event: %w", err)
		}
		if !inserted {
			p.logger.Info("duplicate event already recorded, skipping", "event_id", event.ID, "type", event.Type)
			return nil
		}
	} else {
		p.logger.Warn("webhook event without id, dedupe skipped", "type", event.Type)
	}

	if err := p.apply(ctx, event); err != nil {
		// Release both dedupe entries so the processor's retry is not
		// dropped, whichever instance it lands on.
		if event.ID != "" {
			p.forget(event.ID)
			if delErr := p.repo.DeleteWebhookEvent(ctx, event.ID); delErr != nil {
				p.logger.Error("failed to release dedupe entry", "event_id", event.ID, "error", delErr)
			}
		}
		return err
	}
	return nil
}

func (p *WebhookProcessor) apply(ctx context.Context, event domain.WebhookEvent) error {
	// Keep the referred user's subscription mirror in step with the
	// processor. A cancellation leaves access until the period actually
	// expires, so only expiration clears the flag.
	switch event.Type {
	case domain.EventInitialPurchase, domain.EventRenewal, domain.EventUncancellation:
		if err := p.repo.SetSubscriptionPremium(ctx, event.AppUserID, true); err != nil {
			return fmt.Errorf("updating subscription mirror: %w", err)
		}
	case domain.EventExpiration:
		if err := p.repo.SetSubscriptionPremium(ctx, event.AppUserID, false); err != nil {
			return fmt.Errorf("updating subscription mirror: %w", err)
		}
	}

	referral, err := p.repo.GetReferralByReferredUser(ctx, event.AppUserID)
	if err != nil {
		if errors.Is(err, store.ErrReferralNotFound) {
			// Not every subscriber was referred; the mirror update above is
			// all there is to do.
			p.logger.Info("no referral for subscriber", "app_user_id", event.AppUserID, "type", event.Type)
			return nil
		}
		return fmt.Errorf("loading referral: %w", err)
	}

	var updated *domain.Referral
	switch event.Type {
	case domain.EventInitialPurchase:
		updated, err = p.repo.MarkReferralActive(ctx, referral.ID, p.rewardAmount)
	case domain.EventRenewal:
		updated, err = p.repo.ProcessRecurringCommission(ctx, referral.ID)
	case domain.EventCancellation:
		updated, err = p.repo.CancelReferralSubscription(ctx, referral.ID, domain.ReferralCancelled)
	case domain.EventExpiration:
		updated, err = p.repo.CancelReferralSubscription(ctx, referral.ID, domain.ReferralInactive)
	case domain.EventUncancellation:
		updated, err = p.repo.ReactivateReferralSubscription(ctx, referral.ID)
	}
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// The guarded UPDATE found the row in a state the event does not
			// apply to (out-of-order or already-settled delivery). Nothing to
			// retry.
			p.logger.Warn("event does not apply to referral state",
				"type", event.Type, "referral_id", referral.ID, "status", referral.Status)
			return nil
		}
		return fmt.Errorf("applying %s: %w", event.Type, err)
	}

	p.logger.Info("applied referral transition",
		"type", event.Type, "referral_id", updated.ID, "status", updated.Status,
		"total_months_paid", updated.TotalMonthsPaid, "total_earned", updated.TotalEarned)
	p.publish(ctx, event, updated)
	return nil
}

// publish fans the applied transition out to the referral_events exchange.
// The ledger write has already committed, so publish failures are logged
// rather than failing the webhook.
func (p *WebhookProcessor) publish(ctx context.Context, event domain.WebhookEvent, referral *domain.Referral) {
	if p.publisher == nil {
		return
	}

	var routingKey string
	var body any
	switch event.Type {
	case domain.EventInitialPurchase:
		convertedAt := time.Now()
		if referral.ConvertedAt != nil {
			convertedAt = *referral.ConvertedAt
		}
		routingKey = domain.RoutingReferralActivated
		body = domain.ReferralActivatedEvent{
			ReferralID:     referral.ID,
			ReferrerID:     referral.ReferrerID,
			ReferredUserID: referral.ReferredUserID,
			RewardAmount:   referral.RewardAmount,
			ConvertedAt:    convertedAt,
		}
	case domain.EventRenewal:
		routingKey = domain.RoutingReferralCommission
		body = domain.CommissionCreditedEvent{
			ReferralID:      referral.ID,
			ReferrerID:      referral.ReferrerID,
			RewardAmount:    referral.RewardAmount,
			TotalMonthsPaid: referral.TotalMonthsPaid,
			TotalEarned:     referral.TotalEarned,
		}
	case domain.EventCancellation, domain.EventExpiration:
		routingKey = domain.RoutingReferralCancelled
		body = domain.ReferralCancelledEvent{
			ReferralID: referral.ID,
			ReferrerID: referral.ReferrerID,
			Status:     referral.Status,
			Reason:     event.CancelReason,
		}
	case domain.EventUncancellation:
		routingKey = domain.RoutingReferralResumed
		body = domain.ReferralResumedEvent{
			ReferralID: referral.ID,
			ReferrerID: referral.ReferrerID,
		}
	default:
		return
	}

	if err := p.publisher.Publish(ctx, referralExchange, routingKey, body); err != nil {
		p.logger.Error("failed to publish referral event", "routing_key", routingKey, "error", err)
	}
}

// forget releases an in-memory dedupe entry after a failed apply, so the
// retry is not absorbed before it reaches the database.
func (p *WebhookProcessor) forget(eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, eventID)
}

// recentlySeen checks and updates the in-memory dedupe map, evicting entries
// older than an hour.
func (p *WebhookProcessor) recentlySeen(eventID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-dedupeMaxAge)
	for id, at := range p.seen {
		if at.Before(cutoff) {
			delete(p.seen, id)
		}
	}

	if at, ok := p.seen[eventID]; ok && time.Since(at) < dedupeWindow {
		return true
	}
	p.seen[eventID] = time.Now()
	return false
}
