/**
 * @description
 * This file contains the subscription state manager. It tracks and persists
 * the access tier and quota usage for each user, exposes the derived access
 * checks consumed by every gated screen, and reconciles the cached state
 * against the database mirror, which wins on conflict.
 *
 * State-mutating handlers are wrapped in a singleflight group keyed by user,
 * so a double-tapped trial-start or purchase collapses into one call instead
 * of racing.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

// Errors surfaced to handlers.
var (
	ErrAlreadyPremium      = errors.New("user already has a premium subscription")
	ErrTrialAlreadyStarted = errors.New("trial has already been started")
	ErrInvalidTrialLength  = errors.New("trial length must be a positive number of days")
	ErrScanQuotaExhausted  = errors.New("no scans remaining")
	ErrUnknownScanKind     = errors.New("unknown scan kind")
)

// Repository defines the database operations the subscription manager needs.
type Repository interface {
	GetSubscription(ctx context.Context, userID string) (*domain.SubscriptionState, error)
	UpsertSubscription(ctx context.Context, state *domain.SubscriptionState) error
}

// PurchaseClient delegates purchase attempts to the payment provider.
type PurchaseClient interface {
	Purchase(ctx context.Context, userID, plan string) (*domain.PurchaseResult, error)
}

// Service provides the business logic for subscription state management.
type Service struct {
	repo      Repository
	kv        store.KVStore
	purchases PurchaseClient
	logger    *slog.Logger
	flight    singleflight.Group
	clock     func() time.Time
}

// NewService creates a new subscription service.
func NewService(repo Repository, kv store.KVStore, purchases PurchaseClient, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		kv:        kv,
		purchases: purchases,
		logger:    logger,
		clock:     time.Now,
	}
}

func subscriptionKey(userID string) string {
	return fmt.Sprintf("subscription:state:%s", userID)
}

// GetStatus returns the current status DTO for a user. Derivations are
// recomputed against the clock on every call; trial expiry is time-dependent
// and must never be cached.
func (s *Service) GetStatus(ctx context.Context, userID string) (*domain.SubscriptionStatus, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}
	state := s.loadState(ctx, userID)
	return state.StatusAt(s.clock()), nil
}

// CurrentState returns the user's state as the guard and handlers see it.
func (s *Service) CurrentState(ctx context.Context, userID string) *domain.SubscriptionState {
	return s.loadState(ctx, userID)
}

// Now exposes the service clock so access decisions and state derivations
// share one notion of time.
func (s *Service) Now() time.Time {
	return s.clock()
}

// StartTrial opens the trial window for a user. Re-entrant calls for the same
// user share a single execution.
func (s *Service) StartTrial(ctx context.Context, userID string, days int) (*domain.SubscriptionState, error) {
	if days <= 0 {
		return nil, ErrInvalidTrialLength
	}
	result, err, _ := s.flight.Do("trial:"+userID, func() (any, error) {
		state := s.loadState(ctx, userID)
		if state.IsPremium {
			return nil, ErrAlreadyPremium
		}
		if state.HasStartedTrial {
			return nil, ErrTrialAlreadyStarted
		}
		now := s.clock()
		ends := now.AddDate(0, 0, days)
		state.HasStartedTrial = true
		state.TrialStartedAt = &now
		state.TrialEndsAt = &ends
		state.UpdatedAt = now
		s.persistState(ctx, state)
		return state, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SubscriptionState), nil
}

// ProcessPurchase delegates to the purchase provider and relays its typed
// result. It does not flip the premium flag itself: the webhook pipeline and
// reconciliation own that, once the processor confirms the purchase. Failures
// are returned as results, never as errors.
func (s *Service) ProcessPurchase(ctx context.Context, userID, plan string) (*domain.PurchaseResult, error) {
	result, _, _ := s.flight.Do("purchase:"+userID, func() (any, error) {
		res, err := s.purchases.Purchase(ctx, userID, plan)
		if err != nil {
			s.logger.Error("purchase call failed", "user_id", userID, "plan", plan, "error", err)
			return &domain.PurchaseResult{Success: false, Error: err.Error()}, nil
		}
		if res.IsStoreRedirect() {
			s.logger.Info("purchase redirected to store", "user_id", userID, "plan", plan)
		}
		return res, nil
	})
	return result.(*domain.PurchaseResult), nil
}

// SetSubscriptionData merges a partial update into the user's state and
// persists it.
func (s *Service) SetSubscriptionData(ctx context.Context, userID string, update domain.SubscriptionUpdate) (*domain.SubscriptionState, error) {
	state := s.loadState(ctx, userID)
	update.Apply(state)
	state.UpdatedAt = s.clock()
	s.persistState(ctx, state)
	return state, nil
}

// ConsumeScan records one scan of the given kind. Free users spend quota;
// premium and trialing users scan without counting, so counters never exceed
// their max outside those tiers.
func (s *Service) ConsumeScan(ctx context.Context, userID string, kind domain.ScanKind) (*domain.SubscriptionState, error) {
	state := s.loadState(ctx, userID)
	now := s.clock()

	switch kind {
	case domain.ScanGlow:
		if !state.CanScan(now) {
			return nil, ErrScanQuotaExhausted
		}
		if !state.IsPremium && !state.InTrial(now) {
			state.FreeGlowScansUsed++
		}
	case domain.ScanStyle:
		if !state.CanScanStyleCheck(now) {
			return nil, ErrScanQuotaExhausted
		}
		if !state.IsPremium && !state.InTrial(now) {
			state.FreeStyleScansUsed++
		}
	default:
		return nil, ErrUnknownScanKind
	}

	state.UpdatedAt = now
	s.persistState(ctx, state)
	return state, nil
}

// Reconcile refreshes the cached state from the database mirror. The mirror
// wins when a row exists; otherwise the cached state is pushed up so the
// mirror catches up.
func (s *Service) Reconcile(ctx context.Context, userID string) (*domain.SubscriptionState, error) {
	remote, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			local := s.loadState(ctx, userID)
			if upErr := s.repo.UpsertSubscription(ctx, local); upErr != nil {
				s.logger.Warn("failed to seed subscription mirror", "user_id", userID, "error", upErr)
			}
			return local, nil
		}
		return nil, err
	}
	if err := store.SaveJSON(ctx, s.kv, subscriptionKey(userID), remote); err != nil {
		s.logger.Warn("failed to cache reconciled subscription", "user_id", userID, "error", err)
	}
	return remote, nil
}

// loadState returns the cached state for a user, falling back to the mirror
// and then to defaults. It never fails: storage errors degrade to the default
// in-memory state. A corrupt cached blob is replaced with the default and
// rewritten.
func (s *Service) loadState(ctx context.Context, userID string) *domain.SubscriptionState {
	key := subscriptionKey(userID)

	raw, err := s.kv.GetItem(ctx, key)
	if err == nil {
		var state domain.SubscriptionState
		if jsonErr := json.Unmarshal([]byte(raw), &state); jsonErr == nil && state.UserID != "" {
			return &state
		}
		s.logger.Warn("corrupt subscription blob, regenerating default", "user_id", userID)
		fresh := domain.NewSubscriptionState(userID)
		if saveErr := store.SaveJSON(ctx, s.kv, key, fresh); saveErr != nil {
			s.logger.Warn("failed to rewrite subscription blob", "user_id", userID, "error", saveErr)
		}
		return fresh
	}

	if errors.Is(err, store.ErrKeyNotFound) {
		if remote, repoErr := s.repo.GetSubscription(ctx, userID); repoErr == nil {
			if saveErr := store.SaveJSON(ctx, s.kv, key, remote); saveErr != nil {
				s.logger.Warn("failed to cache subscription state", "user_id", userID, "error", saveErr)
			}
			return remote
		}
		return domain.NewSubscriptionState(userID)
	}

	s.logger.Warn("subscription cache read failed, using default", "user_id", userID, "error", err)
	return domain.NewSubscriptionState(userID)
}

// persistState writes the state to the cache and mirror. Both writes are
// best-effort: a failure keeps the in-memory value and is only logged.
func (s *Service) persistState(ctx context.Context, state *domain.SubscriptionState) {
	if err := store.SaveJSON(ctx, s.kv, subscriptionKey(state.UserID), state); err != nil {
		s.logger.Warn("failed to persist subscription state", "user_id", state.UserID, "error", err)
	}
	if err := s.repo.UpsertSubscription(ctx, state); err != nil {
		s.logger.Warn("failed to mirror subscription state", "user_id", state.UserID, "error", err)
	}
}
