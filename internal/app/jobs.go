/**
 * @description
 * Background jobs run by the cron scheduler: the subscription reconciliation
 * sweep, which pushes recently-updated mirror rows back into the cache so the
 * database wins over stale local state, and pruning of the webhook dedupe
 * table.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

const (
	reconcileBatchSize    = 500
	reconcileLookback     = 24 * time.Hour
	webhookEventRetention = 30 * 24 * time.Hour
	jobTimeout            = 2 * time.Minute
)

// JobsRepository defines the database operations the jobs need.
type JobsRepository interface {
	ListSubscriptions(ctx context.Context, updatedSince time.Time, limit int) ([]domain.SubscriptionState, error)
	PruneWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Jobs holds the scheduled job implementations.
type Jobs struct {
	repo   JobsRepository
	kv     store.KVStore
	logger *slog.Logger
}

// NewJobs creates the job set.
func NewJobs(repo JobsRepository, kv store.KVStore, logger *slog.Logger) *Jobs {
	return &Jobs{repo: repo, kv: kv, logger: logger}
}

// ReconcileSubscriptions copies recently-updated mirror rows into the cache.
// The mirror wins over whatever the cache held.
func (j *Jobs) ReconcileSubscriptions() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	states, err := j.repo.ListSubscriptions(ctx, time.Now().Add(-reconcileLookback), reconcileBatchSize)
	if err != nil {
		j.logger.Error("reconciliation sweep failed to list subscriptions", "error", err)
		return
	}

	var synced int
	for i := range states {
		state := &states[i]
		if err := store.SaveJSON(ctx, j.kv, subscriptionKey(state.UserID), state); err != nil {
			j.logger.Warn("failed to reconcile cached subscription", "user_id", state.UserID, "error", err)
			continue
		}
		synced++
	}
	j.logger.Info("subscription reconciliation sweep complete", "rows", len(states), "synced", synced)
}

// PruneWebhookEvents deletes dedupe entries past the retention window.
func (j *Jobs) PruneWebhookEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	deleted, err := j.repo.PruneWebhookEvents(ctx, time.Now().Add(-webhookEventRetention))
	if err != nil {
		j.logger.Error("webhook event pruning failed", "error", err)
		return
	}
	j.logger.Info("pruned webhook dedupe entries", "deleted", deleted)
}
