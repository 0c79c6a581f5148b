package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glowcheck/subscription-service/internal/app"
	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
	"github.com/glowcheck/subscription-service/pkg/purchaseclient"
)

type subscriptionRepoStub struct {
	state *domain.SubscriptionState
}

func (s *subscriptionRepoStub) GetSubscription(ctx context.Context, userID string) (*domain.SubscriptionState, error) {
	if s.state == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	return s.state, nil
}

func (s *subscriptionRepoStub) UpsertSubscription(ctx context.Context, state *domain.SubscriptionState) error {
	s.state = state
	return nil
}

func authedRequest(method, target, userID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), userIDKey, userID)
	return req.WithContext(ctx)
}

func TestHandleReconcileAppliesMirrorState(t *testing.T) {
	remote := domain.NewSubscriptionState("user_1")
	remote.IsPremium = true
	repo := &subscriptionRepoStub{state: remote}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemoryKVStore()
	subs := app.NewService(repo, kv, purchaseclient.NewClient("", ""), logger)
	h := NewHandler(subs, nil, nil, 3, 10, 0)

	// Stale cached state: the mirror row above must win.
	local := domain.NewSubscriptionState("user_1")
	if err := store.SaveJSON(context.Background(), kv, "subscription:state:user_1", local); err != nil {
		t.Fatalf("seeding cached state: %v", err)
	}

	rec := httptest.NewRecorder()
	h.handleReconcile(rec, authedRequest(http.MethodPost, "/subscription/reconcile", "user_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status domain.SubscriptionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.Level != domain.AccessPremium {
		t.Fatalf("expected the reconciled status to report premium, got %q", status.Level)
	}
}

func TestHandleReconcileRequiresUser(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	subs := app.NewService(&subscriptionRepoStub{}, store.NewMemoryKVStore(), purchaseclient.NewClient("", ""), logger)
	h := NewHandler(subs, nil, nil, 3, 10, 0)

	rec := httptest.NewRecorder()
	h.handleReconcile(rec, httptest.NewRequest(http.MethodPost, "/subscription/reconcile", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an authenticated user, got %d", rec.Code)
	}
}
