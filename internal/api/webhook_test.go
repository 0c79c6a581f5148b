package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glowcheck/subscription-service/internal/app"
	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

type webhookRepoStub struct {
	referral *domain.Referral
	events   map[string]bool
	premium  map[string]bool
}

func newWebhookRepoStub(referral *domain.Referral) *webhookRepoStub {
	return &webhookRepoStub{
		referral: referral,
		events:   make(map[string]bool),
		premium:  make(map[string]bool),
	}
}

func (s *webhookRepoStub) RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	if s.events[eventID] {
		return false, nil
	}
	s.events[eventID] = true
	return true, nil
}

func (s *webhookRepoStub) DeleteWebhookEvent(ctx context.Context, eventID string) error {
	delete(s.events, eventID)
	return nil
}

func (s *webhookRepoStub) GetReferralByReferredUser(ctx context.Context, referredUserID string) (*domain.Referral, error) {
	if s.referral == nil || s.referral.ReferredUserID != referredUserID {
		return nil, store.ErrReferralNotFound
	}
	return s.referral, nil
}

func (s *webhookRepoStub) MarkReferralActive(ctx context.Context, referralID string, rewardAmount int64) (*domain.Referral, error) {
	if s.referral.Status != domain.ReferralPending {
		return nil, store.ErrInvalidTransition
	}
	now := time.Now()
	s.referral.Status = domain.ReferralActive
	s.referral.ConvertedAt = &now
	s.referral.RewardAmount = rewardAmount
	s.referral.TotalEarned += rewardAmount
	return s.referral, nil
}

func (s *webhookRepoStub) ProcessRecurringCommission(ctx context.Context, referralID string) (*domain.Referral, error) {
	if s.referral.Status != domain.ReferralActive {
		return nil, store.ErrInvalidTransition
	}
	s.referral.TotalMonthsPaid++
	s.referral.TotalEarned += s.referral.RewardAmount
	return s.referral, nil
}

func (s *webhookRepoStub) CancelReferralSubscription(ctx context.Context, referralID string, status domain.ReferralStatus) (*domain.Referral, error) {
	if s.referral.Status != domain.ReferralActive {
		return nil, store.ErrInvalidTransition
	}
	s.referral.Status = status
	return s.referral, nil
}

func (s *webhookRepoStub) ReactivateReferralSubscription(ctx context.Context, referralID string) (*domain.Referral, error) {
	if !s.referral.Status.IsTerminal() {
		return nil, store.ErrInvalidTransition
	}
	s.referral.Status = domain.ReferralActive
	return s.referral, nil
}

func (s *webhookRepoStub) SetSubscriptionPremium(ctx context.Context, userID string, premium bool) error {
	s.premium[userID] = premium
	return nil
}

func newTestWebhookHandler(repo app.WebhookRepository, secret string) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	processor := app.NewWebhookProcessor(repo, nil, logger, 100)
	return NewWebhookHandler(processor, secret, logger, nil, 0, 0)
}

func postWebhook(t *testing.T, h *WebhookHandler, body, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/revenuecat-webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	h := newTestWebhookHandler(newWebhookRepoStub(nil), "hook-secret")

	rec := postWebhook(t, h, `{"event":{"id":"evt_1","type":"RENEWAL","app_user_id":"u"}}`, "Bearer wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong secret, got %d", rec.Code)
	}

	rec = postWebhook(t, h, `{"event":{"id":"evt_1","type":"RENEWAL","app_user_id":"u"}}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a missing header, got %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedPayloads(t *testing.T) {
	h := newTestWebhookHandler(newWebhookRepoStub(nil), "")

	rec := postWebhook(t, h, `not json at all`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	// Missing app_user_id: no side effects, no retry wanted.
	rec = postWebhook(t, h, `{"event":{"id":"evt_1","type":"RENEWAL"}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing app_user_id, got %d", rec.Code)
	}
}

func TestWebhookProcessesLifecycleEvent(t *testing.T) {
	referral := &domain.Referral{
		ID:             "ref_1",
		ReferrerID:     "referrer_1",
		ReferredUserID: "referred_1",
		Status:         domain.ReferralPending,
	}
	repo := newWebhookRepoStub(referral)
	h := newTestWebhookHandler(repo, "hook-secret")

	body := `{"event":{"id":"evt_1","type":"INITIAL_PURCHASE","app_user_id":"referred_1"},"api_version":"1.0"}`
	rec := postWebhook(t, h, body, "Bearer hook-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"event_type":"INITIAL_PURCHASE"`) {
		t.Fatalf("expected the event type echoed in the response, got %s", rec.Body.String())
	}
	if referral.Status != domain.ReferralActive {
		t.Fatalf("expected the referral to activate, got %q", referral.Status)
	}
}

func TestWebhookAcknowledgesUnhandledEventTypes(t *testing.T) {
	h := newTestWebhookHandler(newWebhookRepoStub(nil), "")

	body := `{"event":{"id":"evt_1","type":"BILLING_ISSUE","app_user_id":"u"}}`
	rec := postWebhook(t, h, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected informational events to be acknowledged with 200, got %d", rec.Code)
	}
}
