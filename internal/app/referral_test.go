package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

type referralRepoStub struct {
	code       *domain.ReferralCode
	creates    int
	statsErr   error
	historyErr error
	history    []domain.Referral

	knownCodes map[string]bool
	tracked    map[string]string
}

func newReferralRepoStub() *referralRepoStub {
	return &referralRepoStub{
		knownCodes: make(map[string]bool),
		tracked:    make(map[string]string),
	}
}

func (s *referralRepoStub) GetReferralCodeByUserID(ctx context.Context, userID string) (*domain.ReferralCode, error) {
	if s.code == nil {
		return nil, store.ErrReferralCodeNotFound
	}
	return s.code, nil
}

func (s *referralRepoStub) CreateReferralCode(ctx context.Context, userID, code string) (*domain.ReferralCode, error) {
	s.creates++
	if s.code == nil {
		s.code = &domain.ReferralCode{
			ID:        "rc_1",
			UserID:    userID,
			Code:      code,
			CreatedAt: time.Now(),
			IsActive:  true,
		}
		s.knownCodes[code] = true
	}
	// The unique constraint returns the existing row on conflict.
	return s.code, nil
}

func (s *referralRepoStub) GetReferralStats(ctx context.Context, referrerID string) (*domain.ReferralStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return &domain.ReferralStats{TotalReferrals: len(s.tracked)}, nil
}

func (s *referralRepoStub) GetReferralHistory(ctx context.Context, referrerID string) ([]domain.Referral, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

func (s *referralRepoStub) TrackReferralSignup(ctx context.Context, referredUserID, code string) error {
	if !s.knownCodes[code] {
		return store.ErrReferralCodeNotFound
	}
	// Idempotent: only the first signup per referred user is recorded.
	if _, exists := s.tracked[referredUserID]; !exists {
		s.tracked[referredUserID] = code
	}
	return nil
}

func newTestReferralService(repo ReferralRepository, kv store.KVStore) *ReferralService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReferralService(repo, kv, logger, "https://glowcheck.app")
}

func TestLoadReferralDataCreatesCodeExactlyOnce(t *testing.T) {
	repo := newReferralRepoStub()
	svc := newTestReferralService(repo, store.NewMemoryKVStore())

	first, err := svc.LoadReferralData(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("first load returned error: %v", err)
	}
	if first.Code == nil || first.Code.Code == "" {
		t.Fatal("expected a referral code to be created on first load")
	}

	second, err := svc.LoadReferralData(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("second load returned error: %v", err)
	}
	if second.Code.Code != first.Code.Code {
		t.Fatalf("expected the same code on repeated loads, got %q then %q", first.Code.Code, second.Code.Code)
	}
	if repo.creates != 1 {
		t.Fatalf("expected exactly one create call, got %d", repo.creates)
	}
}

func TestLoadReferralDataDegradesSections(t *testing.T) {
	repo := newReferralRepoStub()
	repo.statsErr = errors.New("stats timeout")
	repo.historyErr = errors.New("history timeout")
	svc := newTestReferralService(repo, store.NewMemoryKVStore())

	data, err := svc.LoadReferralData(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("expected section failures not to fail the load, got %v", err)
	}
	if data.StatsAvailable || data.Stats != nil {
		t.Fatal("expected stats section to degrade to unavailable")
	}
	if data.HistoryAvailable {
		t.Fatal("expected history section to degrade to unavailable")
	}
	if data.History == nil {
		t.Fatal("expected history to stay an empty slice, not nil")
	}
}

func TestLoadReferralDataDistinguishesLoadedEmpty(t *testing.T) {
	repo := newReferralRepoStub()
	svc := newTestReferralService(repo, store.NewMemoryKVStore())

	data, err := svc.LoadReferralData(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if !data.StatsAvailable || !data.HistoryAvailable {
		t.Fatal("expected successfully loaded empty sections to read as available")
	}
	if len(data.History) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(data.History))
	}
}

func TestTrackSignupIsIdempotent(t *testing.T) {
	repo := newReferralRepoStub()
	svc := newTestReferralService(repo, store.NewMemoryKVStore())

	seed, err := svc.LoadReferralData(context.Background(), "referrer_1")
	if err != nil {
		t.Fatalf("seeding referrer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.TrackSignup(context.Background(), "referred_1", "", seed.Code.Code); err != nil {
			t.Fatalf("TrackSignup call %d returned error: %v", i, err)
		}
	}
	if len(repo.tracked) != 1 {
		t.Fatalf("expected one tracked signup, got %d", len(repo.tracked))
	}
}

func TestTrackSignupRejectsMissingCode(t *testing.T) {
	svc := newTestReferralService(newReferralRepoStub(), store.NewMemoryKVStore())
	if err := svc.TrackSignup(context.Background(), "user_1", "", "  "); !errors.Is(err, ErrMissingReferralCode) {
		t.Fatalf("expected ErrMissingReferralCode, got %v", err)
	}
}

func TestTrackSignupDefersWithoutUserAndReplays(t *testing.T) {
	repo := newReferralRepoStub()
	kv := store.NewMemoryKVStore()
	svc := newTestReferralService(repo, kv)

	seed, err := svc.LoadReferralData(context.Background(), "referrer_1")
	if err != nil {
		t.Fatalf("seeding referrer: %v", err)
	}

	// No authenticated user yet: the code is parked under the device id.
	if err := svc.TrackSignup(context.Background(), "", "device_42", seed.Code.Code); err != nil {
		t.Fatalf("deferred TrackSignup returned error: %v", err)
	}
	if len(repo.tracked) != 0 {
		t.Fatal("expected no remote call before a user id exists")
	}

	if err := svc.ReplayPendingSignup(context.Background(), "referred_1", "device_42"); err != nil {
		t.Fatalf("ReplayPendingSignup returned error: %v", err)
	}
	if repo.tracked["referred_1"] != seed.Code.Code {
		t.Fatalf("expected parked code to be replayed, got %v", repo.tracked)
	}

	// The parked code is cleared; a second replay is a no-op.
	if err := svc.ReplayPendingSignup(context.Background(), "referred_1", "device_42"); err != nil {
		t.Fatalf("second replay returned error: %v", err)
	}
	if len(repo.tracked) != 1 {
		t.Fatalf("expected a single tracked signup, got %d", len(repo.tracked))
	}
}

func TestReplayDropsStaleCode(t *testing.T) {
	repo := newReferralRepoStub()
	kv := store.NewMemoryKVStore()
	svc := newTestReferralService(repo, kv)

	if err := kv.SetItem(context.Background(), "referral:pending:device_42", "GLOW-DEADBEEF"); err != nil {
		t.Fatalf("seeding parked code: %v", err)
	}

	if err := svc.ReplayPendingSignup(context.Background(), "referred_1", "device_42"); err != nil {
		t.Fatalf("expected an unknown parked code to be dropped, got %v", err)
	}
	if _, err := kv.GetItem(context.Background(), "referral:pending:device_42"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatal("expected the stale parked code to be cleared")
	}
}

func TestReferralLink(t *testing.T) {
	svc := newTestReferralService(newReferralRepoStub(), store.NewMemoryKVStore())
	if got := svc.ReferralLink("GLOW-ABCD1234"); got != "https://glowcheck.app/invite/GLOW-ABCD1234" {
		t.Fatalf("unexpected referral link %q", got)
	}
}
