/**
 * @description
 * This file contains the referral state manager. It creates referral codes
 * exactly once per user, assembles the dashboard snapshot (code, aggregate
 * stats, history), and records referred signups, including the deferred case
 * where a code arrives before the referred user is authenticated.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

// ErrMissingReferralCode is returned when a track request carries no code.
var ErrMissingReferralCode = errors.New("referral code is required")

// ReferralRepository defines the database operations the referral manager needs.
type ReferralRepository interface {
	GetReferralCodeByUserID(ctx context.Context, userID string) (*domain.ReferralCode, error)
	CreateReferralCode(ctx context.Context, userID, code string) (*domain.ReferralCode, error)
	GetReferralStats(ctx context.Context, referrerID string) (*domain.ReferralStats, error)
	GetReferralHistory(ctx context.Context, referrerID string) ([]domain.Referral, error)
	TrackReferralSignup(ctx context.Context, referredUserID, code string) error
}

// ReferralService provides the business logic for the referral program.
type ReferralService struct {
	repo     ReferralRepository
	kv       store.KVStore
	logger   *slog.Logger
	linkBase string
}

// NewReferralService creates a new referral service. linkBase is the public
// origin used to build shareable invite links.
func NewReferralService(repo ReferralRepository, kv store.KVStore, logger *slog.Logger, linkBase string) *ReferralService {
	return &ReferralService{
		repo:     repo,
		kv:       kv,
		logger:   logger,
		linkBase: strings.TrimSuffix(linkBase, "/"),
	}
}

func pendingSignupKey(deviceID string) string {
	return fmt.Sprintf("referral:pending:%s", deviceID)
}

// LoadReferralData assembles the dashboard snapshot for a referrer. When the
// user has no code yet, one is created; the unique constraint on user_id
// keeps creation exactly-once even across concurrent calls. Stats and history
// failures degrade to nil/empty sections instead of failing the whole load.
func (s *ReferralService) LoadReferralData(ctx context.Context, userID string) (*domain.ReferralData, error) {
	code, err := s.repo.GetReferralCodeByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrReferralCodeNotFound) {
			return nil, err
		}
		code, err = s.repo.CreateReferralCode(ctx, userID, generateReferralCode())
		if err != nil {
			return nil, err
		}
		s.logger.Info("created referral code", "user_id", userID, "code", code.Code)
	}

	data := &domain.ReferralData{
		Code:    code,
		Link:    s.ReferralLink(code.Code),
		History: []domain.Referral{},
	}

	if stats, err := s.repo.GetReferralStats(ctx, userID); err != nil {
		s.logger.Warn("referral stats unavailable", "user_id", userID, "error", err)
	} else {
		data.Stats = stats
		data.StatsAvailable = true
	}

	if history, err := s.repo.GetReferralHistory(ctx, userID); err != nil {
		s.logger.Warn("referral history unavailable", "user_id", userID, "error", err)
	} else {
		if history != nil {
			data.History = history
		}
		data.HistoryAvailable = true
	}

	return data, nil
}

// ReferralLink builds the shareable invite link for a code.
func (s *ReferralService) ReferralLink(code string) string {
	return fmt.Sprintf("%s/invite/%s", s.linkBase, code)
}

// TrackSignup records a referred signup. When no authenticated user exists
// yet, the code is parked under the device id and replayed later. The remote
// insert is idempotent, so repeated calls with the same code are safe.
func (s *ReferralService) TrackSignup(ctx context.Context, userID, deviceID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrMissingReferralCode
	}
	if userID == "" {
		if deviceID == "" {
			return errors.New("cannot defer referral signup without a device id")
		}
		if err := s.kv.SetItem(ctx, pendingSignupKey(deviceID), code); err != nil {
			return err
		}
		s.logger.Info("parked referral code for later replay", "device_id", deviceID)
		return nil
	}
	return s.repo.TrackReferralSignup(ctx, userID, code)
}

// ReplayPendingSignup checks for a parked code for the device and records it
// now that a user id is present. Unknown codes are dropped with a log; there
// is nothing a retry could fix.
func (s *ReferralService) ReplayPendingSignup(ctx context.Context, userID, deviceID string) error {
	if userID == "" || deviceID == "" {
		return nil
	}
	key := pendingSignupKey(deviceID)
	code, err := s.kv.GetItem(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return err
	}

	if err := s.repo.TrackReferralSignup(ctx, userID, code); err != nil {
		if errors.Is(err, store.ErrReferralCodeNotFound) {
			s.logger.Warn("parked referral code no longer valid, dropping", "device_id", deviceID, "code", code)
		} else {
			return err
		}
	}

	if err := s.kv.RemoveItem(ctx, key); err != nil {
		s.logger.Warn("failed to clear parked referral code", "device_id", deviceID, "error", err)
	}
	return nil
}

// generateReferralCode produces a short human-shareable code. Collisions are
// caught by the unique constraint on the code column.
func generateReferralCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "GLOW-" + raw[:8]
}
