package domain

import (
	"testing"
	"time"
)

func trialState(start time.Time, days int) *SubscriptionState {
	ends := start.AddDate(0, 0, days)
	state := NewSubscriptionState("user_1")
	state.HasStartedTrial = true
	state.TrialStartedAt = &start
	state.TrialEndsAt = &ends
	return state
}

func TestTrialWindowDerivations(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := trialState(start, 3)

	if !state.InTrial(start) {
		t.Fatal("expected InTrial immediately after trial start")
	}
	if state.IsTrialExpired(start) {
		t.Fatal("did not expect IsTrialExpired at trial start")
	}

	afterEnd := start.AddDate(0, 0, 3)
	if state.InTrial(afterEnd) {
		t.Fatal("expected InTrial to be false at the trial end boundary")
	}
	if !state.IsTrialExpired(afterEnd) {
		t.Fatal("expected IsTrialExpired past the trial window")
	}
}

func TestCanScanBlockedByExpiredTrialRegardlessOfQuota(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := trialState(start, 3)
	state.MaxFreeGlowScans = 5
	state.FreeGlowScansUsed = 0

	expired := start.AddDate(0, 0, 4)
	if state.CanScan(expired) {
		t.Fatal("expected CanScan to be false for an expired trial despite remaining quota")
	}
	if state.CanScanStyleCheck(expired) {
		t.Fatal("expected CanScanStyleCheck to be false for an expired trial")
	}

	state.IsPremium = true
	if !state.CanScan(expired) {
		t.Fatal("expected premium to override an expired trial")
	}
}

func TestCanScanQuotaScenario(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := NewSubscriptionState("user_1")
	state.MaxFreeGlowScans = 1

	if !state.CanScan(now) {
		t.Fatal("expected a fresh free user with quota to be able to scan")
	}

	state.FreeGlowScansUsed = 1
	if state.CanScan(now) {
		t.Fatal("expected CanScan false once the free quota is spent")
	}

	// Starting a trial restores access.
	start := now
	ends := now.AddDate(0, 0, 3)
	state.HasStartedTrial = true
	state.TrialStartedAt = &start
	state.TrialEndsAt = &ends
	if !state.CanScan(now) {
		t.Fatal("expected CanScan true during trial despite spent quota")
	}
}

func TestLevelIsExclusive(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	during := start.Add(time.Hour)
	after := start.AddDate(0, 0, 5)

	tests := []struct {
		name  string
		state *SubscriptionState
		at    time.Time
		want  AccessLevel
	}{
		{name: "fresh user", state: NewSubscriptionState("u"), at: during, want: AccessFree},
		{name: "trialing", state: trialState(start, 3), at: during, want: AccessTrialing},
		{name: "expired trial", state: trialState(start, 3), at: after, want: AccessExpiredTrial},
		{
			name: "premium wins over expired trial",
			state: func() *SubscriptionState {
				s := trialState(start, 3)
				s.IsPremium = true
				return s
			}(),
			at:   after,
			want: AccessPremium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Level(tt.at); got != tt.want {
				t.Fatalf("expected level %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStatusAtReportsUnlimitedScansForPremium(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := NewSubscriptionState("u")
	state.IsPremium = true

	status := state.StatusAt(now)
	if status.GlowScansRemaining != -1 || status.StyleScansRemaining != -1 {
		t.Fatalf("expected unlimited scan markers, got %d/%d",
			status.GlowScansRemaining, status.StyleScansRemaining)
	}
	if !status.CanScan {
		t.Fatal("expected premium status to allow scanning")
	}
}

func TestStatusAtCarriesResultVisibility(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	free := NewSubscriptionState("u")
	if status := free.StatusAt(start); !status.CanViewResults {
		t.Fatal("expected a free user to keep access to prior results")
	}

	expired := trialState(start, 3)
	after := start.AddDate(0, 0, 4)
	if status := expired.StatusAt(after); status.CanViewResults {
		t.Fatal("expected an expired trial to lock prior results")
	}

	expired.IsPremium = true
	if status := expired.StatusAt(after); !status.CanViewResults {
		t.Fatal("expected premium to restore access to results")
	}
}

func TestSubscriptionUpdateAppliesOnlyNonNilFields(t *testing.T) {
	state := NewSubscriptionState("u")
	state.IsPremium = true

	hasPayment := true
	update := SubscriptionUpdate{HasAddedPayment: &hasPayment}
	update.Apply(state)

	if !state.HasAddedPayment {
		t.Fatal("expected HasAddedPayment to be set")
	}
	if !state.IsPremium {
		t.Fatal("expected IsPremium to be left untouched")
	}
}

func TestPurchaseResultStoreRedirectSentinel(t *testing.T) {
	redirect := &PurchaseResult{Success: false, Error: StoreRedirectError}
	if !redirect.IsStoreRedirect() {
		t.Fatal("expected STORE_REDIRECT result to be recognized")
	}

	failure := &PurchaseResult{Success: false, Error: "card declined"}
	if failure.IsStoreRedirect() {
		t.Fatal("did not expect a genuine failure to read as store redirect")
	}
}
