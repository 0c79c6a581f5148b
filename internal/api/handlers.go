/**
 * @description
 * This file contains the HTTP handler functions for the subscription-service.
 * Handlers parse incoming requests, call the appropriate business logic in
 * the app layer, and write the HTTP response.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/glowcheck/subscription-service/internal/app"
	"github.com/glowcheck/subscription-service/internal/domain"
	"github.com/glowcheck/subscription-service/internal/store"
)

// Handler holds the application services that handlers interact with.
type Handler struct {
	subs      *app.Service
	referrals *app.ReferralService
	limiter   *app.RedisRateLimiter

	defaultTrialDays     int
	trackSignupRateLimit int
	rateLimitWindow      time.Duration
}

// NewHandler creates a new Handler with the given services.
func NewHandler(subs *app.Service, referrals *app.ReferralService, limiter *app.RedisRateLimiter, defaultTrialDays, trackSignupRateLimit int, rateLimitWindow time.Duration) *Handler {
	return &Handler{
		subs:                 subs,
		referrals:            referrals,
		limiter:              limiter,
		defaultTrialDays:     defaultTrialDays,
		trackSignupRateLimit: trackSignupRateLimit,
		rateLimitWindow:      rateLimitWindow,
	}
}

// handleGetStatus returns the caller's subscription status DTO.
func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.subs.GetStatus(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// handleStartTrial opens the caller's trial window.
func (h *Handler) handleStartTrial(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Days int `json:"days"`
	}
	if r.Body != nil {
		// An empty body means the default trial length.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Days == 0 {
		req.Days = h.defaultTrialDays
	}

	state, err := h.subs.StartTrial(r.Context(), userID, req.Days)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidTrialLength):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, app.ErrAlreadyPremium), errors.Is(err, app.ErrTrialAlreadyStarted):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, state.StatusAt(h.subs.Now()))
}

// handlePurchase relays a purchase attempt. The outcome is always a typed
// result with a 200, including failures; callers special-case the
// STORE_REDIRECT sentinel instead of treating it as an error.
func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.subs.ProcessPurchase(r.Context(), userID, req.Plan)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// handleUpdateSubscription merges a partial update into the caller's state.
func (h *Handler) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var update domain.SubscriptionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, err := h.subs.SetSubscriptionData(r.Context(), userID, update)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, state.StatusAt(h.subs.Now()))
}

// handleReconcile refreshes the caller's cached state from the database
// mirror, which wins on conflict. Clients call it after a purchase or restore
// so the webhook-driven mirror update becomes visible immediately.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := h.subs.Reconcile(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, state.StatusAt(h.subs.Now()))
}

// handleConsumeScan spends one scan of the requested kind.
func (h *Handler) handleConsumeScan(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Kind domain.ScanKind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, err := h.subs.ConsumeScan(r.Context(), userID, req.Kind)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownScanKind):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, app.ErrScanQuotaExhausted):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, state.StatusAt(h.subs.Now()))
}

// handleCheckAccess runs the subscription guard for a route classification.
func (h *Handler) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		RouteClass    app.RouteClass `json:"route_class"`
		InlinePaywall bool           `json:"inline_paywall"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RouteClass == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state := h.subs.CurrentState(r.Context(), userID)
	decision := app.CheckAccess(req.RouteClass, state, h.subs.Now(), req.InlinePaywall)
	respondWithJSON(w, http.StatusOK, decision)
}

// handleGetReferral returns the caller's referral dashboard snapshot. A
// parked signup code for the caller's device is replayed first, so codes
// captured before authentication are not lost.
func (h *Handler) handleGetReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if deviceID := r.Header.Get("X-Device-Id"); deviceID != "" {
		if err := h.referrals.ReplayPendingSignup(r.Context(), userID, deviceID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	data, err := h.referrals.LoadReferralData(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, data)
}

// handleTrackReferral records a referred signup for the caller.
func (h *Handler) handleTrackReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	_, retryAfter, err := h.limiter.Consume(r.Context(), "track_signup", userID, h.trackSignupRateLimit, h.rateLimitWindow)
	if err == nil && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req struct {
		Code     string `json:"code"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.referrals.TrackSignup(r.Context(), userID, req.DeviceID, req.Code); err != nil {
		switch {
		case errors.Is(err, app.ErrMissingReferralCode):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrReferralCodeNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
