/**
 * @description
 * This file contains the HTTP handler for the payment processor's webhook.
 * It is the entry point for all subscription lifecycle notifications.
 *
 * Key behavior:
 * - Auth: when a shared secret is configured, the Authorization header must
 *   carry it as a bearer token.
 * - Malformed payloads answer 4xx with no side effects.
 * - Downstream failures answer 5xx; the processor retries delivery, and the
 *   commission state machine de-duplicates by event id.
 */
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/glowcheck/subscription-service/internal/app"
	"github.com/glowcheck/subscription-service/internal/domain"
)

// WebhookHandler processes incoming webhooks from the payment processor.
type WebhookHandler struct {
	processor *app.WebhookProcessor
	secret    string
	logger    *slog.Logger

	limiter   *app.RedisRateLimiter
	rateLimit int
	rateWin   time.Duration
}

// NewWebhookHandler creates a new handler for the webhook endpoint. An empty
// secret disables the bearer check (local development); a nil limiter
// disables flood protection.
func NewWebhookHandler(processor *app.WebhookProcessor, secret string, logger *slog.Logger, limiter *app.RedisRateLimiter, rateLimit int, rateWindow time.Duration) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
		logger:    logger,
		limiter:   limiter,
		rateLimit: rateLimit,
		rateWin:   rateWindow,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !h.authorized(r) {
		h.logger.Warn("webhook rejected, invalid authorization", "remote", r.RemoteAddr)
		respondWithJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	host := r.RemoteAddr
	if split, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = split
	}
	_, retryAfter, err := h.limiter.Consume(r.Context(), "webhook", host, h.rateLimit, h.rateWin)
	if err == nil && retryAfter > 0 {
		h.logger.Warn("webhook rate limit exceeded", "remote", host)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondWithJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return
	}

	var payload domain.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("webhook rejected, invalid JSON", "error", err)
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}

	event := payload.Event
	h.logger.Info("received webhook event",
		"event_id", event.ID, "type", event.Type, "app_user_id", event.AppUserID)

	if err := h.processor.Process(r.Context(), event); err != nil {
		if errors.Is(err, app.ErrMalformedEvent) {
			respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "event type and app_user_id are required"})
			return
		}
		h.logger.Error("webhook processing failed", "event_id", event.ID, "type", event.Type, "error", err)
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
		return
	}

	h.logger.Info("webhook processed", "event_id", event.ID, "type", event.Type, "elapsed", time.Since(start))
	respondWithJSON(w, http.StatusOK, domain.WebhookResponse{
		Success:     true,
		EventType:   event.Type,
		ProcessedAt: time.Now().UTC(),
	})
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
