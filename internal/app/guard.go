/**
 * @description
 * This file contains the subscription guard: a pure access decision consumed
 * uniformly by every premium screen. Screens classify their route and get
 * back allow/deny plus which fallback to render on denial.
 */
package app

import (
	"time"

	"github.com/glowcheck/subscription-service/internal/domain"
)

// RouteClass classifies how a route is gated.
type RouteClass string

const (
	// RoutePublic routes are always allowed.
	RoutePublic RouteClass = "public"
	// RouteScan routes are gated by remaining scan quota.
	RouteScan RouteClass = "scan"
	// RouteFeature routes are premium features gated regardless of quota.
	RouteFeature RouteClass = "feature"
)

// FallbackMode tells the caller what to show when access is denied. It is a
// presentation concern carried through the decision, not part of it.
type FallbackMode string

const (
	FallbackPaywall  FallbackMode = "paywall"
	FallbackRedirect FallbackMode = "redirect"
)

// AccessDecision is the guard's verdict for one route check.
type AccessDecision struct {
	Allowed  bool         `json:"allowed"`
	Reason   string       `json:"reason,omitempty"`
	Fallback FallbackMode `json:"fallback,omitempty"`
}

// CheckAccess decides whether the user may enter a route of the given class.
// Premium users always pass. Expired-trial users always fail gated routes.
// Feature routes require an active trial specifically, not merely remaining
// quota; scan routes require scan quota or better.
func CheckAccess(class RouteClass, state *domain.SubscriptionState, now time.Time, inlinePaywall bool) AccessDecision {
	fallback := FallbackRedirect
	if inlinePaywall {
		fallback = FallbackPaywall
	}

	if class == RoutePublic {
		return AccessDecision{Allowed: true}
	}
	if state.IsPremium {
		return AccessDecision{Allowed: true}
	}
	if state.IsTrialExpired(now) {
		return AccessDecision{Allowed: false, Reason: "trial expired", Fallback: fallback}
	}

	switch class {
	case RouteFeature:
		if state.InTrial(now) {
			return AccessDecision{Allowed: true}
		}
		return AccessDecision{Allowed: false, Reason: "premium feature requires trial or subscription", Fallback: fallback}
	case RouteScan:
		if state.CanScan(now) {
			return AccessDecision{Allowed: true}
		}
		return AccessDecision{Allowed: false, Reason: "scan quota exhausted", Fallback: fallback}
	default:
		return AccessDecision{Allowed: false, Reason: "unknown route class", Fallback: fallback}
	}
}
