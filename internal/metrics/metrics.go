// Package metrics exposes Prometheus collectors for claim traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Claim outcome label values.
const (
	OutcomeClaimed        = "claimed"
	OutcomeUnclaimed      = "unclaimed"
	OutcomeAlreadyClaimed = "already_claimed"
	OutcomeNotShared      = "not_found_or_not_shared"
	OutcomeItemNotFound   = "item_not_found"
	OutcomeError          = "error"
)

var (
	ClaimToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wishlists",
			Name:      "claim_toggles_total",
			Help:      "Claim toggle requests by outcome.",
		},
		[]string{"outcome"},
	)

	ClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wishlists",
			Name:      "claim_conflicts_total",
			Help:      "Conditional claim writes that lost a race and were re-evaluated.",
		},
	)

	ClaimDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wishlists",
			Name:      "claim_toggle_duration_seconds",
			Help:      "Time spent resolving a claim toggle.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	PendingSharesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wishlists",
			Name:      "pending_shares_expired_total",
			Help:      "Pending share invites removed after their TTL.",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
