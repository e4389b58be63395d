package booking

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/storefront-booking/internal/observability/metrics"
)

// AdminStats reports reconciliation outcome counts and open checkouts.
type AdminStats struct {
	Outcomes      metrics.OutcomeSnapshot `json:"outcomes"`
	OpenCheckouts int                     `json:"open_checkouts"`
}

// StatsHandler serves GET /admin/reconcile/stats.
func (h *Handler) StatsHandler(gatherer prometheus.Gatherer) http.HandlerFunc {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AdminStats{
			Outcomes:      metrics.SnapshotOutcomes(gatherer),
			OpenCheckouts: h.flow.registry.Len(),
		})
	}
}
