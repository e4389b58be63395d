package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// OutcomeSnapshot totals reconciliation outcomes for the admin stats endpoint.
type OutcomeSnapshot struct {
	Total  uint64            `json:"total"`
	ByKind map[string]uint64 `json:"by_kind"`
	ByTier map[string]uint64 `json:"by_tier"`
}

// SnapshotOutcomes reads the outcome counter back out of a gatherer.
func SnapshotOutcomes(gatherer prometheus.Gatherer) OutcomeSnapshot {
	snap := OutcomeSnapshot{ByKind: map[string]uint64{}, ByTier: map[string]uint64{}}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return snap
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == OutcomesMetricName {
			family = mf
			break
		}
	}
	if family == nil {
		return snap
	}

	for _, metric := range family.GetMetric() {
		count := uint64(metric.GetCounter().GetValue())
		snap.Total += count
		snap.ByKind[labelValue(metric, "outcome")] += count
		snap.ByTier[labelValue(metric, "tier")] += count
	}
	return snap
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
