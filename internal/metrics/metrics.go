package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lox/etdemand/internal/models"
)

var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "etdemand_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etdemand_stage_failures_total",
			Help: "Pipeline stage failures by error kind",
		},
		[]string{"stage", "kind"},
	)

	ClimateFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etdemand_climate_fetches_total",
			Help: "Climate record fetches by source scheme",
		},
		[]string{"scheme", "status"},
	)

	ComparisonRSquared = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "etdemand_comparison_r_squared",
			Help: "R² of the last coupled vs reference comparison",
		},
		[]string{"model"},
	)

	ComparisonDiscrepancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "etdemand_comparison_discrepancy",
			Help: "Signed coupled minus reference pumping of the last comparison",
		},
		[]string{"model"},
	)

	AppliedVolume = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "etdemand_applied_volume_acre_feet",
			Help: "Total applied irrigation volume of the last comparison",
		},
		[]string{"model", "series"},
	)
)

// ObserveStage records a stage's duration and, when err is set, its failure.
func ObserveStage(stage string, start time.Time, err error, kind string) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		StageFailures.WithLabelValues(stage, kind).Inc()
	}
}

func RecordComparison(res *models.ComparisonResult) {
	ComparisonRSquared.WithLabelValues(res.Model).Set(res.RSquared)
	ComparisonDiscrepancy.WithLabelValues(res.Model).Set(res.Discrepancy)
	AppliedVolume.WithLabelValues(res.Model, "reference").Set(res.VolumeReference)
	AppliedVolume.WithLabelValues(res.Model, "coupled").Set(res.VolumeCoupled)
}

// WriteTextfile dumps the default registry in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
