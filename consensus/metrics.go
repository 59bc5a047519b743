package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus gauges and counters (no /metrics HTTP handler is mounted in
// this module), adapted from the
// teacher's hand-rolled registry/exporter in pkg/metrics to the standard
// client_golang collectors so the engine registers against the default
// registry like the rest of the pack does.
var (
	slotHeightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eth2030_slot_height",
		Help: "Slot of the current canonical head.",
	})
	justifiedEpochGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eth2030_justified_epoch",
		Help: "Current justified checkpoint epoch.",
	})
	finalizedEpochGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eth2030_finalized_epoch",
		Help: "Current finalized checkpoint epoch.",
	})
	attestationPoolSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eth2030_attestation_pool_size",
		Help: "Number of unincluded attestations held in the pool.",
	})
	forkChoiceReorgsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eth2030_fork_choice_reorgs_total",
		Help: "Number of times GetHead returned a root different from the previous call.",
	})
	epochTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eth2030_epoch_transitions_total",
		Help: "Number of epoch transitions processed by the state transition function.",
	})
	blockProcessingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eth2030_block_processing_errors_total",
		Help: "Number of blocks rejected by the state transition function.",
	})
)
