package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	monitorCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "monitor",
		Name:      "cycles_total",
		Help:      "Completed deposit monitor cycles.",
	})

	monitorCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "simurgh",
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a deposit monitor cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	depositsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "monitor",
		Name:      "deposits_settled_total",
		Help:      "Wallets settled and credited by the monitor.",
	})

	monitorScanErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "monitor",
		Name:      "scan_errors_total",
		Help:      "Wallet scans that ended in an error.",
	})

	sweepsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "sweeper",
		Name:      "sweeps_completed_total",
		Help:      "Wallets successfully swept to the main wallet.",
	})

	sweepsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "sweeper",
		Name:      "sweeps_skipped_total",
		Help:      "Sweeps skipped, by reason.",
	}, []string{"reason"})

	sweepsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "sweeper",
		Name:      "sweeps_failed_total",
		Help:      "Sweep attempts that ended in an error.",
	})

	walletsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simurgh",
		Subsystem: "reaper",
		Name:      "wallets_expired_total",
		Help:      "Pending wallets expired by the reaper.",
	})
)
