package app

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prognos",
		Subsystem: "import",
		Name:      "commits_total",
		Help:      "Total number of import commit attempts broken down by outcome status.",
	}, []string{"status"})

	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prognos",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Total number of import rows processed broken down by outcome.",
	}, []string{"outcome"})

	ledgerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prognos",
		Subsystem: "ledger",
		Name:      "transitions_total",
		Help:      "Total number of forecast workflow actions broken down by action and result.",
	}, []string{"action", "result"})

	sweepLocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prognos",
		Subsystem: "ledger",
		Name:      "sweep_locks_total",
		Help:      "Total number of records locked by the deadline sweep broken down by kind.",
	}, []string{"kind"})

	storageConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prognos",
		Subsystem: "storage",
		Name:      "conflicts_total",
		Help:      "Total number of uniqueness conflicts broken down by operation.",
	}, []string{"operation"})
)

func recordImportCommit(status string, created, updated, skipped, failed int) {
	importCommits.WithLabelValues(status).Inc()
	importRows.WithLabelValues("created").Add(float64(created))
	importRows.WithLabelValues("updated").Add(float64(updated))
	importRows.WithLabelValues("skipped").Add(float64(skipped))
	importRows.WithLabelValues("failed").Add(float64(failed))
}

func recordTransition(action string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrDeadlineExceeded):
		result = "deadline_exceeded"
	case errors.Is(err, ErrRecordLocked):
		result = "locked"
	case errors.Is(err, ErrInvalidTransition):
		result = "invalid"
	default:
		result = "error"
	}
	ledgerTransitions.WithLabelValues(action, result).Inc()
}

func recordSweepLock(kind string, n int) {
	if n <= 0 {
		return
	}
	sweepLocks.WithLabelValues(kind).Add(float64(n))
}

func recordStorageConflict(operation string, err error) {
	if !errors.Is(err, ErrStorageConflict) {
		return
	}
	if operation == "" {
		operation = "other"
	}
	storageConflicts.WithLabelValues(operation).Inc()
}
