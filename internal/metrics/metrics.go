// Package metrics provides Prometheus metrics for monitoring the booking
// scheduler and its task set.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clhuang/ticketd/internal/task"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketd_attempts_total",
			Help: "Total number of booking attempts by outcome",
		},
		[]string{"outcome"},
	)
	AttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketd_attempt_duration_seconds",
			Help:    "Booking attempt duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	ScanCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketd_scan_cycles_total",
			Help: "Total number of scheduler scan cycles",
		},
	)
	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketd_scan_errors_total",
			Help: "Total number of scan cycles that ended in an error",
		},
	)
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticketd_tasks",
			Help: "Current number of tasks by status",
		},
		[]string{"status"},
	)
	TasksExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketd_tasks_expired_total",
			Help: "Total number of tasks marked expired",
		},
	)
	TasksPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketd_tasks_purged_total",
			Help: "Total number of soft-deleted tasks permanently purged",
		},
	)
	SchedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketd_scheduler_running",
			Help: "Whether the scheduling loop is running (1) or stopped (0)",
		},
	)
)

func RecordAttempt(outcome string, duration time.Duration) {
	AttemptsTotal.WithLabelValues(outcome).Inc()
	AttemptDuration.Observe(duration.Seconds())
}

func RecordScanCycle() {
	ScanCycles.Inc()
}

func RecordScanError() {
	ScanErrors.Inc()
}

func RecordTasksExpired(count int) {
	TasksExpired.Add(float64(count))
}

func RecordTasksPurged(count int) {
	TasksPurged.Add(float64(count))
}

func SetSchedulerRunning(running bool) {
	if running {
		SchedulerRunning.Set(1)
	} else {
		SchedulerRunning.Set(0)
	}
}

func UpdateTaskGauges(counts map[task.Status]int) {
	TasksByStatus.Reset()
	for status, count := range counts {
		TasksByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}
