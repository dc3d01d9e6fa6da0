package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabscan_jobs_submitted_total",
			Help: "Total number of accepted job submissions",
		},
	)

	jobsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabscan_jobs_rejected_total",
			Help: "Total number of submissions refused by admission control",
		},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabscan_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"state"},
	)

	jobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabscan_jobs_running",
			Help: "Number of jobs currently running",
		},
	)

	jobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabscan_jobs_queued",
			Help: "Number of admitted jobs waiting for a worker",
		},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabscan_job_duration_seconds",
			Help:    "Wall-clock job duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"state"},
	)

	pageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabscan_pages_total",
			Help: "Total number of processed pages by outcome",
		},
		[]string{"status"}, // success, degraded, failed
	)

	tableRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabscan_table_rows",
			Help:    "Rows assembled per job",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		},
	)
)
