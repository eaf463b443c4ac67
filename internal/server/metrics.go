package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowbase_ingests_total",
		Help: "Content ingestion attempts by source type and result.",
	}, []string{"source_type", "result"})

	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowbase_questions_total",
		Help: "Questions answered, split by whether context was found.",
	}, []string{"result"})

	ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knowbase_ingest_duration_seconds",
		Help:    "End to end ingestion latency per source type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source_type"})
)
