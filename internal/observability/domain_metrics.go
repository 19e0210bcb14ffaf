package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Total number of natural-language questions processed, by outcome.",
		},
		[]string{"status"},
	)
	blockedQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_blocked_queries_total",
			Help: "Total number of queries rejected by the guardrail, by matched keyword.",
		},
		[]string{"keyword"},
	)
	modelFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_model_failures_total",
			Help: "Total number of failed model calls, by reason.",
		},
		[]string{"reason"},
	)
	questionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_question_latency_ms",
			Help:    "End-to-end ask pipeline latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	translateLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_translate_latency_ms",
			Help:    "Natural-language to SQL translation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
	executeLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_execute_latency_ms",
			Help:    "Query execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_result_rows",
			Help:    "Row counts of executed query results.",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		},
	)
	schemaTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_schema_tables",
			Help: "Table count of the current schema snapshot.",
		},
	)
	schemaRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_schema_refreshes_total",
			Help: "Total number of schema snapshot rebuilds.",
		},
	)
	analysesSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_analyses_saved_total",
			Help: "Total number of saved analyses written.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		blockedQueriesTotal,
		modelFailuresTotal,
		questionLatencyMs,
		translateLatencyMs,
		executeLatencyMs,
		resultRows,
		schemaTables,
		schemaRefreshesTotal,
		analysesSavedTotal,
	)
}

func ObserveQuestion(status string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(status).Inc()
	questionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveTranslate(elapsed time.Duration) {
	translateLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveExecution(rows int, elapsed time.Duration) {
	executeLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if rows >= 0 {
		resultRows.Observe(float64(rows))
	}
}

func IncrementBlockedQuery(keyword string) {
	blockedQueriesTotal.WithLabelValues(keyword).Inc()
}

func IncrementModelFailure(reason string) {
	modelFailuresTotal.WithLabelValues(reason).Inc()
}

func SetSchemaTables(count int) {
	if count < 0 {
		count = 0
	}
	schemaTables.Set(float64(count))
}

func IncrementSchemaRefresh() {
	schemaRefreshesTotal.Inc()
}

func IncrementAnalysisSaved() {
	analysesSavedTotal.Inc()
}
