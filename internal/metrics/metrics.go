// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "missingtext"

var (
	documentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed by terminal state and format",
		},
		[]string{"state", "format"},
	)

	documentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_duration_seconds",
			Help:      "Wall-clock processing time per document",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)

	pagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Normalized pages by extraction method",
		},
		[]string{"method"},
	)

	ocrCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_calls_total",
			Help:      "OCR engine invocations by engine and outcome",
		},
		[]string{"engine", "status"},
	)

	ocrDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_duration_seconds",
			Help:      "OCR duration per page",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"engine"},
	)

	ocrCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_cache_total",
			Help:      "OCR cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the batch queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		documentsTotal, documentDuration,
		pagesTotal,
		ocrCallsTotal, ocrDuration, ocrCacheTotal,
		queueDepth,
		httpRequestDuration, httpRequestsTotal,
	)
}

// ObserveDocument records a finished (or rejected) document.
func ObserveDocument(state, format string, d time.Duration) {
	documentsTotal.WithLabelValues(state, format).Inc()
	documentDuration.WithLabelValues(format).Observe(d.Seconds())
}

// IncPage counts one normalized page.
func IncPage(method string) {
	pagesTotal.WithLabelValues(method).Inc()
}

// ObserveOCR records one engine call. status is ok, error or timeout.
func ObserveOCR(engine, status string, d time.Duration) {
	ocrCallsTotal.WithLabelValues(engine, status).Inc()
	ocrDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// IncCache counts an OCR cache lookup.
func IncCache(result string) {
	ocrCacheTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth publishes the current batch queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
