package microservice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics are the pipeline counters. Each process registers the full set on its
// own registry and uses the ones that apply to it.
type Metrics struct {
	Registry *prometheus.Registry

	Dispatched        *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	Processed         *prometheus.CounterVec
	ClassifyErrors    *prometheus.CounterVec
	MalformedMessages prometheus.Counter
	ClassifyDuration  *prometheus.HistogramVec
}

// NewMetrics creates the pipeline metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Name:      "dispatched_total",
			Help:      "Images published by the dispatcher.",
		}, []string{"class"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Name:      "publish_failures_total",
			Help:      "Dispatch attempts that failed to read or publish an image.",
		}, []string{"class"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Name:      "processed_total",
			Help:      "Deliveries classified by a worker, sentinel results included.",
		}, []string{"classifier"}),
		ClassifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Name:      "classification_errors_total",
			Help:      "Deliveries that produced the sentinel result.",
		}, []string{"classifier"}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Name:      "malformed_messages_total",
			Help:      "Deliveries discarded because the envelope could not be decoded.",
		}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagepipeline",
			Name:      "classification_duration_seconds",
			Help:      "Time spent preprocessing and running inference per delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"classifier"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Dispatched,
		m.PublishFailures,
		m.Processed,
		m.ClassifyErrors,
		m.MalformedMessages,
		m.ClassifyDuration,
	)
	return m
}
