// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace       = "qacache"
	MetricsSubsystemSystem = "system"
	MetricsSubsystemAPI    = "api"
	MetricsSubsystemCache  = "cache"
	MetricsSubsystemLLM    = "llm"
	MetricsSubsystemEmbed  = "embeddings"
	MetricsVersionLabel    = "version"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)

	IncrementCacheHits()
	IncrementCacheMisses()
	IncrementCacheStores()
	IncrementDuplicateSkips()
	AddParaphrasesStored(count int)
	IncrementStoreFailures()
	ObserveLookupDuration(elapsed float64)
	ObserveStoreDuration(elapsed float64)

	IncrementLLMRequests()
	IncrementLLMErrors()
	IncrementEmbeddingRequests()
	IncrementEmbeddingErrors()
}

// metrics used to instrumentate metrics in prometheus.
type metrics struct {
	registry *prometheus.Registry

	serviceStartTime prometheus.Gauge
	serviceInfo      prometheus.Gauge

	apiTime *prometheus.HistogramVec

	cacheHitsTotal      prometheus.Counter
	cacheMissesTotal    prometheus.Counter
	cacheStoresTotal    prometheus.Counter
	duplicateSkipsTotal prometheus.Counter
	paraphrasesTotal    prometheus.Counter
	storeFailuresTotal  prometheus.Counter
	lookupTime          prometheus.Histogram
	storeTime           prometheus.Histogram

	llmRequestsTotal   prometheus.Counter
	llmErrorsTotal     prometheus.Counter
	embedRequestsTotal prometheus.Counter
	embedErrorsTotal   prometheus.Counter
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(version string) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.serviceStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "service_start_timestamp_seconds",
		Help:      "The time the service started.",
	})
	m.serviceStartTime.SetToCurrentTime()
	m.registry.MustRegister(m.serviceStartTime)

	m.serviceInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "service_info",
		Help:      "The service version.",
		ConstLabels: map[string]string{
			MetricsVersionLabel: version,
		},
	})
	m.serviceInfo.Set(1)
	m.registry.MustRegister(m.serviceInfo)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "hits_total",
		Help:      "The total number of lookups answered from the cache.",
	})
	m.registry.MustRegister(m.cacheHitsTotal)

	m.cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "misses_total",
		Help:      "The total number of lookups that missed the cache.",
	})
	m.registry.MustRegister(m.cacheMissesTotal)

	m.cacheStoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "stores_total",
		Help:      "The total number of canonical entries written.",
	})
	m.registry.MustRegister(m.cacheStoresTotal)

	m.duplicateSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "duplicate_skips_total",
		Help:      "The total number of writes skipped as near-duplicates.",
	})
	m.registry.MustRegister(m.duplicateSkipsTotal)

	m.paraphrasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "paraphrases_total",
		Help:      "The total number of paraphrase entries written.",
	})
	m.registry.MustRegister(m.paraphrasesTotal)

	m.storeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "store_failures_total",
		Help:      "The total number of hard store failures.",
	})
	m.registry.MustRegister(m.storeFailuresTotal)

	m.lookupTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "lookup_time_seconds",
		Help:      "Time to execute a cache lookup.",
	})
	m.registry.MustRegister(m.lookupTime)

	m.storeTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "store_time_seconds",
		Help:      "Time to execute a cache store.",
	})
	m.registry.MustRegister(m.storeTime)

	m.llmRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "requests_total",
		Help:      "The total number of LLM requests.",
	})
	m.registry.MustRegister(m.llmRequestsTotal)

	m.llmErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "errors_total",
		Help:      "The total number of failed LLM requests.",
	})
	m.registry.MustRegister(m.llmErrorsTotal)

	m.embedRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemEmbed,
		Name:      "requests_total",
		Help:      "The total number of embedding requests.",
	})
	m.registry.MustRegister(m.embedRequestsTotal)

	m.embedErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemEmbed,
		Name:      "errors_total",
		Help:      "The total number of failed embedding requests.",
	})
	m.registry.MustRegister(m.embedErrorsTotal)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	if m != nil {
		m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
	}
}

func (m *metrics) IncrementCacheHits() {
	if m != nil {
		m.cacheHitsTotal.Inc()
	}
}

func (m *metrics) IncrementCacheMisses() {
	if m != nil {
		m.cacheMissesTotal.Inc()
	}
}

func (m *metrics) IncrementCacheStores() {
	if m != nil {
		m.cacheStoresTotal.Inc()
	}
}

func (m *metrics) IncrementDuplicateSkips() {
	if m != nil {
		m.duplicateSkipsTotal.Inc()
	}
}

func (m *metrics) AddParaphrasesStored(count int) {
	if m != nil && count > 0 {
		m.paraphrasesTotal.Add(float64(count))
	}
}

func (m *metrics) IncrementStoreFailures() {
	if m != nil {
		m.storeFailuresTotal.Inc()
	}
}

func (m *metrics) ObserveLookupDuration(elapsed float64) {
	if m != nil {
		m.lookupTime.Observe(elapsed)
	}
}

func (m *metrics) ObserveStoreDuration(elapsed float64) {
	if m != nil {
		m.storeTime.Observe(elapsed)
	}
}

func (m *metrics) IncrementLLMRequests() {
	if m != nil {
		m.llmRequestsTotal.Inc()
	}
}

func (m *metrics) IncrementLLMErrors() {
	if m != nil {
		m.llmErrorsTotal.Inc()
	}
}

func (m *metrics) IncrementEmbeddingRequests() {
	if m != nil {
		m.embedRequestsTotal.Inc()
	}
}

func (m *metrics) IncrementEmbeddingErrors() {
	if m != nil {
		m.embedErrorsTotal.Inc()
	}
}
