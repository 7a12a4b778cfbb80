package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TransformBuckets covers encode latencies from 5ms to 30s.
var TransformBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics is a Prometheus-backed implementation of every hook interface.
type Metrics struct {
	gatherer prometheus.Gatherer

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	TransformsTotal   *prometheus.CounterVec
	TransformDuration *prometheus.HistogramVec
	TransformBytes    *prometheus.CounterVec
	TransformsActive  prometheus.Gauge
	CacheEventsTotal  *prometheus.CounterVec
	BuildImagesTotal  *prometheus.CounterVec
	BuildDuration     prometheus.Histogram
	RemoteTotal       *prometheus.CounterVec
	RemoteDuration    *prometheus.HistogramVec
}

// NewMetrics creates the sitepix collectors and registers them, along
// with the Go runtime and process collectors, with reg.
// Pass a fresh prometheus.NewRegistry() in tests to avoid duplicate
// registration panics.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepix_requests_total",
			Help: "Image endpoint requests",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitepix_request_duration_seconds",
			Help:    "Image endpoint request duration",
			Buckets: TransformBuckets,
		}, []string{"method"}),
		TransformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepix_transforms_total",
			Help: "Codec invocations",
		}, []string{"codec", "status"}),
		TransformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitepix_transform_duration_seconds",
			Help:    "Codec invocation duration",
			Buckets: TransformBuckets,
		}, []string{"codec"}),
		TransformBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepix_transform_output_bytes_total",
			Help: "Bytes produced by codecs",
		}, []string{"codec"}),
		TransformsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitepix_transforms_active",
			Help: "Codec invocations in flight",
		}),
		CacheEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepix_cache_events_total",
			Help: "Cache lookups and writes",
		}, []string{"kind", "event"}),
		BuildImagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepix_build_images_total",
			Help: "Images processed by static builds",
		}, []string{"result"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitepix_build_duration_seconds",
			Help:    "Static build duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		RemoteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepix_remote_requests_total",
			Help: "Remote source fetches",
		}, []string{"host", "status"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitepix_remote_request_duration_seconds",
			Help:    "Remote source fetch duration",
			Buckets: TransformBuckets,
		}, []string{"host"}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TransformsTotal,
		m.TransformDuration,
		m.TransformBytes,
		m.TransformsActive,
		m.CacheEventsTotal,
		m.BuildImagesTotal,
		m.BuildDuration,
		m.RemoteTotal,
		m.RemoteDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) OnTransformStart(ctx context.Context, codec, key string) {
	m.TransformsActive.Inc()
}

func (m *Metrics) OnTransformComplete(ctx context.Context, codec, key string, size int, duration time.Duration, err error) {
	m.TransformsActive.Dec()
	m.TransformsTotal.WithLabelValues(codec, outcome(err)).Inc()
	m.TransformDuration.WithLabelValues(codec).Observe(duration.Seconds())
	if err == nil {
		m.TransformBytes.WithLabelValues(codec).Add(float64(size))
	}
}

func (m *Metrics) OnBuildStart(ctx context.Context, entries int) {}

func (m *Metrics) OnBuildComplete(ctx context.Context, written, failed int, duration time.Duration) {
	m.BuildImagesTotal.WithLabelValues("written").Add(float64(written))
	m.BuildImagesTotal.WithLabelValues("failed").Add(float64(failed))
	m.BuildDuration.Observe(duration.Seconds())
}

func (m *Metrics) OnCacheHit(ctx context.Context, kind string) {
	m.CacheEventsTotal.WithLabelValues(kind, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(ctx context.Context, kind string) {
	m.CacheEventsTotal.WithLabelValues(kind, "miss").Inc()
}

func (m *Metrics) OnCacheSet(ctx context.Context, kind string, size int) {
	m.CacheEventsTotal.WithLabelValues(kind, "set").Inc()
}

func (m *Metrics) OnRequest(ctx context.Context, method, host, path string) {}

func (m *Metrics) OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration) {
	m.RemoteTotal.WithLabelValues(host, statusClass(statusCode)).Inc()
	m.RemoteDuration.WithLabelValues(host).Observe(duration.Seconds())
}

func (m *Metrics) OnError(ctx context.Context, method, host, path string, err error) {
	m.RemoteTotal.WithLabelValues(host, "error").Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	_ TransformHooks = (*Metrics)(nil)
	_ BuildHooks     = (*Metrics)(nil)
	_ CacheHooks     = (*Metrics)(nil)
	_ HTTPHooks      = (*Metrics)(nil)
)
