package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the download engine.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry        *prometheus.Registry
	segmentsFetched *prometheus.CounterVec
	segmentsFailed  *prometheus.CounterVec
	segmentRetries  *prometheus.CounterVec
	bytesDownloaded *prometheus.CounterVec
	tracksTotal     *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	activeTracks    prometheus.Gauge
}

// New creates and registers the engine metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	segmentsFetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_segments_fetched_total",
		Help: "Segments downloaded and handed to the writer",
	}, []string{"track"})
	segmentsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_segments_failed_total",
		Help: "Segments that exhausted every attempt",
	}, []string{"track"})
	segmentRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_segment_retries_total",
		Help: "Segment attempts after the first",
	}, []string{"track"})
	bytesDownloaded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_bytes_downloaded_total",
		Help: "Decrypted segment bytes downloaded",
	}, []string{"track"})
	tracksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_tracks_total",
		Help: "Finished tracks by final status",
	}, []string{"track", "status"})
	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_sessions_total",
		Help: "Finished download sessions by outcome",
	}, []string{"status"})
	activeTracks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hlsdl_active_tracks",
		Help: "Tracks currently downloading",
	})

	registry.MustRegister(
		segmentsFetched,
		segmentsFailed,
		segmentRetries,
		bytesDownloaded,
		tracksTotal,
		sessionsTotal,
		activeTracks,
	)

	return &Metrics{
		registry:        registry,
		segmentsFetched: segmentsFetched,
		segmentsFailed:  segmentsFailed,
		segmentRetries:  segmentRetries,
		bytesDownloaded: bytesDownloaded,
		tracksTotal:     tracksTotal,
		sessionsTotal:   sessionsTotal,
		activeTracks:    activeTracks,
	}
}

// SegmentFetched counts one downloaded segment of n bytes.
func (m *Metrics) SegmentFetched(track string, n int) {
	if m == nil {
		return
	}
	m.segmentsFetched.WithLabelValues(track).Inc()
	m.bytesDownloaded.WithLabelValues(track).Add(float64(n))
}

func (m *Metrics) SegmentFailed(track string) {
	if m == nil {
		return
	}
	m.segmentsFailed.WithLabelValues(track).Inc()
}

func (m *Metrics) SegmentRetried(track string) {
	if m == nil {
		return
	}
	m.segmentRetries.WithLabelValues(track).Inc()
}

// TrackStarted increments the active tracks gauge.
func (m *Metrics) TrackStarted() {
	if m == nil {
		return
	}
	m.activeTracks.Inc()
}

// TrackFinished decrements the active tracks gauge and records the status.
func (m *Metrics) TrackFinished(track, status string) {
	if m == nil {
		return
	}
	m.activeTracks.Dec()
	m.tracksTotal.WithLabelValues(track, status).Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
