package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SegmentFetched("video", 100)
	m.SegmentFetched("video", 50)
	m.SegmentFailed("audio")
	m.SegmentRetried("audio")
	m.SegmentRetried("audio")
	m.TrackStarted()
	m.TrackStarted()
	m.TrackFinished("video", "complete")
	m.SessionFinished("ok")

	if got := testutil.ToFloat64(m.segmentsFetched.WithLabelValues("video")); got != 2 {
		t.Fatalf("want 2 fetched, got %v", got)
	}
	if got := testutil.ToFloat64(m.bytesDownloaded.WithLabelValues("video")); got != 150 {
		t.Fatalf("want 150 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.segmentsFailed.WithLabelValues("audio")); got != 1 {
		t.Fatalf("want 1 failed, got %v", got)
	}
	if got := testutil.ToFloat64(m.segmentRetries.WithLabelValues("audio")); got != 2 {
		t.Fatalf("want 2 retries, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeTracks); got != 1 {
		t.Fatalf("want 1 active track, got %v", got)
	}
	if got := testutil.ToFloat64(m.tracksTotal.WithLabelValues("video", "complete")); got != 1 {
		t.Fatalf("want 1 complete track, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("want 1 session, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SegmentFetched("video", 1)
	m.SegmentFailed("video")
	m.SegmentRetried("video")
	m.TrackStarted()
	m.TrackFinished("video", "failed")
	m.SessionFinished("failed")
}

func TestHandler(t *testing.T) {
	m := New()
	called := false
	m.SegmentFetched("audio", 10)
	srv := httptest.NewServer(m.Handler(func() { called = true }))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !called {
		t.Fatal("updateGauges not called")
	}
	if !strings.Contains(string(body), `hlsdl_segments_fetched_total{track="audio"} 1`) {
		t.Fatalf("metric missing from scrape:\n%s", body)
	}
}
