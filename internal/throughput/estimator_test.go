package throughput

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestEstimateRemainingEmpty(t *testing.T) {
	e := New(0, 10)
	speed, eta := e.EstimateRemaining()
	if speed != 0 || eta != 0 {
		t.Fatalf("want zero estimate, got %v %v", speed, eta)
	}
	if got := e.EstimatedTotalSize(); got != 0 {
		t.Fatalf("want 0 total size, got %d", got)
	}
}

func TestEstimateRemaining(t *testing.T) {
	e := New(5, 10)
	for i := 0; i < 4; i++ {
		e.Observe(1_000_000, time.Second)
	}
	speed, eta := e.EstimateRemaining()
	if math.Abs(speed-1.0) > 1e-9 {
		t.Fatalf("want 1 MB/s, got %v", speed)
	}
	if eta != 6*time.Second {
		t.Fatalf("want 6s eta, got %v", eta)
	}
	if got := e.EstimatedTotalSize(); got != 10_000_000 {
		t.Fatalf("want 10MB estimate, got %d", got)
	}
	if got := e.BytesObserved(); got != 4_000_000 {
		t.Fatalf("want 4MB observed, got %d", got)
	}
}

func TestWindowDropsOldSamples(t *testing.T) {
	e := New(2, 100)
	e.Observe(1_000_000, time.Second)
	e.Observe(4_000_000, time.Second)
	e.Observe(4_000_000, time.Second)
	speed, _ := e.EstimateRemaining()
	if math.Abs(speed-4.0) > 1e-9 {
		t.Fatalf("want window mean 4 MB/s, got %v", speed)
	}
}

func TestSnapshotAfterCompletion(t *testing.T) {
	e := New(3, 2)
	e.Observe(500, 100*time.Millisecond)
	e.Observe(1500, 100*time.Millisecond)
	s := e.Snapshot()
	if s.SegmentsObserved != 2 || s.TotalSegments != 2 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.ETA != 0 {
		t.Fatalf("want zero eta when done, got %v", s.ETA)
	}
	if s.EstimatedTotalSize != 2000 || s.BytesObserved != 2000 {
		t.Fatalf("unexpected sizes: %+v", s)
	}
}

func TestObserveConcurrent(t *testing.T) {
	e := New(5, 1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				e.Observe(10, time.Millisecond)
			}
		}()
	}
	wg.Wait()
	if got := e.BytesObserved(); got != 10_000 {
		t.Fatalf("want 10000 bytes, got %d", got)
	}
}
