package throughput

import (
	"sync"
	"time"
)

const defaultWindow = 5

// Estimator tracks download speed over a sliding window of recent segments
// and extrapolates the remaining time and total size of a track.
type Estimator struct {
	mu       sync.Mutex
	window   int
	total    int
	samples  []float64 // bytes per second, ring buffer
	next     int
	observed int
	bytes    int64
}

// Snapshot is a point-in-time view of an Estimator.
type Snapshot struct {
	SegmentsObserved   int
	TotalSegments      int
	BytesObserved      int64
	SpeedMBps          float64
	ETA                time.Duration
	EstimatedTotalSize int64
}

// New creates an Estimator for a track of totalSegments segments. A
// non-positive window uses the default of 5 samples.
func New(window, totalSegments int) *Estimator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Estimator{window: window, total: totalSegments, samples: make([]float64, 0, window)}
}

// Observe records one downloaded segment of n bytes that took d.
func (e *Estimator) Observe(n int64, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observed++
	e.bytes += n
	if d <= 0 {
		return
	}
	speed := float64(n) / d.Seconds()
	if len(e.samples) < e.window {
		e.samples = append(e.samples, speed)
		return
	}
	e.samples[e.next] = speed
	e.next = (e.next + 1) % e.window
}

// EstimateRemaining returns the windowed mean speed in MB/s and the time the
// unobserved segments should take at that speed. Both are zero until a
// timed sample exists.
func (e *Estimator) EstimateRemaining() (speedMBps float64, eta time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainingLocked()
}

func (e *Estimator) remainingLocked() (float64, time.Duration) {
	if len(e.samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range e.samples {
		sum += s
	}
	bps := sum / float64(len(e.samples))
	if bps <= 0 {
		return 0, 0
	}
	remaining := e.total - e.observed
	if remaining <= 0 || e.observed == 0 {
		return bps / 1e6, 0
	}
	avgSize := float64(e.bytes) / float64(e.observed)
	secs := avgSize * float64(remaining) / bps
	return bps / 1e6, time.Duration(secs * float64(time.Second))
}

// EstimatedTotalSize extrapolates the track size from the mean observed
// segment size. It is an estimate and never the number of bytes written.
func (e *Estimator) EstimatedTotalSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalSizeLocked()
}

func (e *Estimator) totalSizeLocked() int64 {
	if e.observed == 0 {
		return 0
	}
	return int64(float64(e.bytes) / float64(e.observed) * float64(e.total))
}

// BytesObserved returns the bytes passed to Observe so far.
func (e *Estimator) BytesObserved() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bytes
}

func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	speed, eta := e.remainingLocked()
	return Snapshot{
		SegmentsObserved:   e.observed,
		TotalSegments:      e.total,
		BytesObserved:      e.bytes,
		SpeedMBps:          speed,
		ETA:                eta,
		EstimatedTotalSize: e.totalSizeLocked(),
	}
}
