package fetch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hlsdl/internal/decrypt"
	"hlsdl/internal/hls"
	"hlsdl/internal/platform/logger"
	"hlsdl/internal/platform/metrics"
	"hlsdl/internal/throughput"
)

const (
	defaultMaxAttempts  = 3
	defaultStallWindow  = 30 * time.Second
	defaultRetryDelay   = 300 * time.Millisecond
	minSegmentWorkers   = 4
	maxVideoWorkers     = 16
	defaultAudioWorkers = 4
)

// Status is the final state of a track download.
type Status string

const (
	StatusComplete Status = "complete"
	StatusStalled  Status = "stalled"
	StatusAborted  Status = "aborted"
	StatusFailed   Status = "failed"
)

// Fetcher performs a single segment request. *netx.Client implements it.
type Fetcher interface {
	FetchSegment(ctx context.Context, rawURL string, offset, length int64) ([]byte, error)
}

// Progress is reported after each segment the writer handles.
type Progress struct {
	Kind               string
	Written            int
	Failed             int
	Total              int
	BytesWritten       int64
	SpeedMBps          float64
	ETA                time.Duration
	EstimatedTotalSize int64
}

// Options configures one track download. Zero values select defaults.
type Options struct {
	// Kind labels the track in logs and metrics ("video", "audio", "subtitle").
	Kind    string
	Workers int
	// MaxAttempts bounds the requests made for one segment.
	MaxAttempts int
	RetryDelay  time.Duration
	StallWindow time.Duration
	// CompletionThreshold is the percentage of segments that must be written
	// for the track to count as complete. Defaults to 100.
	CompletionThreshold float64
	// Hosts, when set, replace the segment host in rotation.
	Hosts []string
	// PerSegmentIV derives the IV of each segment from its media sequence
	// number instead of using the decryptor's IV.
	PerSegmentIV bool
	OnProgress   func(Progress)
}

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = "video"
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers(o.Kind)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.StallWindow <= 0 {
		o.StallWindow = defaultStallWindow
	}
	if o.CompletionThreshold <= 0 || o.CompletionThreshold > 100 {
		o.CompletionThreshold = 100
	}
	return o
}

// DefaultWorkers derives a worker count from the CPU count. Video tracks get
// more workers than audio and subtitle tracks.
func DefaultWorkers(kind string) int {
	cpu := runtime.NumCPU()
	if kind != "video" {
		if cpu < defaultAudioWorkers {
			return cpu + 1
		}
		return defaultAudioWorkers
	}
	n := cpu * 2
	if n < minSegmentWorkers {
		n = minSegmentWorkers
	}
	if n > maxVideoWorkers {
		n = maxVideoWorkers
	}
	return n
}

// TrackResult describes the outcome of Download.
type TrackResult struct {
	// Path is the finished file. It exists only when Status is complete.
	Path   string
	Status Status
	// FailedSegmentIndices lists segments that failed every attempt.
	FailedSegmentIndices []int
	// AbandonedSegmentIndices lists segments never written because the
	// track was declared complete after a stall.
	AbandonedSegmentIndices []int
	SegmentsWritten         int
	TotalSegments           int
	BytesWritten            int64
}

type segmentResult struct {
	index int
	data  []byte
	err   error
}

// Orchestrator downloads the segments of one track with a bounded worker
// pool and writes them to disk strictly in index order.
type Orchestrator struct {
	net     Fetcher
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates an Orchestrator. A nil logger discards logs and nil metrics
// are not recorded.
func New(net Fetcher, log *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	return &Orchestrator{net: net, log: log, metrics: m}
}

// Download fetches segments into outPath.
//
// Data is appended to outPath+".part" as contiguous indices become available
// and the file is renamed to outPath only when the track completes, so an
// existing outPath always holds a finished track. dec may be nil for clear
// segments.
func (o *Orchestrator) Download(ctx context.Context, segments []hls.Segment, dec *decrypt.Decryptor, outPath string, opts Options) (TrackResult, error) {
	opts = opts.withDefaults()
	total := len(segments)
	res := TrackResult{Path: outPath, TotalSegments: total, Status: StatusFailed}
	if total == 0 {
		return res, fmt.Errorf("%w: track has no segments", ErrInsufficientSegments)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return res, err
	}
	partPath := outPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return res, err
	}

	o.metrics.TrackStarted()
	log := o.log.With(slog.String("track", opts.Kind), slog.String("path", outPath))
	if dec != nil {
		log = log.With(slog.String("method", string(dec.Method())))
	}
	log.Debug("track download started", slog.Int("segments", total), slog.Int("workers", opts.Workers))

	trackCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	est := throughput.New(0, total)
	var lastProgress atomic.Int64
	lastProgress.Store(time.Now().UnixNano())

	go watchStall(trackCtx, abort, &lastProgress, opts.StallWindow)

	results := make(chan segmentResult, opts.Workers)
	var next atomic.Int64
	var wg sync.WaitGroup
	workers := opts.Workers
	if workers > total {
		workers = total
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trackCtx.Err() == nil {
				i := int(next.Add(1) - 1)
				if i >= total {
					return
				}
				data, err := o.fetchSegment(trackCtx, segments[i], dec, opts, est)
				select {
				case results <- segmentResult{index: i, data: data, err: err}:
				case <-trackCtx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		pending  segmentHeap
		expected int
		failed   []int
		isFailed = make(map[int]bool)
	)
	report := func() {
		if opts.OnProgress == nil {
			return
		}
		s := est.Snapshot()
		opts.OnProgress(Progress{
			Kind:               opts.Kind,
			Written:            res.SegmentsWritten,
			Failed:             len(failed),
			Total:              total,
			BytesWritten:       res.BytesWritten,
			SpeedMBps:          s.SpeedMBps,
			ETA:                s.ETA,
			EstimatedTotalSize: s.EstimatedTotalSize,
		})
	}
	report()

	for r := range results {
		if trackCtx.Err() != nil {
			continue
		}
		lastProgress.Store(time.Now().UnixNano())
		if r.err != nil {
			failed = append(failed, r.index)
			isFailed[r.index] = true
			o.metrics.SegmentFailed(opts.Kind)
			log.Warn("segment failed", slog.Int("index", r.index), slog.Any("err", r.err))
			if !meetsThreshold(total-len(failed), total, opts.CompletionThreshold) {
				abort(ErrInsufficientSegments)
				continue
			}
		}
		heap.Push(&pending, r)
		for pending.Len() > 0 && pending[0].index == expected {
			head := heap.Pop(&pending).(segmentResult)
			expected++
			if head.err != nil {
				continue
			}
			if _, err := f.Write(head.data); err != nil {
				abort(fmt.Errorf("write %s: %w", partPath, err))
				break
			}
			res.SegmentsWritten++
			res.BytesWritten += int64(len(head.data))
		}
		report()
	}

	cause := context.Cause(trackCtx)
	var flushErr error
	stalled := expected < total && errors.Is(cause, ErrStallTimeout)
	if stalled && meetsThreshold(res.SegmentsWritten+pending.successes(), total, opts.CompletionThreshold) {
		// Segments that arrived behind a hung index are still written in
		// order; the gaps are abandoned.
		for pending.Len() > 0 {
			head := heap.Pop(&pending).(segmentResult)
			res.AbandonedSegmentIndices = appendAbandoned(res.AbandonedSegmentIndices, expected, head.index, isFailed)
			expected = head.index + 1
			if head.err != nil {
				continue
			}
			if _, err := f.Write(head.data); err != nil {
				flushErr = fmt.Errorf("write %s: %w", partPath, err)
				break
			}
			res.SegmentsWritten++
			res.BytesWritten += int64(len(head.data))
		}
		res.AbandonedSegmentIndices = appendAbandoned(res.AbandonedSegmentIndices, expected, total, isFailed)
		report()
	}

	sort.Ints(failed)
	res.FailedSegmentIndices = failed
	closeErr := f.Close()

	var outErr error
	switch {
	case flushErr != nil:
		outErr = flushErr
	case expected == total && !stalled:
		if !meetsThreshold(res.SegmentsWritten, total, opts.CompletionThreshold) {
			outErr = fmt.Errorf("%w: %d of %d segments failed", ErrInsufficientSegments, len(failed), total)
			break
		}
		res.Status = StatusComplete
	case stalled:
		if !meetsThreshold(res.SegmentsWritten, total, opts.CompletionThreshold) {
			res.Status = StatusStalled
			outErr = ErrStallTimeout
			break
		}
		res.Status = StatusComplete
		log.Warn("track stalled after reaching completion threshold",
			slog.Int("written", res.SegmentsWritten),
			slog.Any("abandoned", res.AbandonedSegmentIndices))
	case errors.Is(cause, ErrInsufficientSegments):
		outErr = fmt.Errorf("%w: %d of %d segments failed", ErrInsufficientSegments, len(failed), total)
	case ctx.Err() != nil:
		res.Status = StatusAborted
		outErr = ErrCancelled
	default:
		outErr = cause
	}

	if res.Status == StatusComplete {
		if closeErr != nil {
			res.Status = StatusFailed
			outErr = fmt.Errorf("close %s: %w", partPath, closeErr)
		} else if err := os.Rename(partPath, outPath); err != nil {
			res.Status = StatusFailed
			outErr = err
		}
	}

	o.metrics.TrackFinished(opts.Kind, string(res.Status))
	if outErr != nil {
		log.Warn("track download ended", slog.String("status", string(res.Status)), slog.Any("err", outErr))
		return res, outErr
	}
	log.Info("track download complete",
		slog.Int("written", res.SegmentsWritten),
		slog.Int("failed", len(res.FailedSegmentIndices)),
		slog.Int64("bytes", res.BytesWritten))
	return res, nil
}

// appendAbandoned adds the indices in [from, to) that did not fail.
func appendAbandoned(dst []int, from, to int, isFailed map[int]bool) []int {
	for i := from; i < to; i++ {
		if !isFailed[i] {
			dst = append(dst, i)
		}
	}
	return dst
}

// watchStall cancels the track with ErrStallTimeout when the writer's
// progress timestamp is older than window.
func watchStall(ctx context.Context, abort context.CancelCauseFunc, last *atomic.Int64, window time.Duration) {
	tick := window / 10
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if time.Since(time.Unix(0, last.Load())) >= window {
				abort(ErrStallTimeout)
				return
			}
		}
	}
}

func meetsThreshold(written, total int, pct float64) bool {
	return float64(written)*100 >= pct*float64(total)
}
