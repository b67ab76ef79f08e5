package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hlsdl/internal/decrypt"
	"hlsdl/internal/fetch"
	"hlsdl/internal/hls"
	"hlsdl/internal/netx"
	"hlsdl/internal/platform/logger"
	"hlsdl/internal/platform/metrics"
	"hlsdl/internal/util"
)

// PlaylistRef points at the playlist to download: a URL, raw text, or both.
// Relative URIs in Text resolve against BaseURI, falling back to URL.
type PlaylistRef struct {
	URL     string
	Text    string
	BaseURI string
}

// TrackSelection picks the alternate renditions to download alongside video.
type TrackSelection struct {
	Audio     hls.LanguageSelection
	Subtitles hls.LanguageSelection
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	WorkDirRoot         string
	VideoWorkers        int
	AudioWorkers        int
	MaxAttempts         int
	RetryDelay          time.Duration
	StallWindow         time.Duration
	CompletionThreshold float64
	Hosts               []string
	// Cleanup removes the working directory after a fully successful session.
	Cleanup    bool
	OnProgress func(track string, p fetch.Progress)
}

// MuxTrack is one finished elementary stream handed to a Muxer.
type MuxTrack struct {
	Path     string
	Language string
	Name     string
}

// MuxInput lists the tracks of one output container.
type MuxInput struct {
	Video     MuxTrack
	Audio     []MuxTrack
	Subtitles []MuxTrack
}

// Muxer combines finished track files into one container at outPath.
type Muxer interface {
	Mux(ctx context.Context, in MuxInput, outPath string) error
}

// TrackOutcome is the result of one track of a session.
type TrackOutcome struct {
	Kind     string
	Label    string
	Language string
	Name     string
	Path     string
	// Resumed is set when the track file existed and nothing was fetched.
	Resumed bool
	Result  fetch.TrackResult
	Err     error
}

// OK reports whether the track file is usable.
func (t TrackOutcome) OK() bool {
	return t.Err == nil && (t.Resumed || t.Result.Status == fetch.StatusComplete)
}

// Session statuses, also used as metric labels.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// SessionResult describes a finished or failed session.
type SessionResult struct {
	ID         uuid.UUID
	Status     string
	OutputPath string
	WorkDir    string
	Variant    *hls.VariantStream
	Tracks     []TrackOutcome
	// Skipped is set when OutputPath already existed.
	Skipped bool
	// MissingLanguages lists requested languages the playlist lacks.
	MissingLanguages []string
	Warnings         []hls.ParseWarning
}

// Degraded reports whether an audio or subtitle track was dropped.
func (r SessionResult) Degraded() bool {
	for _, t := range r.Tracks {
		if !t.OK() {
			return true
		}
	}
	return false
}

type playlistAPI interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type trackAPI interface {
	Download(ctx context.Context, segments []hls.Segment, dec *decrypt.Decryptor, outPath string, opts fetch.Options) (fetch.TrackResult, error)
}

// Orchestrator runs download sessions: playlist resolution, concurrent track
// downloads and muxing.
type Orchestrator struct {
	net     playlistAPI
	tracks  trackAPI
	muxer   Muxer
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	keyMu sync.Mutex
	keys  map[string][]byte
}

// New wires an Orchestrator with the default fetch orchestrator.
func New(net *netx.Client, muxer Muxer, log *slog.Logger, m *metrics.Metrics, opts Options) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	if opts.WorkDirRoot == "" {
		opts.WorkDirRoot = filepath.Join(os.TempDir(), "hlsdl")
	}
	return &Orchestrator{
		net:     net,
		tracks:  fetch.New(net, log, m),
		muxer:   muxer,
		log:     log,
		metrics: m,
		opts:    opts,
		keys:    make(map[string][]byte),
	}
}

type trackPlan struct {
	kind     string
	label    string
	language string
	name     string
	uri      string
	media    *hls.Playlist
	outPath  string
}

// Run downloads ref into outputPath.
//
// The working directory caches the playlist and every finished track, so a
// rerun after a failure only fetches what is missing. Video failures fail
// the session; audio and subtitle failures drop the track from the output.
func (o *Orchestrator) Run(ctx context.Context, ref PlaylistRef, sel TrackSelection, outputPath string) (res SessionResult, err error) {
	res = SessionResult{ID: uuid.New(), OutputPath: outputPath}
	log := o.log.With(slog.String("session", res.ID.String()))

	if fileExists(outputPath) {
		log.Info("output exists, skipping", slog.String("path", outputPath))
		res.Skipped = true
		res.Status = StatusSkipped
		o.metrics.SessionFinished(StatusSkipped)
		return res, nil
	}

	status := StatusFailed
	defer func() {
		res.Status = status
		o.metrics.SessionFinished(status)
	}()

	key := ref.URL
	if key == "" {
		key = ref.Text
	}
	if strings.TrimSpace(key) == "" {
		return res, errors.New("session: playlist reference is empty")
	}
	res.WorkDir = WorkDirFor(o.opts.WorkDirRoot, key)
	if err := os.MkdirAll(res.WorkDir, 0o755); err != nil {
		return res, err
	}
	log = log.With(slog.String("workdir", res.WorkDir))

	pl, err := o.loadPlaylist(ctx, ref, res.WorkDir)
	if err != nil {
		if ctx.Err() != nil {
			status = StatusCancelled
			return res, fetch.ErrCancelled
		}
		return res, err
	}
	res.Warnings = append(res.Warnings, pl.Warnings...)
	for _, w := range pl.Warnings {
		log.Warn("playlist line skipped", slog.String("warning", w.String()))
	}

	plans, v, missing, err := o.plan(pl, sel, res.WorkDir)
	if err != nil {
		return res, err
	}
	if v != nil {
		res.Variant = v
		log.Info("variant selected", slog.String("resolution", v.Resolution.String()), slog.Int64("bandwidth", v.Bandwidth))
	}
	for _, lang := range missing {
		log.Warn("requested language not available", slog.String("language", lang), slog.Any("err", ErrUnknownLanguage))
	}
	res.MissingLanguages = missing

	res.Tracks = make([]TrackOutcome, len(plans))
	var wg sync.WaitGroup
	for i, p := range plans {
		wg.Add(1)
		go func(i int, p trackPlan) {
			defer wg.Done()
			res.Tracks[i] = o.runTrack(ctx, log, p)
		}(i, p)
	}
	wg.Wait()

	if ctx.Err() != nil {
		status = StatusCancelled
		return res, fetch.ErrCancelled
	}
	video := res.Tracks[0]
	if !video.OK() {
		return res, fmt.Errorf("video track: %w", video.Err)
	}

	in := MuxInput{Video: MuxTrack{Path: video.Path}}
	for _, t := range res.Tracks[1:] {
		if !t.OK() {
			log.Warn("track dropped", slog.String("track", t.Label), slog.Any("err", t.Err))
			continue
		}
		mt := MuxTrack{Path: t.Path, Language: t.Language, Name: t.Name}
		if t.Kind == "subtitle" {
			in.Subtitles = append(in.Subtitles, mt)
		} else {
			in.Audio = append(in.Audio, mt)
		}
	}

	if o.muxer == nil {
		return res, &MuxingError{Err: errors.New("no muxer configured")}
	}
	tmpOut := filepath.Join(res.WorkDir, "muxed-"+res.ID.String()+filepath.Ext(outputPath))
	if err := o.muxer.Mux(ctx, in, tmpOut); err != nil {
		var me *MuxingError
		if !errors.As(err, &me) {
			err = &MuxingError{Err: err}
		}
		return res, err
	}
	if err := moveFile(tmpOut, outputPath); err != nil {
		return res, fmt.Errorf("move output: %w", err)
	}

	status = StatusOK
	if res.Degraded() {
		status = StatusDegraded
	} else if o.opts.Cleanup {
		if err := os.RemoveAll(res.WorkDir); err != nil {
			log.Warn("cleanup failed", slog.Any("err", err))
		}
	}
	log.Info("session complete", slog.String("output", outputPath), slog.String("status", status))
	return res, nil
}

// loadPlaylist prefers, in order: inline text, the cached copy in workDir,
// and a fresh fetch that is then cached.
func (o *Orchestrator) loadPlaylist(ctx context.Context, ref PlaylistRef, workDir string) (*hls.Playlist, error) {
	base := ref.BaseURI
	if base == "" {
		base = ref.URL
	}
	raw := ref.Text
	if raw == "" {
		cache := filepath.Join(workDir, playlistCacheName)
		if b, err := os.ReadFile(cache); err == nil && len(b) > 0 {
			raw = string(b)
		} else {
			b, err := o.net.Fetch(ctx, ref.URL)
			if err != nil {
				return nil, fmt.Errorf("fetch playlist: %w", err)
			}
			raw = string(b)
			if err := os.WriteFile(cache, b, 0o644); err != nil {
				o.log.Warn("cache playlist", slog.Any("err", err))
			}
		}
	}
	return hls.Parse(raw, base)
}

// plan lists the tracks to download and the chosen variant, nil for a
// media playlist. The video track is always first.
func (o *Orchestrator) plan(pl *hls.Playlist, sel TrackSelection, workDir string) ([]trackPlan, *hls.VariantStream, []string, error) {
	if !pl.IsVariant {
		return []trackPlan{{kind: "video", label: "video", media: pl, outPath: videoTrackPath(workDir)}}, nil, nil, nil
	}
	v, err := hls.SelectVariant(pl.Variants)
	if err != nil {
		return nil, nil, nil, err
	}
	plans := []trackPlan{{kind: "video", label: "video", uri: v.URI, outPath: videoTrackPath(workDir)}}

	audio, missingAudio := hls.SelectRenditions(pl.Media, hls.RenditionAudio, v.Audio, sel.Audio)
	subs, missingSubs := hls.SelectRenditions(pl.Media, hls.RenditionSubtitles, v.Subtitles, sel.Subtitles)

	used := make(map[string]bool)
	for i, r := range audio {
		label := uniqueLabel(used, "audio", util.TrackLabel(r.Language, r.Name, i))
		plans = append(plans, trackPlan{
			kind: "audio", label: "audio:" + label, language: r.Language, name: r.Name,
			uri: r.URI, outPath: audioTrackPath(workDir, label),
		})
	}
	for i, r := range subs {
		label := uniqueLabel(used, "subtitle", util.TrackLabel(r.Language, r.Name, i))
		plans = append(plans, trackPlan{
			kind: "subtitle", label: "subtitle:" + label, language: r.Language, name: r.Name,
			uri: r.URI, outPath: subtitleTrackPath(workDir, label),
		})
	}
	return plans, &v, append(missingAudio, missingSubs...), nil
}

func uniqueLabel(used map[string]bool, kind, label string) string {
	candidate := label
	for n := 2; used[kind+"/"+candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", label, n)
	}
	used[kind+"/"+candidate] = true
	return candidate
}

func (o *Orchestrator) runTrack(ctx context.Context, log *slog.Logger, p trackPlan) TrackOutcome {
	out := TrackOutcome{Kind: p.kind, Label: p.label, Language: p.language, Name: p.name, Path: p.outPath}
	log = log.With(slog.String("track", p.label))
	if fileExists(p.outPath) {
		log.Info("track already downloaded")
		out.Resumed = true
		return out
	}

	segments, key, err := o.trackSegments(ctx, p)
	if err != nil {
		out.Err = err
		return out
	}

	var dec *decrypt.Decryptor
	perSegmentIV := false
	if key != nil {
		dec, perSegmentIV, err = o.decryptor(ctx, key, segments)
		if err != nil {
			out.Err = err
			return out
		}
	}

	workers := o.opts.AudioWorkers
	if p.kind == "video" {
		workers = o.opts.VideoWorkers
	}
	opts := fetch.Options{
		Kind:                p.kind,
		Workers:             workers,
		MaxAttempts:         o.opts.MaxAttempts,
		RetryDelay:          o.opts.RetryDelay,
		StallWindow:         o.opts.StallWindow,
		CompletionThreshold: o.opts.CompletionThreshold,
		Hosts:               o.opts.Hosts,
		PerSegmentIV:        perSegmentIV,
	}
	if o.opts.OnProgress != nil {
		label := p.label
		opts.OnProgress = func(pr fetch.Progress) { o.opts.OnProgress(label, pr) }
	}
	out.Result, out.Err = o.tracks.Download(ctx, segments, dec, p.outPath, opts)
	return out
}

// trackSegments resolves the media playlist of a track. A subtitle URI that
// is not a playlist is downloaded as a single segment.
func (o *Orchestrator) trackSegments(ctx context.Context, p trackPlan) ([]hls.Segment, *hls.Key, error) {
	media := p.media
	if media == nil {
		if p.kind == "subtitle" && !isPlaylistURI(p.uri) {
			return []hls.Segment{{Index: 0, URI: p.uri}}, nil, nil
		}
		b, err := o.net.Fetch(ctx, p.uri)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch media playlist: %w", err)
		}
		media, err = hls.Parse(string(b), p.uri)
		if err != nil {
			return nil, nil, err
		}
		if media.IsVariant {
			return nil, nil, fmt.Errorf("media playlist %s is a master playlist", p.uri)
		}
	}
	if p.kind != "subtitle" {
		if err := writeTrackIndex(filepath.Join(filepath.Dir(p.outPath), trackIndexName), media); err != nil {
			o.log.Warn("cache track playlist", slog.String("track", p.label), slog.Any("err", err))
		}
	}
	return media.Segments, media.Key, nil
}

func writeTrackIndex(path string, media *hls.Playlist) error {
	enc, err := hls.EncodeMedia(media)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(enc), 0o644)
}

func isPlaylistURI(uri string) bool {
	p := uri
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.HasSuffix(strings.ToLower(p), ".m3u8") || strings.HasSuffix(strings.ToLower(p), ".m3u")
}

// decryptor fetches the key once per URI and builds the track decryptor.
// Without an explicit IV each segment uses its media sequence number.
func (o *Orchestrator) decryptor(ctx context.Context, key *hls.Key, segments []hls.Segment) (*decrypt.Decryptor, bool, error) {
	raw, err := o.keyBytes(ctx, key.URI)
	if err != nil {
		return nil, false, &KeyResolutionError{URI: key.URI, Err: err}
	}
	iv := key.IV
	perSegment := false
	if len(iv) == 0 && len(segments) > 0 {
		iv = hls.SequenceIV(segments[0].Sequence)
		perSegment = true
	}
	dec, err := decrypt.NewDecryptor(decrypt.Method(key.Method), raw, iv)
	if err != nil {
		return nil, false, &KeyResolutionError{URI: key.URI, Err: err}
	}
	return dec, perSegment, nil
}

func (o *Orchestrator) keyBytes(ctx context.Context, uri string) ([]byte, error) {
	o.keyMu.Lock()
	defer o.keyMu.Unlock()
	if k, ok := o.keys[uri]; ok {
		return k, nil
	}
	k, err := o.net.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	o.keys[uri] = k
	return k, nil
}
