package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"hlsdl/internal/cli"
	"hlsdl/internal/config"
	"hlsdl/internal/fetch"
	"hlsdl/internal/platform/logger"
	"hlsdl/internal/platform/metrics"
	"hlsdl/internal/session"
	"hlsdl/internal/util"
)

var (
	newLogger    = func() loggerAPI { return cli.Logger{} }
	newEngine    = buildEngine
	serveMetrics = startMetricsServer
	loadEnvFn    = config.LoadEnv
	loadConfigFn = config.Load
	exitFn       = cli.Exit
)

type loggerAPI interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Success(msg string)
	Failure(msg string)
}

type sessionAPI interface {
	Run(ctx context.Context, ref session.PlaylistRef, sel session.TrackSelection, outputPath string) (session.SessionResult, error)
}

type engineAPI interface {
	NewSession(onProgress func(track string, p fetch.Progress)) sessionAPI
}

type engineFactory func(cfg config.Config, log *slog.Logger, m *metrics.Metrics) (engineAPI, error)

func execute(ctx context.Context, args []string, ui loggerAPI, cfgLoader func(path string) (config.Config, error), newEng engineFactory) int {
	a := cli.ParseArgs(args)
	if a.EnvFile != "" {
		if err := loadEnvFn(a.EnvFile); err != nil {
			ui.Error(formatError(err))
			return 1
		}
	} else {
		// A missing .env is normal.
		_ = loadEnvFn()
	}
	resolvedCfg, err := filepath.Abs(a.Config)
	if err != nil {
		ui.Error(formatError(err))
		return 1
	}
	cfg, err := cfgLoader(resolvedCfg)
	if err != nil {
		ui.Error(formatError(err))
		return 1
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, m, log)
		if err != nil {
			ui.Warn("Metrics server disabled: " + formatError(err))
		} else {
			defer stop()
		}
	}
	eng, err := newEng(cfg, log, m)
	if err != nil {
		ui.Error(formatError(err))
		return 1
	}
	// Keep output paths deterministic for logs and downstream tooling.
	outputDir, _ := filepath.Abs(cfg.OutputDir)
	sel := session.TrackSelection{Audio: cfg.Audio.Selection(), Subtitles: cfg.Subtitles.Selection()}

	success, cancelled := 0, 0
	type failItem struct{ inputURL, reason string }
	fails := make([]failItem, 0)
	var mu sync.Mutex

	type task struct {
		index   int
		url     string
		outName string
	}
	names := util.OutputFileNames(cfg.Links, cfg.Container)
	jobs := cfg.Jobs
	// Bound worker count to a valid range so scheduling and channel lifecycles stay predictable.
	if jobs > len(cfg.Links) {
		jobs = len(cfg.Links)
	}
	if jobs < 1 {
		jobs = 1
	}
	taskCh := make(chan task)
	var wg sync.WaitGroup
	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				ui.Info("Input: " + t.url)
				bars := newTrackProgress(t.index + 1)
				outPath := filepath.Join(outputDir, t.outName)
				res, err := eng.NewSession(bars.update).Run(ctx, session.PlaylistRef{URL: t.url}, sel, outPath)
				bars.stop()

				mu.Lock()
				switch {
				case errors.Is(err, fetch.ErrCancelled):
					cancelled++
				case err != nil:
					fails = append(fails, failItem{inputURL: t.url, reason: formatError(err)})
				default:
					success++
				}
				mu.Unlock()

				switch {
				case errors.Is(err, fetch.ErrCancelled):
					ui.Warn("Cancelled: " + t.url)
				case err != nil:
					ui.Failure(t.url + " -> " + formatError(err))
				case res.Skipped:
					ui.Info("Already downloaded: " + res.OutputPath)
				default:
					reportResult(ui, res)
				}
			}
		}()
	}
	queued := make(map[string]bool, len(cfg.Links))
	for i, inputURL := range cfg.Links {
		if queued[inputURL] {
			ui.Warn("Duplicate link ignored: " + inputURL)
			continue
		}
		queued[inputURL] = true
		taskCh <- task{index: i, url: inputURL, outName: names[i]}
	}
	close(taskCh)
	wg.Wait()

	ui.Info(fmt.Sprintf("Completed. success=%d failed=%d cancelled=%d", success, len(fails), cancelled))
	if len(fails) > 0 {
		for _, f := range fails {
			ui.Warn("Failure detail: " + f.inputURL + " :: " + f.reason)
		}
		return 2
	}
	if cancelled > 0 {
		return 130
	}
	return 0
}

func reportResult(ui loggerAPI, res session.SessionResult) {
	if len(res.MissingLanguages) > 0 {
		ui.Warn("Languages not in playlist: " + strings.Join(res.MissingLanguages, ", "))
	}
	if !res.Degraded() {
		ui.Success("Downloaded: " + res.OutputPath)
		return
	}
	var dropped []string
	for _, t := range res.Tracks {
		if !t.OK() {
			dropped = append(dropped, t.Label+" ("+formatError(t.Err)+")")
		}
	}
	ui.Warn("Downloaded without " + strings.Join(dropped, ", ") + ": " + res.OutputPath)
	ui.Warn("Working files kept in " + res.WorkDir)
}

// trackProgress maps the tracks of one session to progress lines.
type trackProgress struct {
	prefix string
	mu     sync.Mutex
	bars   map[string]*cli.DownloadProgress
}

func newTrackProgress(n int) *trackProgress {
	return &trackProgress{prefix: fmt.Sprintf("[%d] ", n), bars: make(map[string]*cli.DownloadProgress)}
}

func (p *trackProgress) update(track string, pr fetch.Progress) {
	p.mu.Lock()
	bar, ok := p.bars[track]
	if !ok {
		bar = cli.NewDownloadProgress(p.prefix + track)
		p.bars[track] = bar
	}
	p.mu.Unlock()
	bar.Update(pr)
}

func (p *trackProgress) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bar := range p.bars {
		bar.Stop()
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := execute(ctx, os.Args[1:], newLogger(), loadConfigFn, newEngine)
	cancel()
	exitFn(exitCode)
}

func formatError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
