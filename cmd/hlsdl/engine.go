package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hlsdl/internal/config"
	"hlsdl/internal/fetch"
	"hlsdl/internal/mux"
	"hlsdl/internal/netx"
	"hlsdl/internal/platform/logger"
	"hlsdl/internal/platform/metrics"
	"hlsdl/internal/session"
)

const shutdownTimeout = 5 * time.Second

// engine holds the collaborators shared by every session of a run.
type engine struct {
	net   *netx.Client
	muxer session.Muxer
	log   *slog.Logger
	m     *metrics.Metrics
	opts  session.Options
}

func buildEngine(cfg config.Config, log *slog.Logger, m *metrics.Metrics) (engineAPI, error) {
	// Zero keeps the client's default retry count.
	retries := 0
	if cfg.MaxAttempts > 0 {
		retries = cfg.MaxAttempts - 1
		if retries == 0 {
			retries = -1
		}
	}
	client, err := netx.NewClient(netx.Options{
		Timeout:      cfg.Timeout,
		Retry:        netx.RetryOptions{Retries: retries, BaseDelay: cfg.RetryDelay},
		InsecureTLS:  cfg.InsecureTLS,
		Proxy:        cfg.Proxy,
		Cookies:      cfg.Cookies,
		Headers:      cfg.Headers,
		MaxBandwidth: cfg.MaxBandwidth,
	})
	if err != nil {
		return nil, err
	}
	return &engine{
		net:   client,
		muxer: mux.New(cfg.FFmpeg, log),
		log:   log,
		m:     m,
		opts: session.Options{
			WorkDirRoot:         cfg.WorkDir,
			VideoWorkers:        cfg.VideoWorkers,
			AudioWorkers:        cfg.AudioWorkers,
			MaxAttempts:         cfg.MaxAttempts,
			RetryDelay:          cfg.RetryDelay,
			StallWindow:         cfg.StallWindow,
			CompletionThreshold: cfg.CompletionThreshold,
			Hosts:               cfg.Hosts,
			Cleanup:             cfg.Cleanup,
		},
	}, nil
}

func (e *engine) NewSession(onProgress func(track string, p fetch.Progress)) sessionAPI {
	opts := e.opts
	opts.OnProgress = onProgress
	return session.New(e.net, e.muxer, e.log, e.m, opts)
}

// startMetricsServer serves /metrics on addr until the returned stop func is
// called.
func startMetricsServer(addr string, m *metrics.Metrics, log *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: metricsRouter(m, log), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", slog.Any("error", err))
		}
	}()
	log.Info("metrics server listening", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("metrics server shutdown", slog.Any("error", err))
		}
	}, nil
}

func metricsRouter(m *metrics.Metrics, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Get("/metrics", m.Handler(nil).ServeHTTP)
	return r
}
