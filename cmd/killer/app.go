package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/killer-ai/killer/pkg/cache"
	"github.com/killer-ai/killer/pkg/config"
	"github.com/killer-ai/killer/pkg/gemini"
	"github.com/killer-ai/killer/pkg/logger"
	"github.com/killer-ai/killer/pkg/metrics"
	"github.com/killer-ai/killer/pkg/pipeline"
	"github.com/killer-ai/killer/pkg/quota"
	"github.com/killer-ai/killer/pkg/ratelimit"
	"github.com/killer-ai/killer/pkg/store"
	"github.com/killer-ai/killer/pkg/store/memory"
	"github.com/killer-ai/killer/pkg/store/sqlite"
)

type rootOptions struct {
	configPath string
	ephemeral  bool
	logLevel   string
}

// app is the wired request core shared by every command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    store.Store
	registry *prometheus.Registry
	pipeline *pipeline.Pipeline
}

// openApp loads config, opens the store and restores persisted state.
// quiet lowers the default log level for one-shot commands.
func openApp(ctx context.Context, opts *rootOptions, quiet bool) (*app, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	switch {
	case opts.logLevel != "":
		cfg.Log.Level = opts.logLevel
	case quiet:
		cfg.Log.Level = "warn"
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var st store.Store
	if opts.ephemeral {
		st = memory.New()
	} else {
		st, err = sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	remote := gemini.New(&http.Client{}, cfg.API.Timeout, cfg.API.Generation, cfg.API.Safety)
	p := pipeline.New(
		cache.New(cfg.Cache.Capacity),
		ratelimit.New(cfg.RateLimit.MaxPerMinute, cfg.RateLimit.Window, cfg.RateLimit.Delay),
		quota.New(cfg.Quota.DailyLimit, cfg.Quota.WarnThreshold, time.Local),
		st,
		remote,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(metrics.New(reg)),
		pipeline.WithDefaults(cfg.Settings()),
	)
	if err := p.Restore(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, store: st, registry: reg, pipeline: p}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}
