package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/catalog"
	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/datasource"
	"github.com/Sriram-PR/sitemap-builder/pkg/delta"
	"github.com/Sriram-PR/sitemap-builder/pkg/hreflang"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/images"
	"github.com/Sriram-PR/sitemap-builder/pkg/metrics"
	"github.com/Sriram-PR/sitemap-builder/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-builder/pkg/publish"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
	"github.com/Sriram-PR/sitemap-builder/pkg/shard"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
	"github.com/Sriram-PR/sitemap-builder/pkg/storage"
	"github.com/Sriram-PR/sitemap-builder/pkg/stream"
)

// app holds every component wired from one validated config
type app struct {
	cfg *config.AppConfig
	log *logrus.Entry

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	source    *datasource.SQLiteSource
	pager     *datasource.Pager
	registry  *registry.Registry
	validator *hygiene.Validator
	generator *sitemap.Generator

	store storage.Store
	delta *delta.Service

	publisher orchestrate.Publisher // nil unless publishing is enabled

	closers []func() error
}

// newApp opens the catalog and the hash store and builds the generator and delta service.
// Close must be called to release them.
func newApp(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log.WithField("component", "app")}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	var err error
	a.promRegistry = prometheus.NewRegistry()
	if a.metrics, err = metrics.New(a.promRegistry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	reg, regWarnings, err := registry.Build(cfg.Nodes, shard.DefaultPredicates())
	if err != nil {
		return nil, err
	}
	for _, w := range regWarnings {
		a.log.Warn(w)
	}
	a.registry = reg

	var robots *hygiene.RobotsRule
	if cfg.Hygiene.RobotsTxtPath != "" {
		if robots, err = hygiene.LoadRobotsRule(cfg.Hygiene.RobotsTxtPath, cfg.Hygiene.UserAgent); err != nil {
			return nil, err
		}
	}
	if a.validator, err = hygiene.NewValidator(cfg.BaseURL, cfg.Hygiene, robots, log.WithField("component", "hygiene")); err != nil {
		return nil, err
	}

	a.log.Infof("Opening catalog %s", cfg.Catalog.DSN)
	if a.source, err = datasource.OpenSQLite(ctx, cfg.Catalog.DSN); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.source.Close)
	a.pager = datasource.NewPager(a.source, cfg.Fetch, log.WithField("component", "pager"))

	annotator, err := images.NewAnnotator(cfg.Images)
	if err != nil {
		return nil, err
	}
	emitter, err := stream.NewEmitter(cfg.Compression, cfg.OutputDir, cfg.BaseURL, a.metrics, log.WithField("component", "stream"))
	if err != nil {
		return nil, err
	}

	a.generator, err = sitemap.NewGenerator(sitemap.Deps{
		Registry:     reg,
		Pager:        a.pager,
		Mapper:       catalog.NewMapper(cfg.Hygiene.StrongLinkingThreshold, a.source, log.WithField("component", "catalog")),
		Validator:    a.validator,
		Hreflang:     hreflang.NewExpander(cfg.Hreflang),
		Images:       annotator,
		Emitter:      emitter,
		Metrics:      a.metrics,
		EmitVariants: cfg.Hreflang.EmitVariants,
		ShardWorkers: cfg.Fetch.ShardConcurrency,
	}, cfg.OutputDir, log.WithField("component", "generator"))
	if err != nil {
		return nil, err
	}

	storeLog := log.WithField("component", "store")
	if cfg.Delta.Store == "memory" {
		a.store = storage.NewMemoryStore()
	} else {
		badgerStore, err := storage.NewBadgerStore(cfg.StateDir, false, storeLog)
		if err != nil {
			return nil, err
		}
		go badgerStore.RunGC(ctx, 10*time.Minute)
		a.store = badgerStore
	}
	a.closers = append(a.closers, a.store.Close)

	tracker := delta.NewTracker(a.store, a.validator, cfg.Delta, a.metrics, log.WithField("component", "delta"))
	deltaEmitter, err := delta.NewEmitter(tracker, cfg.Delta, cfg.BaseURL, cfg.OutputDir, a.metrics, log.WithField("component", "delta"))
	if err != nil {
		return nil, err
	}
	a.delta = delta.NewService(tracker, deltaEmitter, cfg.Delta, logrus.NewEntry(log))

	if cfg.Publish.Enabled {
		pub, err := publish.NewMinioPublisher(cfg.Publish, cfg.OutputDir, log.WithField("component", "publish"))
		if err != nil {
			return nil, err
		}
		a.publisher = pub
	}

	ready = true
	return a, nil
}

// Close releases the catalog and the store, most recently opened first
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// startMetricsServer serves the app's registry on addr until ctx is cancelled. Empty addr disables it.
func (a *app) startMetricsServer(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		a.log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorf("Metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
