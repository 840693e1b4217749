// Package app assembles the runtime graph shared by the daemon and the admin
// CLI from a config.Config: store, engine, trigger sinks, worker, blob
// exports and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"aquacore/internal/adapters/httpapi"
	"aquacore/internal/blob"
	"aquacore/internal/config"
	"aquacore/internal/core"
	"aquacore/internal/export"
	"aquacore/internal/infra/redisbus"
	"aquacore/internal/observability"
	"aquacore/internal/trigger"
	"aquacore/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const traceBuffer = 1024

// App holds the wired components. Bus is nil when Redis is not configured.
type App struct {
	Config   config.Config
	Log      *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Store    core.Store
	Service  *core.Service
	Blob     blob.Store
	Exporter *export.Exporter
	Bus      *redisbus.Client
	Worker   *worker.Worker

	closers []func() error
}

// Open builds every component. The worker is created but not started.
func Open(ctx context.Context, cfg config.Config, log *observability.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: observability.OrNop(log), Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.Metrics, err = observability.NewMetrics(a.Registry); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	var tracer observability.Tracer = observability.NopTracer{}
	if cfg.TraceFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.TraceFile), 0o750); err != nil {
			return nil, fmt.Errorf("trace dir: %w", err)
		}
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		tracer = observability.NewJSONTracer(f, traceBuffer)
	}

	if a.Store, err = core.OpenPersistentStore(cfg.Storage); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	sinks := trigger.MultiSink{trigger.NewLogSink(a.Log)}
	if cfg.Redis.Addr != "" {
		a.Bus, err = redisbus.New(ctx, redisbus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			DedupTTL: cfg.Redis.DedupTTL,
		}, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Bus.Close)
		sinks = append(sinks, a.Bus)
	}
	evaluator := trigger.NewEvaluator(a.Store, a.Store, trigger.WithSink(sinks), trigger.WithLogger(a.Log))

	a.Service = core.NewService(a.Store,
		core.WithEngineLogger(a.Log),
		core.WithEngineMetrics(a.Metrics),
		core.WithEngineTracer(tracer),
		core.WithTriggerEvaluator(evaluator),
		core.WithBatchParallelism(cfg.Worker.BatchParallel),
	)

	if a.Blob, err = blob.Open(ctx, cfg.Blob); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.Exporter = export.New(a.Service, a.Blob, export.WithLogger(a.Log))

	wopts := worker.ConfigOptions(cfg.Worker)
	wopts.Logger = a.Log
	wopts.Metrics = a.Metrics
	if a.Bus != nil {
		wopts.Deduper = a.Bus
	}
	a.Worker = worker.New(a.Service, wopts)
	return a, nil
}

// Sweeper returns the periodic sweep configured for this App.
func (a *App) Sweeper() *worker.Sweeper {
	return worker.NewSweeper(a.Service, a.Worker,
		worker.WithSweepInterval(a.Config.Worker.SweepInterval),
		worker.WithSweepWindowDays(a.Config.Worker.SweepWindowDays),
		worker.WithSweepLogger(a.Log),
	)
}

// Handler serves /metrics, /healthz and the /api/v1 operator routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/api/v1/", httpapi.NewHandler(a.Worker, a.Service, a.Exporter, a.Log))
	return mux
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
