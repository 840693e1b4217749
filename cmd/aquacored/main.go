// Command aquacored runs the growth assimilation daemon: the recompute
// worker pool, the periodic sweep over active assignments and the HTTP
// surface serving metrics and operator routes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquacore/internal/app"
	"aquacore/internal/config"
	"aquacore/internal/observability"
)

const shutdownTimeout = 30 * time.Second

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stderr))
}

func cli(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("aquacored", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config (default $AQUACORE_CONFIG_FILE)")
	once := fs.Bool("once", false, "run a single sweep, wait for its jobs and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "aquacored: %v\n", err)
		return 1
	}
	log, err := observability.NewLogger(cfg.LogMode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "aquacored: logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, log, *once); err != nil {
		log.Error("daemon exited", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, log *observability.Logger, once bool) (err error) {
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	a.Worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := a.Worker.Stop(stopCtx); serr != nil {
			log.Warn("worker stop timed out", "error", serr)
		}
	}()

	sweeper := a.Sweeper()
	if once {
		report, err := sweeper.SweepOnce(ctx)
		if err != nil {
			return err
		}
		return a.Worker.Wait(ctx, report.JobIDs...)
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("sweeper: %w", err)
		}
	}()
	log.Info("aquacored started", "storage", cfg.Storage.Driver, "blob", cfg.Blob.Driver, "redis", cfg.Redis.Addr != "")

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
