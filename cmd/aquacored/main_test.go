package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"aquacore/internal/config"
	"aquacore/internal/observability"
)

func TestCLIRejectsBadFlags(t *testing.T) {
	var stderr bytes.Buffer
	if code := cli([]string{"-nope"}, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestCLIReportsConfigErrors(t *testing.T) {
	t.Setenv("AQUACORE_STORAGE_DRIVER", "etcd")
	var stderr bytes.Buffer
	if code := cli(nil, &stderr); code != 1 || !strings.Contains(stderr.String(), "etcd") {
		t.Fatalf("expected config error, got %d %q", code, stderr.String())
	}
}

func TestRunOnceWithEmptyStore(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Blob.Driver = "memory"
	if err := run(context.Background(), cfg, observability.NewNop(), true); err != nil {
		t.Fatalf("run once: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Blob.Driver = "memory"
	cfg.MetricsAddr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, cfg, observability.NewNop(), false); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
