package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"aquacore/internal/config"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, config.Blob{Driver: "memory"})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory: %v %v", mem, err)
	}
	fsStore, err := Open(ctx, config.Blob{FSRoot: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver should be fs: %v", err)
	}
	if _, err := Open(ctx, config.Blob{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, config.Blob{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestReadAll(t *testing.T) {
	ctx := context.Background()
	st, _ := Open(ctx, config.Blob{Driver: "memory"})
	if _, err := st.Put(ctx, "k", bytes.NewReader([]byte("payload")), PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, data, err := ReadAll(ctx, st, "k")
	if err != nil || string(data) != "payload" || info.ContentType != "text/plain" {
		t.Fatalf("unexpected read %+v %q %v", info, data, err)
	}
	if _, _, err := ReadAll(ctx, st, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
