// Package blob selects the artifact store used by series exports.
package blob

import (
	"context"
	"fmt"
	"io"

	"aquacore/internal/blob/core"
	"aquacore/internal/config"
	"aquacore/internal/infra/blob/fs"
	memorystore "aquacore/internal/infra/blob/memory"
	"aquacore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrUnsupported = core.ErrUnsupported
)

// Open builds the store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		st, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverS3:
		st, err := s3.New(ctx, s3.FromConfig(cfg.S3))
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// ReadAll fetches the full payload of key.
func ReadAll(ctx context.Context, st Store, key string) (Info, []byte, error) {
	info, rc, err := st.Get(ctx, key)
	if err != nil {
		return Info{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Info{}, nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return info, data, nil
}
