package core

import (
	"fmt"

	"aquacore/internal/config"
	"aquacore/internal/infra/persistence/memory"
	"aquacore/internal/infra/persistence/postgres"
	"aquacore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend from the storage configuration.
// Defaults to sqlite when the driver is unset.
//
//	AQUACORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	AQUACORE_SQLITE_PATH: path to sqlite file (default ./aquacore.db)
//	AQUACORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(cfg config.Storage) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoragePostgres:
		ps, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
