// Package config loads runtime configuration from an optional YAML file
// overlaid by AQUACORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AQUACORE_"

// Storage selects the persistent store.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// S3 configures the S3 blob backend.
type S3 struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
	Prefix       string `yaml:"prefix"`
}

// Blob selects the artifact store used by exports.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// Redis configures dedup keys and trigger publication. An empty Addr
// disables Redis.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Channel  string        `yaml:"channel"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// Worker configures the recompute worker pool and periodic sweep.
type Worker struct {
	Concurrency     int           `yaml:"concurrency"`
	QueueSize       int           `yaml:"queue_size"`
	MaxRetries      int           `yaml:"max_retries"`
	Timeout         time.Duration `yaml:"timeout"`
	Backoff         time.Duration `yaml:"backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	DedupTTL        time.Duration `yaml:"dedup_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepWindowDays int           `yaml:"sweep_window_days"`
	BatchParallel   int           `yaml:"batch_parallelism"`
}

// Config is the full runtime configuration.
type Config struct {
	LogMode     string  `yaml:"log_mode"`
	MetricsAddr string  `yaml:"metrics_addr"`
	TraceFile   string  `yaml:"trace_file"`
	Storage     Storage `yaml:"storage"`
	Blob        Blob    `yaml:"blob"`
	Redis       Redis   `yaml:"redis"`
	Worker      Worker  `yaml:"worker"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogMode:     "production",
		MetricsAddr: ":9464",
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "./aquacore.db",
		},
		Blob: Blob{
			Driver: "fs",
			FSRoot: "./blobdata",
		},
		Redis: Redis{
			Channel:  "aquacore:triggers",
			DedupTTL: 10 * time.Minute,
		},
		Worker: Worker{
			Concurrency:     4,
			QueueSize:       256,
			MaxRetries:      3,
			Timeout:         2 * time.Minute,
			Backoff:         time.Second,
			MaxBackoff:      30 * time.Second,
			DedupTTL:        time.Minute,
			SweepInterval:   24 * time.Hour,
			SweepWindowDays: 14,
			BatchParallel:   4,
		},
	}
}

// Load builds the configuration. path (or AQUACORE_CONFIG_FILE when path is
// empty) names an optional YAML overlay; environment variables win over both.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_MODE", &c.LogMode)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("TRACE_FILE", &c.TraceFile)

	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)

	str("BLOB_DRIVER", &c.Blob.Driver)
	str("BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("BLOB_S3_REGION", &c.Blob.S3.Region)
	str("BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("BLOB_S3_ACCESS_KEY", &c.Blob.S3.AccessKey)
	str("BLOB_S3_SECRET_KEY", &c.Blob.S3.SecretKey)
	str("BLOB_S3_PREFIX", &c.Blob.S3.Prefix)
	flag("BLOB_S3_PATH_STYLE", &c.Blob.S3.UsePathStyle)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("REDIS_CHANNEL", &c.Redis.Channel)
	dur("REDIS_DEDUP_TTL", &c.Redis.DedupTTL)

	num("WORKER_CONCURRENCY", &c.Worker.Concurrency)
	num("WORKER_QUEUE_SIZE", &c.Worker.QueueSize)
	num("WORKER_MAX_RETRIES", &c.Worker.MaxRetries)
	dur("WORKER_TIMEOUT", &c.Worker.Timeout)
	dur("WORKER_BACKOFF", &c.Worker.Backoff)
	dur("WORKER_MAX_BACKOFF", &c.Worker.MaxBackoff)
	dur("WORKER_DEDUP_TTL", &c.Worker.DedupTTL)
	dur("SWEEP_INTERVAL", &c.Worker.SweepInterval)
	num("SWEEP_WINDOW_DAYS", &c.Worker.SweepWindowDays)
	num("BATCH_PARALLELISM", &c.Worker.BatchParallel)

	return errors.Join(errs...)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("blob driver s3 requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker concurrency must be >= 1"))
	}
	if c.Worker.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("worker queue size must be >= 1"))
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("worker max retries must be >= 0"))
	}
	if c.Worker.SweepWindowDays < 1 {
		errs = append(errs, fmt.Errorf("sweep window must be >= 1 day"))
	}
	return errors.Join(errs...)
}
