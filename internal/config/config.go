// Package config loads shopcore configuration.
//
// Config file locations (priority order):
//  1. $SHOPCORE_CONFIG
//  2. ./shopcore.yaml
//  3. /etc/shopcore/config.yaml
//
// Environment variables override file values, see ApplyEnv.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shopcore/pkg/domain"
)

// Load finds and loads the config file, or starts from defaults if none is
// found, then applies environment overrides and validates the result.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	cfg := Default()
	if path != "" {
		loaded, _, err := LoadFromPath(path)
		if err != nil {
			return nil, path, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path and fills missing values with defaults.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// Default returns the configuration used when no file exists: both labels on
// separate SQLite files, in-memory sessions, snapshots on the local filesystem.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DefaultEnv == "" {
		c.DefaultEnv = string(domain.DefaultLabel)
	}
	defaultBackend(&c.Dev, "./shopcore-dev.db")
	defaultBackend(&c.Prod, "./shopcore-prod.db")
	if c.Signals.Param == "" {
		c.Signals.Param = "env"
	}
	if c.Signals.Header == "" {
		c.Signals.Header = "X-Environment"
	}
	if c.Signals.Cookie == "" {
		c.Signals.Cookie = "session_id"
	}
	if c.Session.Driver == "" {
		c.Session.Driver = SessionMemory
	}
	if c.Session.Key == "" {
		c.Session.Key = "environment"
	}
	if c.Session.Redis.Addr == "" {
		c.Session.Redis.Addr = "localhost:6379"
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "shopcore:session:"
	}
	if c.Session.Redis.TTL == 0 {
		c.Session.Redis.TTL = 30 * 24 * time.Hour
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = BlobFilesystem
	}
	if c.Blob.FSRoot == "" {
		c.Blob.FSRoot = "./snapshots"
	}
	if c.Blob.S3.Region == "" {
		c.Blob.S3.Region = "us-east-1"
	}
	if c.Snapshot.Prefix == "" {
		c.Snapshot.Prefix = "snapshots"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func defaultBackend(b *Backend, path string) {
	if b.Driver == "" {
		b.Driver = DriverSQLite
	}
	if b.Driver == DriverSQLite && b.SQLitePath == "" {
		b.SQLitePath = path
	}
}

// ApplyEnv overrides file values with SHOPCORE_* variables found through lookup:
//
//	SHOPCORE_DEFAULT_ENV: dev|prod
//	SHOPCORE_{DEV,PROD}_DRIVER: memory|sqlite|postgres
//	SHOPCORE_{DEV,PROD}_SQLITE_PATH, SHOPCORE_{DEV,PROD}_POSTGRES_DSN
//	SHOPCORE_SESSION_DRIVER: memory|redis
//	SHOPCORE_REDIS_ADDR, SHOPCORE_REDIS_PASSWORD, SHOPCORE_REDIS_DB
//	SHOPCORE_BLOB_DRIVER: fs|s3|memory
//	SHOPCORE_BLOB_FS_ROOT
//	SHOPCORE_BLOB_S3_BUCKET, SHOPCORE_BLOB_S3_REGION, SHOPCORE_BLOB_S3_ENDPOINT
//	SHOPCORE_BLOB_S3_PATH_STYLE: true|false
//	SHOPCORE_LOG_LEVEL, SHOPCORE_LOG_FORMAT
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("SHOPCORE_DEFAULT_ENV", &c.DefaultEnv)
	for prefix, b := range map[string]*Backend{"SHOPCORE_DEV_": &c.Dev, "SHOPCORE_PROD_": &c.Prod} {
		set(prefix+"DRIVER", &b.Driver)
		set(prefix+"SQLITE_PATH", &b.SQLitePath)
		set(prefix+"POSTGRES_DSN", &b.PostgresDSN)
	}
	set("SHOPCORE_SESSION_DRIVER", &c.Session.Driver)
	set("SHOPCORE_REDIS_ADDR", &c.Session.Redis.Addr)
	set("SHOPCORE_REDIS_PASSWORD", &c.Session.Redis.Password)
	if v, ok := lookup("SHOPCORE_REDIS_DB"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Session.Redis.DB = n
		}
	}
	set("SHOPCORE_BLOB_DRIVER", &c.Blob.Driver)
	set("SHOPCORE_BLOB_FS_ROOT", &c.Blob.FSRoot)
	set("SHOPCORE_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	set("SHOPCORE_BLOB_S3_REGION", &c.Blob.S3.Region)
	set("SHOPCORE_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	if v, ok := lookup("SHOPCORE_BLOB_S3_PATH_STYLE"); ok {
		c.Blob.S3.PathStyle = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	set("SHOPCORE_LOG_LEVEL", &c.Log.Level)
	set("SHOPCORE_LOG_FORMAT", &c.Log.Format)
	defaultBackend(&c.Dev, "./shopcore-dev.db")
	defaultBackend(&c.Prod, "./shopcore-prod.db")
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := domain.ParseLabel(c.DefaultEnv); !ok {
		errs = append(errs, fmt.Errorf("default_env: unknown label %q", c.DefaultEnv))
	}
	for _, label := range domain.Labels() {
		b, _ := c.Backend(label)
		if err := b.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	if c.Dev.target() != "" && c.Dev.target() == c.Prod.target() {
		errs = append(errs, fmt.Errorf("dev and prod share storage %s", c.Dev.target()))
	}
	switch c.Session.Driver {
	case SessionMemory:
	case SessionRedis:
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session: redis addr required"))
		}
	default:
		errs = append(errs, fmt.Errorf("session: unknown driver %q", c.Session.Driver))
	}
	switch c.Blob.Driver {
	case BlobFilesystem, BlobMemory:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob: s3 bucket required"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob: unknown driver %q", c.Blob.Driver))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Label returns the configured default label.
func (c *Config) Label() domain.Label {
	if l, ok := domain.ParseLabel(c.DefaultEnv); ok {
		return l
	}
	return domain.DefaultLabel
}

// Backend returns the storage settings of label.
func (c *Config) Backend(label domain.Label) (Backend, bool) {
	switch label {
	case domain.Dev:
		return c.Dev, true
	case domain.Prod:
		return c.Prod, true
	default:
		return Backend{}, false
	}
}

func (b Backend) validate() error {
	switch b.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if b.SQLitePath == "" {
			return errors.New("sqlite path required")
		}
		return nil
	case DriverPostgres:
		if b.PostgresDSN == "" {
			return errors.New("postgres dsn required")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", b.Driver)
	}
}

// target identifies the physical storage so two labels never share it.
// Memory backends are private to each label.
func (b Backend) target() string {
	switch b.Driver {
	case DriverSQLite:
		if abs, err := filepath.Abs(b.SQLitePath); err == nil {
			return "sqlite:" + abs
		}
		return "sqlite:" + filepath.Clean(b.SQLitePath)
	case DriverPostgres:
		return "postgres:" + b.PostgresDSN
	default:
		return ""
	}
}
