package config

import "time"

// Storage drivers accepted for an environment backend.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Session drivers.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Blob drivers.
const (
	BlobFilesystem = "fs"
	BlobS3         = "s3"
	BlobMemory     = "memory"
)

// Config is the root configuration structure.
type Config struct {
	DefaultEnv string   `yaml:"default_env"`
	Dev        Backend  `yaml:"dev"`
	Prod       Backend  `yaml:"prod"`
	Signals    Signals  `yaml:"signals"`
	Session    Session  `yaml:"session"`
	Blob       Blob     `yaml:"blob"`
	Snapshot   Snapshot `yaml:"snapshot"`
	Log        Log      `yaml:"log"`
}

// Backend selects the storage of one environment label.
type Backend struct {
	Driver      string `yaml:"driver"` // memory, sqlite, postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Signals names the request inputs the environment resolver reads.
type Signals struct {
	Param  string `yaml:"param"`
	Header string `yaml:"header"`
	Cookie string `yaml:"cookie"`
}

// Session configures where resolved labels are remembered between requests.
type Session struct {
	Driver string `yaml:"driver"` // memory, redis
	Key    string `yaml:"key"`
	Redis  Redis  `yaml:"redis"`
}

// Redis holds connection settings for the redis session driver.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Blob configures the object store used for snapshot archives.
type Blob struct {
	Driver string `yaml:"driver"` // fs, s3, memory
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// S3 holds bucket settings for the s3 blob driver. Credentials come from the
// default AWS chain.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // MinIO and other compatible servers
	PathStyle bool   `yaml:"path_style"`
}

// Snapshot configures environment snapshot archives.
type Snapshot struct {
	Prefix string `yaml:"prefix"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
