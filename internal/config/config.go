package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/pocketsync/internal/flagx"
)

const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

var ErrInvalidConfig = errors.New("invalid config")

// S3 holds the settings of the S3 remote store.
type S3 struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type Config struct {
	LocalBackend  string
	LocalPath     string
	RemoteBackend string
	S3            S3
	// SecondaryDSN enables the PostgreSQL backup provider when set.
	SecondaryDSN string

	SyncDebounce     time.Duration
	SyncInterval     time.Duration
	SyncBatchSize    int
	MaxRetryAttempts int
	QueueMaxSize     int
	QueueMaxAge      time.Duration

	BackupBatchSize  int
	BackupBatchDelay time.Duration
	BackupChunkDelay time.Duration

	OnlineCheckInterval     time.Duration
	AutoBackupCheckInterval time.Duration

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.LocalBackend = BackendSQLite
	c.LocalPath = "pocketsync.db"
	c.RemoteBackend = BackendS3
	c.S3 = S3{Bucket: "pocketsync", Region: "us-east-1"}
	c.SecondaryDSN = ""

	c.SyncDebounce = 2 * time.Second
	c.SyncInterval = 30 * time.Second
	c.SyncBatchSize = 20
	c.MaxRetryAttempts = 3
	c.QueueMaxSize = 100
	c.QueueMaxAge = 24 * time.Hour

	c.BackupBatchSize = 50
	c.BackupBatchDelay = 10 * time.Millisecond
	c.BackupChunkDelay = 100 * time.Millisecond

	c.OnlineCheckInterval = 30 * time.Second
	c.AutoBackupCheckInterval = time.Hour

	c.LogLevel = "info"
	c.LogFormat = "text"
	c.MetricsAddr = ":9091"
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.LocalBackend {
	case BackendSQLite, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("%w: local backend %q", ErrInvalidConfig, c.LocalBackend)
	}
	switch c.RemoteBackend {
	case BackendS3, BackendMemory:
	default:
		return fmt.Errorf("%w: remote backend %q", ErrInvalidConfig, c.RemoteBackend)
	}
	if c.RemoteBackend == BackendS3 && c.S3.Bucket == "" {
		return fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if c.LocalBackend != BackendMemory && c.LocalPath == "" {
		return fmt.Errorf("%w: local path is required", ErrInvalidConfig)
	}
	return nil
}

// Load builds a Config from defaults, the JSON file, the environment and the
// flags in args (os.Args[1:]), later sources overriding earlier ones.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, flagx.ConfigPath(args)); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OwnFlags lists the flags Load consumes, so a command parser can skip them.
func OwnFlags() []string {
	return append([]string{"-c", "-config", "--config"}, flagNames...)
}
