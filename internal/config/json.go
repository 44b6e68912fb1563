package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/pocketsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer and
// zero-valued fields that are absent from the file leave the defaults alone.
type JsonConfig struct {
	LocalBackend  string `json:"local_backend"`
	LocalPath     string `json:"local_path"`
	RemoteBackend string `json:"remote_backend"`
	S3            *struct {
		Bucket       string `json:"bucket"`
		Region       string `json:"region"`
		Endpoint     string `json:"endpoint"`
		AccessKey    string `json:"access_key"`
		SecretKey    string `json:"secret_key"`
		UsePathStyle bool   `json:"use_path_style"`
	} `json:"s3"`
	SecondaryDSN string `json:"secondary_dsn"`

	SyncDebounce     *timex.Duration `json:"sync_debounce"`
	SyncInterval     *timex.Duration `json:"sync_interval"`
	SyncBatchSize    int             `json:"sync_batch_size"`
	MaxRetryAttempts int             `json:"max_retry_attempts"`
	QueueMaxSize     int             `json:"queue_max_size"`
	QueueMaxAge      *timex.Duration `json:"queue_max_age"`

	BackupBatchSize  int             `json:"backup_batch_size"`
	BackupBatchDelay *timex.Duration `json:"backup_batch_delay"`
	BackupChunkDelay *timex.Duration `json:"backup_chunk_delay"`

	OnlineCheckInterval     *timex.Duration `json:"online_check_interval"`
	AutoBackupCheckInterval *timex.Duration `json:"auto_backup_check_interval"`

	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	MetricsAddr string `json:"metrics_addr"`
}

// parseJson overlays cfg with the JSON file at path. An empty path is a
// no-op.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.LocalBackend, jc.LocalBackend)
	setString(&cfg.LocalPath, jc.LocalPath)
	setString(&cfg.RemoteBackend, jc.RemoteBackend)
	if jc.S3 != nil {
		setString(&cfg.S3.Bucket, jc.S3.Bucket)
		setString(&cfg.S3.Region, jc.S3.Region)
		setString(&cfg.S3.Endpoint, jc.S3.Endpoint)
		setString(&cfg.S3.AccessKey, jc.S3.AccessKey)
		setString(&cfg.S3.SecretKey, jc.S3.SecretKey)
		cfg.S3.UsePathStyle = jc.S3.UsePathStyle
	}
	setString(&cfg.SecondaryDSN, jc.SecondaryDSN)

	setDuration(&cfg.SyncDebounce, jc.SyncDebounce)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setInt(&cfg.SyncBatchSize, jc.SyncBatchSize)
	setInt(&cfg.MaxRetryAttempts, jc.MaxRetryAttempts)
	setInt(&cfg.QueueMaxSize, jc.QueueMaxSize)
	setDuration(&cfg.QueueMaxAge, jc.QueueMaxAge)

	setInt(&cfg.BackupBatchSize, jc.BackupBatchSize)
	setDuration(&cfg.BackupBatchDelay, jc.BackupBatchDelay)
	setDuration(&cfg.BackupChunkDelay, jc.BackupChunkDelay)

	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.AutoBackupCheckInterval, jc.AutoBackupCheckInterval)

	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
