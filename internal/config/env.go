package config

import (
	"fmt"
	"strconv"
	"time"
)

const envPrefix = "POCKETSYNC_"

// parseEnv overlays cfg with POCKETSYNC_* variables.
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return v, ok && v != ""
	}

	strs := map[string]*string{
		"LOCAL_BACKEND":  &cfg.LocalBackend,
		"LOCAL_PATH":     &cfg.LocalPath,
		"REMOTE_BACKEND": &cfg.RemoteBackend,
		"S3_BUCKET":      &cfg.S3.Bucket,
		"S3_REGION":      &cfg.S3.Region,
		"S3_ENDPOINT":    &cfg.S3.Endpoint,
		"S3_ACCESS_KEY":  &cfg.S3.AccessKey,
		"S3_SECRET_KEY":  &cfg.S3.SecretKey,
		"SECONDARY_DSN":  &cfg.SecondaryDSN,
		"LOG_LEVEL":      &cfg.LogLevel,
		"LOG_FORMAT":     &cfg.LogFormat,
		"METRICS_ADDR":   &cfg.MetricsAddr,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	if v, ok := get("S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", envPrefix, err)
		}
		cfg.S3.UsePathStyle = b
	}

	ints := map[string]*int{
		"SYNC_BATCH_SIZE":    &cfg.SyncBatchSize,
		"MAX_RETRY_ATTEMPTS": &cfg.MaxRetryAttempts,
		"QUEUE_MAX_SIZE":     &cfg.QueueMaxSize,
		"BACKUP_BATCH_SIZE":  &cfg.BackupBatchSize,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"SYNC_DEBOUNCE":              &cfg.SyncDebounce,
		"SYNC_INTERVAL":              &cfg.SyncInterval,
		"QUEUE_MAX_AGE":              &cfg.QueueMaxAge,
		"BACKUP_BATCH_DELAY":         &cfg.BackupBatchDelay,
		"BACKUP_CHUNK_DELAY":         &cfg.BackupChunkDelay,
		"ONLINE_CHECK_INTERVAL":      &cfg.OnlineCheckInterval,
		"AUTO_BACKUP_CHECK_INTERVAL": &cfg.AutoBackupCheckInterval,
	}
	for name, dst := range durations {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}
