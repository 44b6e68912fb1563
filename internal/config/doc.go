// Package config loads runtime configuration for pocketsync.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Environment variables POCKETSYNC_*, including those from .env and
//     .env.local in the working directory.
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-d string        local database path
//	-b string        local backend: sqlite, bolt or memory
//	-r string        remote backend: s3 or memory
//	-bucket string   S3 bucket
//	-region string   S3 region
//	-endpoint string S3 endpoint for S3-compatible servers
//	-pg string       PostgreSQL DSN of the secondary backup provider
//	-i int           online check interval (seconds)
//	-log-level string
//	-m string        metrics listen address of the serve command
//
// # JSON schema
//
// Intervals use timex.Duration, so they can be strings like "30s" or integer
// nanoseconds:
//
//	{
//	  "local_backend": "sqlite",
//	  "local_path": "pocketsync.db",
//	  "remote_backend": "s3",
//	  "s3": {"bucket": "pocketsync", "region": "us-east-1"},
//	  "sync_interval": "30s",
//	  "online_check_interval": "10s"
//	}
package config
