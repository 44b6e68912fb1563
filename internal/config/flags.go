package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/pocketsync/internal/flagx"
)

var flagNames = []string{"-d", "-b", "-r", "-bucket", "-region", "-endpoint", "-pg", "-i", "-log-level", "-m"}

// parseFlags populates Config fields from the flags in args. Only the flags
// listed in flagNames are looked at, so subcommand arguments pass through.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, flagNames)

	fs := flag.NewFlagSet("pocketsync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.LocalPath, "d", cfg.LocalPath, "local database path")
	fs.StringVar(&cfg.LocalBackend, "b", cfg.LocalBackend, "local backend (sqlite, bolt, memory)")
	fs.StringVar(&cfg.RemoteBackend, "r", cfg.RemoteBackend, "remote backend (s3, memory)")
	fs.StringVar(&cfg.S3.Bucket, "bucket", cfg.S3.Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3.Region, "region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.S3.Endpoint, "endpoint", cfg.S3.Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.SecondaryDSN, "pg", cfg.SecondaryDSN, "PostgreSQL DSN of the secondary backup provider")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
		}
	})
	return nil
}
