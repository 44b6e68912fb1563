package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected func(*Config)
		wantErr  bool
	}{
		{
			name:     "no flags keeps defaults",
			args:     []string{"status"},
			expected: func(*Config) {},
		},
		{
			name: "all flags",
			args: []string{"-d", "x.db", "-b", "memory", "-r", "memory", "-bucket", "b1", "-region", "r1",
				"-endpoint", "http://minio:9000", "-pg", "postgres://localhost/db", "-i", "10", "-log-level", "debug", "-m", ":9999", "serve"},
			expected: func(c *Config) {
				c.LocalPath = "x.db"
				c.LocalBackend = "memory"
				c.RemoteBackend = "memory"
				c.S3.Bucket = "b1"
				c.S3.Region = "r1"
				c.S3.Endpoint = "http://minio:9000"
				c.SecondaryDSN = "postgres://localhost/db"
				c.OnlineCheckInterval = 10 * time.Second
				c.LogLevel = "debug"
				c.MetricsAddr = ":9999"
			},
		},
		{
			name:    "incorrect check interval",
			args:    []string{"-i", "abc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			err := parseFlags(cfg, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := defaults()
			tt.expected(want)
			assert.Empty(t, cmp.Diff(want, cfg))
		})
	}
}

func TestParseFlags_IntervalUntouchedWithoutFlag(t *testing.T) {
	cfg := defaults()
	cfg.OnlineCheckInterval = 1500 * time.Millisecond

	require.NoError(t, parseFlags(cfg, []string{"-d", "y.db"}))
	assert.Equal(t, 1500*time.Millisecond, cfg.OnlineCheckInterval)
}
