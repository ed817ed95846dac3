package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/adapters/pebble"
)

func TestParseEnv_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, ParseEnv(&cfg))

	require.Equal(t, backendMemory, cfg.Backend)
	require.Equal(t, "evstore", cfg.NATSBucket)
	require.Equal(t, int64(32768), cfg.TipMaxBytes)
	require.Equal(t, 32, cfg.QueryMaxItems)
	require.Equal(t, 5*time.Millisecond, cfg.PebbleFsyncInterval)
	require.NoError(t, cfg.validate())
}

func TestParseEnv_Overrides(t *testing.T) {
	t.Setenv("EVSTORE_BACKEND", "pebble")
	t.Setenv("EVSTORE_PEBBLE_FSYNC", "interval")
	t.Setenv("EVSTORE_PEBBLE_FSYNC_INTERVAL", "20ms")
	t.Setenv("EVSTORE_TIP_MAX_BYTES", "1024")
	t.Setenv("EVSTORE_DYNAMODB_CREATE_TABLE", "true")

	var cfg Config
	require.NoError(t, ParseEnv(&cfg))
	require.Equal(t, backendPebble, cfg.Backend)
	require.Equal(t, 20*time.Millisecond, cfg.PebbleFsyncInterval)
	require.Equal(t, int64(1024), cfg.TipMaxBytes)
	require.True(t, cfg.DynamoCreateTable)

	mode, err := cfg.fsyncMode()
	require.NoError(t, err)
	require.Equal(t, pebble.FsyncModeInterval, mode)
}

func TestParseEnv_Invalid(t *testing.T) {
	t.Setenv("EVSTORE_TIP_MAX_BYTES", "lots")

	var cfg Config
	require.ErrorContains(t, ParseEnv(&cfg), "parse env")
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("EVSTORE_BACKEND", "sqlite")
	t.Setenv("EVSTORE_LOG_LEVEL", "warn")

	var cfg Config
	require.NoError(t, ParseEnv(&cfg))
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd, &cfg)

	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--backend", "pebble"}))
	require.Equal(t, backendPebble, cfg.Backend)
	require.Equal(t, "warn", cfg.LogLevel, "unset flags keep the env value")
}

func TestConfig_Validate(t *testing.T) {
	require.ErrorContains(t, Config{Backend: "cassandra"}.validate(), `unknown backend "cassandra"`)
	for _, b := range backends {
		require.NoError(t, Config{Backend: b}.validate())
	}
}

func TestConfig_LogLevel(t *testing.T) {
	level, err := Config{LogLevel: "debug"}.logLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	_, err = Config{LogLevel: "loud"}.logLevel()
	require.Error(t, err)
}

func TestConfig_FsyncMode(t *testing.T) {
	for in, want := range map[string]pebble.FsyncMode{
		"":         pebble.FsyncModeAlways,
		"always":   pebble.FsyncModeAlways,
		"Interval": pebble.FsyncModeInterval,
		"never":    pebble.FsyncModeNever,
	} {
		got, err := Config{PebbleFsync: in}.fsyncMode()
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := Config{PebbleFsync: "sometimes"}.fsyncMode()
	require.Error(t, err)
}
