package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.LessOrEqual(t, cfg.Flow.ReadLowWatermark, cfg.Flow.ReadHighWatermark)
	require.Positive(t, cfg.NET.ReadBufferSize)
	require.Positive(t, cfg.NET.ReadTimeout)
	require.Positive(t, cfg.HTTP.MaxHeadersNumber)
	require.Zero(t, cfg.Limits.MaxRequests, "limits are opt-in")
	require.Zero(t, cfg.Limits.MaxConcurrency, "limits are opt-in")
}

func TestFromFile(t *testing.T) {
	t.Run("overrides layer on top of defaults", func(t *testing.T) {
		path := writeFile(t, `
net:
  read_timeout: 5s
limits:
  max_requests: 42
  graceful_timeout: 3s
`)

		cfg, err := FromFile(path)
		require.NoError(t, err)
		require.Equal(t, 5*time.Second, cfg.NET.ReadTimeout)
		require.EqualValues(t, 42, cfg.Limits.MaxRequests)
		require.Equal(t, 3*time.Second, cfg.Limits.GracefulTimeout)

		def := Default()
		require.Equal(t, def.NET.ReadBufferSize, cfg.NET.ReadBufferSize)
		require.Equal(t, def.Flow.ReadHighWatermark, cfg.Flow.ReadHighWatermark)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := FromFile(writeFile(t, "net: ["))
		require.Error(t, err)
	})
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}
