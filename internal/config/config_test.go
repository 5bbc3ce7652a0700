package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worldcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[world]
chunk_size = 64
debug = true
workers = 4

[tick]
rate = "20ms"

[logging]
format = "json"

[scene]
path = "scenes/arena.yaml"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.World.ChunkSize)
	assert.True(t, cfg.World.Debug)
	assert.Equal(t, 4, cfg.World.Workers)
	assert.Equal(t, 20*time.Millisecond, cfg.Tick.Rate)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "scenes/arena.yaml", cfg.Scene.Path)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1024, cfg.World.InitialObjects)
	assert.Equal(t, "pool", cfg.World.Scheduler)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Tick.StartSimulating)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative chunk size", "[world]\nchunk_size = -1\n"},
		{"unknown scheduler", "[world]\nscheduler = \"fifo\"\n"},
		{"zero tick rate", "[tick]\nrate = \"0s\"\n"},
		{"db without dsn", "[database]\nenabled = true\ndsn = \"\"\n"},
		{"not toml", "[world\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, "config/worldcore.toml", Path("config/worldcore.toml"))
	t.Setenv(EnvPath, "/etc/worldcore.toml")
	assert.Equal(t, "/etc/worldcore.toml", Path("config/worldcore.toml"))
}
