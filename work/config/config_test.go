package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFrom(t *testing.T) {
	path := writeConfig(t, `{
		"listenPort": 9090,
		"mediaRoots": ["/srv/media"],
		"cacheDir": "/tmp/cache",
		"remote": {"baseURL": "https://api.example.com", "token": "secret", "requestsPerSecond": 3},
		"maxTranscodes": 4,
		"probeTimeout": "20s",
		"sessionIdleTimeout": "5m",
		"debug": true
	}`)

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, []string{"/srv/media"}, cfg.MediaRoots)
	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, 3, cfg.Remote.RequestsPerSecond)
	assert.Equal(t, 4, cfg.MaxTranscodes)
	assert.Equal(t, 20*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
	assert.True(t, cfg.Debug)

	// unset fields fall back to defaults
	assert.Equal(t, "/data/sessions", cfg.SessionDir)
	assert.Equal(t, 2, DefaultConfig().MaxTranscodes)
	assert.Equal(t, 30*time.Second, cfg.SessionReapInterval)
}

func TestLoadConfigFromMissingFile(t *testing.T) {
	_, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigFromBadDuration(t *testing.T) {
	path := writeConfig(t, `{"probeTimeout": "whenever"}`)

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ProbeTimeout, cfg.ProbeTimeout)
}

func TestLoadConfigSingleton(t *testing.T) {
	path := writeConfig(t, `{"listenPort": 7070}`)
	t.Setenv("MEDIABRIDGE_CONFIG", path)
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	first := LoadConfig()
	second := LoadConfig()
	assert.Same(t, first, second)
	assert.Equal(t, 7070, first.ListenPort)
}
