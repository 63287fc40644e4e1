package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"mediabridge/work/logger"
)

// Config holds all application configuration values for the media bridge.
// It includes the serving surface, local media authorization roots, the
// remote object API, the hybrid cache layout, and transcoder settings.
type Config struct {
	ListenPort          int           // TCP port for the public HTTP surface
	MediaRoots          []string      // Directories local sources may be served from
	CacheDir            string        // Root directory for per-item cache files
	SessionDir          string        // Root directory for segmented session output
	DatabasePath        string        // SQLite cache index location
	Remote              RemoteConfig  // Remote object API settings
	FFmpegPath          string        // Path to the ffmpeg binary
	FFprobePath         string        // Path to the ffprobe binary
	FFmpegPreInput      []string      // Extra ffmpeg arguments before -i
	FFmpegPreOutput     []string      // Extra ffmpeg arguments before the output target
	MaxTranscodes       int           // Concurrent transcode ceiling, beyond it requests are rejected
	ProbeTimeout        time.Duration // Wall-clock limit for ffprobe metadata probes
	SegmentDuration     int           // HLS segment length in seconds
	SessionIdleTimeout  time.Duration // Idle time before a segment session is reaped
	SessionReapInterval time.Duration // How often the session reaper scans
	WorkerThreads       int           // Worker pool size for background cache fills
	CopyBufferKB        int64         // Pooled copy buffer size in KB
	Debug               bool          // Enable debug logging
	ObfuscateUrls       bool          // Obfuscate URLs in logs
	LogLevel            string        // Minimum log level
}

// RemoteConfig represents the connection settings for the remote object API.
type RemoteConfig struct {
	BaseURL           string // Base URL of the object API (e.g. https://api.example.com)
	Token             string // Bearer token used on every request
	UserAgent         string // HTTP User-Agent header for requests
	RequestsPerSecond int    // Outbound request rate limit toward the API
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling
// configuration. Duration fields are stored as strings (e.g. "90s") and
// parsed into time.Duration values on load.
type ConfigFile struct {
	ListenPort          int              `json:"listenPort"`
	MediaRoots          []string         `json:"mediaRoots"`
	CacheDir            string           `json:"cacheDir"`
	SessionDir          string           `json:"sessionDir"`
	DatabasePath        string           `json:"databasePath"`
	Remote              RemoteConfigFile `json:"remote"`
	FFmpegPath          string           `json:"ffmpegPath"`
	FFprobePath         string           `json:"ffprobePath"`
	FFmpegPreInput      []string         `json:"ffmpegPreInput"`
	FFmpegPreOutput     []string         `json:"ffmpegPreOutput"`
	MaxTranscodes       int              `json:"maxTranscodes"`
	ProbeTimeout        string           `json:"probeTimeout"`        // Duration string (e.g. "15s")
	SegmentDuration     int              `json:"segmentDuration"`     // Seconds per HLS segment
	SessionIdleTimeout  string           `json:"sessionIdleTimeout"`  // Duration string (e.g. "2m")
	SessionReapInterval string           `json:"sessionReapInterval"` // Duration string (e.g. "30s")
	WorkerThreads       int              `json:"workerThreads"`
	CopyBufferKB        int64            `json:"copyBufferKB"`
	Debug               bool             `json:"debug"`
	ObfuscateUrls       bool             `json:"obfuscateUrls"`
	LogLevel            string           `json:"logLevel"`
}

// RemoteConfigFile mirrors RemoteConfig in the JSON file.
type RemoteConfigFile struct {
	BaseURL           string `json:"baseURL"`
	Token             string `json:"token"`
	UserAgent         string `json:"userAgent"`
	RequestsPerSecond int    `json:"requestsPerSecond"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// DefaultPath is where LoadConfig looks when MEDIABRIDGE_CONFIG is unset.
const DefaultPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Reads the path from MEDIABRIDGE_CONFIG, falling back to DefaultPath.
//   - Falls back to the default config if the file is missing or invalid.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	path := os.Getenv("MEDIABRIDGE_CONFIG")
	if path == "" {
		path = DefaultPath
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		logger.Warn("{config - LoadConfig} Falling back to defaults: %v", err)
		cfg = DefaultConfig()
	}

	configCache = cfg
	return configCache
}

// ClearConfigCache drops the cached singleton so the next LoadConfig call
// re-reads the file. Intended for tests.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// LoadConfigFrom reads and parses a configuration file, applying defaults
// for every field left unset.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if file.ListenPort > 0 {
		cfg.ListenPort = file.ListenPort
	}
	if len(file.MediaRoots) > 0 {
		cfg.MediaRoots = file.MediaRoots
	}
	if file.CacheDir != "" {
		cfg.CacheDir = file.CacheDir
	}
	if file.SessionDir != "" {
		cfg.SessionDir = file.SessionDir
	}
	if file.DatabasePath != "" {
		cfg.DatabasePath = file.DatabasePath
	}
	if file.Remote.BaseURL != "" {
		cfg.Remote.BaseURL = file.Remote.BaseURL
	}
	if file.Remote.Token != "" {
		cfg.Remote.Token = file.Remote.Token
	}
	if file.Remote.UserAgent != "" {
		cfg.Remote.UserAgent = file.Remote.UserAgent
	}
	if file.Remote.RequestsPerSecond > 0 {
		cfg.Remote.RequestsPerSecond = file.Remote.RequestsPerSecond
	}
	if file.FFmpegPath != "" {
		cfg.FFmpegPath = file.FFmpegPath
	}
	if file.FFprobePath != "" {
		cfg.FFprobePath = file.FFprobePath
	}
	if len(file.FFmpegPreInput) > 0 {
		cfg.FFmpegPreInput = file.FFmpegPreInput
	}
	if len(file.FFmpegPreOutput) > 0 {
		cfg.FFmpegPreOutput = file.FFmpegPreOutput
	}
	if file.MaxTranscodes > 0 {
		cfg.MaxTranscodes = file.MaxTranscodes
	}
	if file.SegmentDuration > 0 {
		cfg.SegmentDuration = file.SegmentDuration
	}
	if file.WorkerThreads > 0 {
		cfg.WorkerThreads = file.WorkerThreads
	}
	if file.CopyBufferKB > 0 {
		cfg.CopyBufferKB = file.CopyBufferKB
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	cfg.Debug = file.Debug
	cfg.ObfuscateUrls = file.ObfuscateUrls

	cfg.ProbeTimeout = parseDuration(file.ProbeTimeout, cfg.ProbeTimeout)
	cfg.SessionIdleTimeout = parseDuration(file.SessionIdleTimeout, cfg.SessionIdleTimeout)
	cfg.SessionReapInterval = parseDuration(file.SessionReapInterval, cfg.SessionReapInterval)

	return cfg, nil
}

// DefaultConfig returns the built-in configuration used when no file is
// present or a field is left unset.
func DefaultConfig() *Config {
	return &Config{
		ListenPort:          8080,
		MediaRoots:          []string{"/media"},
		CacheDir:            "/data/cache",
		SessionDir:          "/data/sessions",
		DatabasePath:        "/data/mediabridge.db",
		Remote:              RemoteConfig{UserAgent: "mediabridge", RequestsPerSecond: 10},
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		MaxTranscodes:       2,
		ProbeTimeout:        15 * time.Second,
		SegmentDuration:     4,
		SessionIdleTimeout:  2 * time.Minute,
		SessionReapInterval: 30 * time.Second,
		WorkerThreads:       4,
		CopyBufferKB:        64,
		LogLevel:            "INFO",
	}
}

// parseDuration parses a duration string, returning the fallback when the
// string is empty or malformed.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.Warn("{config - parseDuration} Invalid duration %q, using %s", s, fallback)
		return fallback
	}
	return d
}
