// Package config loads service configuration from an optional YAML file
// named by TIMEKEEPER_CONFIG, then applies TIMEKEEPER_* environment
// overrides. Invalid override values are logged and ignored.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	HTTPAddr    string            `yaml:"http_addr"`
	LogLevel    string            `yaml:"log_level"`
	Auth        AuthConfig        `yaml:"auth"`
	Clock       ClockConfig       `yaml:"clock"`
	Propagation PropagationConfig `yaml:"propagation"`
	Orbits      OrbitsConfig      `yaml:"orbits"`
	TLE         TLEConfig         `yaml:"tle"`
	Stream      StreamConfig      `yaml:"stream"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redpanda    RedpandaConfig    `yaml:"redpanda"`
}

// AuthConfig guards the HTTP control surface with a bearer token.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Token        string `yaml:"token"`
	ProtectReads bool   `yaml:"protect_reads"`
}

// ClockConfig tunes the frame loop and the display throttle.
type ClockConfig struct {
	FrameInterval   time.Duration `yaml:"frame_interval"`
	DisplayInterval time.Duration `yaml:"display_interval"`
	JumpThreshold   time.Duration `yaml:"jump_threshold"`
	// StartLink restores the clock from a shared link on startup, taking
	// precedence over persisted state.
	StartLink string `yaml:"start_link"`
}

// PropagationConfig sizes the worker pool and the keyframe cache.
type PropagationConfig struct {
	Workers        int           `yaml:"workers"`
	KeyframeStep   time.Duration `yaml:"keyframe_step"`
	CrunchInterval time.Duration `yaml:"crunch_interval"`
	Lookahead      int           `yaml:"lookahead"`
	CacheWindow    time.Duration `yaml:"cache_window"`
}

// OrbitsConfig selects the satellites whose orbit paths are traced.
type OrbitsConfig struct {
	NORADIDs []int         `yaml:"norad_ids"`
	Limit    int           `yaml:"limit"`
	Segments int           `yaml:"segments"`
	Interval time.Duration `yaml:"interval"`
}

// TLEConfig locates the on-disk catalog cache.
type TLEConfig struct {
	CacheDir string `yaml:"cache_dir"`
	MaxFiles int    `yaml:"max_files"`
}

// StreamConfig limits and paces the SSE streams.
type StreamConfig struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	MaxStreams         int           `yaml:"max_streams"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	TrustProxy         bool          `yaml:"trust_proxy"`
}

// PostgresConfig enables clock state persistence when URL is set.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// RedpandaConfig enables clock sync publishing when Brokers is set.
type RedpandaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Clock: ClockConfig{
			FrameInterval:   16 * time.Millisecond,
			DisplayInterval: 500 * time.Millisecond,
			JumpThreshold:   300 * time.Millisecond,
		},
		Propagation: PropagationConfig{
			Workers:        runtime.NumCPU(),
			KeyframeStep:   5 * time.Second,
			CrunchInterval: time.Second,
			Lookahead:      12,
			CacheWindow:    10 * time.Minute,
		},
		Orbits: OrbitsConfig{
			Limit:    5,
			Segments: 90,
			Interval: 30 * time.Second,
		},
		TLE: TLEConfig{
			CacheDir: "/tmp/timekeeper/tle",
			MaxFiles: 5,
		},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 10,
			MaxStreams:         1000,
			KeepaliveInterval:  30 * time.Second,
		},
		Redpanda: RedpandaConfig{
			Topic: "clock-sync",
		},
	}
}

// Load builds the configuration from defaults, the optional file and the
// environment.
func Load(logger *slog.Logger) (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TIMEKEEPER_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.decode(b); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		logger.Info("loaded config file", "path", path)
	}

	cfg.applyEnv(logger)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) decode(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(logger *slog.Logger) {
	envString("TIMEKEEPER_HTTP_ADDR", &c.HTTPAddr)
	envString("TIMEKEEPER_LOG_LEVEL", &c.LogLevel)

	envBool(logger, "TIMEKEEPER_AUTH_ENABLED", &c.Auth.Enabled)
	envString("TIMEKEEPER_AUTH_TOKEN", &c.Auth.Token)
	envBool(logger, "TIMEKEEPER_AUTH_PROTECT_READS", &c.Auth.ProtectReads)

	envDuration(logger, "TIMEKEEPER_FRAME_INTERVAL", &c.Clock.FrameInterval)
	envDuration(logger, "TIMEKEEPER_DISPLAY_INTERVAL", &c.Clock.DisplayInterval)
	envDuration(logger, "TIMEKEEPER_JUMP_THRESHOLD", &c.Clock.JumpThreshold)
	envString("TIMEKEEPER_START_LINK", &c.Clock.StartLink)

	envInt(logger, "TIMEKEEPER_PROP_WORKERS", &c.Propagation.Workers)
	envDuration(logger, "TIMEKEEPER_KEYFRAME_STEP", &c.Propagation.KeyframeStep)
	envDuration(logger, "TIMEKEEPER_CRUNCH_INTERVAL", &c.Propagation.CrunchInterval)
	envInt(logger, "TIMEKEEPER_LOOKAHEAD", &c.Propagation.Lookahead)
	envDuration(logger, "TIMEKEEPER_CACHE_WINDOW", &c.Propagation.CacheWindow)

	envIntList(logger, "TIMEKEEPER_ORBIT_NORAD_IDS", &c.Orbits.NORADIDs)
	envInt(logger, "TIMEKEEPER_ORBIT_LIMIT", &c.Orbits.Limit)
	envInt(logger, "TIMEKEEPER_ORBIT_SEGMENTS", &c.Orbits.Segments)
	envDuration(logger, "TIMEKEEPER_ORBIT_INTERVAL", &c.Orbits.Interval)

	envString("TIMEKEEPER_TLE_CACHE_DIR", &c.TLE.CacheDir)
	envInt(logger, "TIMEKEEPER_TLE_MAX_FILES", &c.TLE.MaxFiles)

	envInt(logger, "TIMEKEEPER_STREAM_MAX_CONCURRENT", &c.Stream.MaxConcurrentPerIP)
	envInt(logger, "TIMEKEEPER_STREAM_MAX_TOTAL", &c.Stream.MaxStreams)
	envDuration(logger, "TIMEKEEPER_STREAM_KEEPALIVE_INTERVAL", &c.Stream.KeepaliveInterval)
	envBool(logger, "TIMEKEEPER_TRUST_PROXY", &c.Stream.TrustProxy)

	envString("TIMEKEEPER_DATABASE_URL", &c.Postgres.URL)
	if v := os.Getenv("TIMEKEEPER_REDPANDA_BROKERS"); v != "" {
		c.Redpanda.Brokers = splitList(v)
	}
	envString("TIMEKEEPER_REDPANDA_TOPIC", &c.Redpanda.Topic)
}

func (c *Config) validate() error {
	if c.Auth.Enabled && c.Auth.Token == "" {
		return errors.New("TIMEKEEPER_AUTH_TOKEN is required when auth is enabled")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Propagation.KeyframeStep <= 0 {
		return fmt.Errorf("keyframe step must be positive, got %v", c.Propagation.KeyframeStep)
	}
	if c.Propagation.CacheWindow < c.Propagation.KeyframeStep {
		return fmt.Errorf("cache window %v is shorter than keyframe step %v", c.Propagation.CacheWindow, c.Propagation.KeyframeStep)
	}
	if len(c.Redpanda.Brokers) > 0 && c.Redpanda.Topic == "" {
		return errors.New("redpanda topic is required when brokers are set")
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(logger *slog.Logger, key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}

func envInt(logger *slog.Logger, key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envDuration(logger *slog.Logger, key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", dst.String())
		return
	}
	*dst = d
}

func envIntList(logger *slog.Logger, key string, dst *[]int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []int
	for _, s := range splitList(v) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			logger.Warn("invalid "+key+" value, using default", "value", v)
			return
		}
		out = append(out, n)
	}
	*dst = out
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
