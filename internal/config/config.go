package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/pulsewatch/internal/connector"
	"github.com/crimson-sun/pulsewatch/internal/connector/pulsepoint"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// Config holds all pulsewatch configuration.
type Config struct {
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"` // "text" or "json"
	Upstream       UpstreamConfig `yaml:"upstream"`
	Poll           PollConfig     `yaml:"poll"`
	SourcesFile    string         `yaml:"sources_file"`
	EnabledSources []string       `yaml:"enabled_sources"`
	Sinks          []sink.Config  `yaml:"sinks"`
	Server         ServerConfig   `yaml:"server"`
}

// UpstreamConfig holds the incident feed connection settings.
type UpstreamConfig struct {
	Provider   string        `yaml:"provider"`
	Endpoint   string        `yaml:"endpoint"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	UserAgent  string        `yaml:"user_agent"`
}

// PollConfig controls cycle scheduling.
type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`
	RequestDelay time.Duration `yaml:"request_delay"`
}

// ServerConfig holds the query API settings. An empty Addr disables it.
// Origins lists extra host patterns allowed to open /api/stream from a
// browser on another origin.
type ServerConfig struct {
	Addr    string   `yaml:"addr"`
	Origins []string `yaml:"origins"`
}

const (
	DefaultInterval     = 120 * time.Second
	DefaultRequestDelay = 1500 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
	DefaultDataFile     = "pulsepoint_data.json"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from a YAML file, then applies PULSEWATCH_*
// environment overrides and defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getenv("PULSEWATCH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("PULSEWATCH_LOG_FORMAT", cfg.LogFormat)
	cfg.Upstream.Endpoint = getenv("PULSEWATCH_ENDPOINT", cfg.Upstream.Endpoint)
	cfg.Upstream.Secret = getenv("PULSEWATCH_SECRET", cfg.Upstream.Secret)
	cfg.SourcesFile = getenv("PULSEWATCH_SOURCES_FILE", cfg.SourcesFile)
	cfg.Server.Addr = getenv("PULSEWATCH_SERVER_ADDR", cfg.Server.Addr)
	cfg.Poll.Interval = getenvDuration("PULSEWATCH_POLL_INTERVAL", cfg.Poll.Interval)
	cfg.Upstream.MaxRetries = getenvInt("PULSEWATCH_MAX_RETRIES", cfg.Upstream.MaxRetries)
	if v := os.Getenv("PULSEWATCH_ENABLED_SOURCES"); v != "" {
		cfg.EnabledSources = splitList(v)
	}
	if v := os.Getenv("PULSEWATCH_SERVER_ORIGINS"); v != "" {
		cfg.Server.Origins = splitList(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Upstream.Provider == "" {
		cfg.Upstream.Provider = "pulsepoint"
	}
	if cfg.Upstream.Endpoint == "" {
		cfg.Upstream.Endpoint = pulsepoint.DefaultEndpoint
	}
	if cfg.Upstream.Secret == "" {
		cfg.Upstream.Secret = pulsepoint.DefaultSecret
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultTimeout
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = DefaultInterval
	}
	if cfg.Poll.RequestDelay == 0 {
		cfg.Poll.RequestDelay = DefaultRequestDelay
	}
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []sink.Config{{Kind: "file", Path: DefaultDataFile}}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: want text or json", c.LogFormat)
	}
	u, err := url.Parse(c.Upstream.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid upstream.endpoint %q", c.Upstream.Endpoint)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative, got %s", c.Upstream.Timeout)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative, got %d", c.Upstream.MaxRetries)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.RequestDelay < 0 {
		return fmt.Errorf("poll.request_delay must not be negative, got %s", c.Poll.RequestDelay)
	}
	for i, s := range c.Sinks {
		if s.Kind == "" {
			return fmt.Errorf("sinks[%d]: kind is required", i)
		}
	}
	return nil
}

// Connector returns the upstream settings in the form connector constructors take.
func (c Config) Connector() connector.Config {
	return connector.Config{
		Provider:   c.Upstream.Provider,
		Endpoint:   c.Upstream.Endpoint,
		Secret:     c.Upstream.Secret,
		UserAgent:  c.Upstream.UserAgent,
		Timeout:    c.Upstream.Timeout,
		MaxRetries: c.Upstream.MaxRetries,
	}
}

// WritesStdout reports whether any configured sink writes to stdout, in
// which case command output must go elsewhere.
func (c Config) WritesStdout() bool {
	for _, s := range c.Sinks {
		if s.Kind == "stdout" {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			return fallback
		}
		return time.Duration(n) * time.Second
	}
	return d
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
