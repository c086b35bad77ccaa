// Package config loads process configuration from defaults, an optional YAML
// file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vincentbai/browsetrace/internal/browser"
	"github.com/vincentbai/browsetrace/internal/capture"
	"github.com/vincentbai/browsetrace/internal/replay"
	"github.com/vincentbai/browsetrace/internal/selector"
	"github.com/vincentbai/browsetrace/internal/store"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	ModeRecord = "record"
	ModeReplay = "replay"
	ModeServe  = "serve"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	Mode    string        `yaml:"mode"`
	URL     string        `yaml:"url"`
	Session string        `yaml:"session"`
	Output  OutputConfig  `yaml:"output"`
	Browser BrowserConfig `yaml:"browser"`
	Replay  ReplayConfig  `yaml:"replay"`
	Capture CaptureConfig `yaml:"capture"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Backend  string `yaml:"backend"`
	Format   string `yaml:"format"`
	Database string `yaml:"database"`
}

type BrowserConfig struct {
	Headless  bool   `yaml:"headless"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	UserAgent string `yaml:"user_agent"`
	ExecPath  string `yaml:"exec_path"`
	// NetworkIdleTimeout bounds how long a networkidle navigation waits.
	NetworkIdleTimeout string `yaml:"network_idle_timeout"`
}

type ReplayConfig struct {
	MaxDelay       string `yaml:"max_delay"`
	DelayThreshold string `yaml:"delay_threshold"`
	WaitTimeout    string `yaml:"wait_timeout"`
	KeyTimeout     string `yaml:"key_timeout"`
	Cooldown       string `yaml:"cooldown"`
	Readiness      string `yaml:"readiness"`
}

type CaptureConfig struct {
	SensitiveMarkers []string `yaml:"sensitive_markers"`
	SensitiveTypes   []string `yaml:"sensitive_types"`
	TestIDAttributes []string `yaml:"test_id_attributes"`
	VolatilePrefixes []string `yaml:"volatile_prefixes"`
	StateClasses     []string `yaml:"state_classes"`
	MaxBodyBytes     int      `yaml:"max_body_bytes"`
	Binding          string   `yaml:"binding"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	// Enabled runs the ingest and live feed server alongside a recording.
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

const DefaultNetworkIdleTimeout = 30 * time.Second

// ApplicationDirectory is the platform-specific data directory.
func ApplicationDirectory() string {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "BrowserTrace")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "BrowserTrace")
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "BrowserTrace")
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "BrowserTrace")
	}
}

func Default() *Config {
	applicationDirectory := ApplicationDirectory()
	replayDefaults := replay.DefaultOptions()
	synth := selector.Default()
	policy := capture.DefaultPolicy()
	return &Config{
		Mode: ModeRecord,
		URL:  "http://localhost:3000",
		Output: OutputConfig{
			Dir:      filepath.Join(applicationDirectory, "sessions"),
			Backend:  BackendFile,
			Format:   string(store.FormatJSON),
			Database: filepath.Join(applicationDirectory, "sessions.db"),
		},
		Browser: BrowserConfig{
			Width:              1280,
			Height:             800,
			NetworkIdleTimeout: DefaultNetworkIdleTimeout.String(),
		},
		Replay: ReplayConfig{
			MaxDelay:       replayDefaults.MaxDelay.String(),
			DelayThreshold: replayDefaults.DelayThreshold.String(),
			WaitTimeout:    replayDefaults.WaitTimeout.String(),
			KeyTimeout:     replayDefaults.KeyTimeout.String(),
			Cooldown:       replayDefaults.Cooldown.String(),
			Readiness:      string(replayDefaults.Readiness),
		},
		Capture: CaptureConfig{
			SensitiveMarkers: policy.Markers,
			SensitiveTypes:   policy.SensitiveTypes,
			TestIDAttributes: synth.TestIDAttributes,
			VolatilePrefixes: synth.VolatilePrefixes,
			StateClasses:     synth.StateClasses,
			MaxBodyBytes:     capture.DefaultMaxBodyBytes,
			Binding:          capture.DefaultBinding,
		},
		Server: ServerConfig{
			Address: "127.0.0.1:8123",
		},
		Log: LogConfig{
			Env:   "dev",
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// BROWSETRACE_CONFIG when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("BROWSETRACE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if value := getenv(key); value != "" {
				return value
			}
		}
		return ""
	}
	set := func(target *string, keys ...string) {
		if value := lookup(keys...); value != "" {
			*target = value
		}
	}

	set(&c.Mode, "BROWSETRACE_MODE", "MODE")
	set(&c.URL, "BROWSETRACE_URL", "BASE_URL")
	set(&c.Session, "BROWSETRACE_SESSION")
	set(&c.Output.Dir, "BROWSETRACE_SESSION_DIR")
	set(&c.Output.Backend, "BROWSETRACE_BACKEND")
	set(&c.Output.Format, "BROWSETRACE_FORMAT")
	set(&c.Output.Database, "BROWSETRACE_DATABASE")
	set(&c.Server.Address, "BROWSETRACE_ADDRESS")
	set(&c.Browser.ExecPath, "BROWSETRACE_CHROME")
	set(&c.Log.Env, "BROWSETRACE_ENV")
	set(&c.Log.Level, "LOG_LEVEL")

	if raw := lookup("BROWSETRACE_HEADLESS"); raw != "" {
		headless, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: BROWSETRACE_HEADLESS: %v", ErrInvalid, err)
		}
		c.Browser.Headless = headless
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Mode {
	case ModeRecord, ModeReplay, ModeServe:
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if c.Mode != ModeServe && strings.TrimSpace(c.URL) == "" {
		problems = append(problems, "url is required")
	}
	if c.Mode == ModeReplay && c.Session == "" {
		problems = append(problems, "replay needs a session id")
	}
	if c.Session != "" {
		if err := store.ValidateID(c.Session); err != nil {
			problems = append(problems, err.Error())
		}
	}
	switch c.Output.Backend {
	case BackendFile, BackendSQLite:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Output.Backend))
	}
	if _, err := store.ParseFormat(c.Output.Format); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		problems = append(problems, fmt.Sprintf("viewport %dx%d must be positive", c.Browser.Width, c.Browser.Height))
	}
	if _, err := browser.ParseReadiness(c.Replay.Readiness); err != nil {
		problems = append(problems, err.Error())
	}
	for _, field := range []struct{ name, raw string }{
		{"browser.network_idle_timeout", c.Browser.NetworkIdleTimeout},
		{"replay.max_delay", c.Replay.MaxDelay},
		{"replay.delay_threshold", c.Replay.DelayThreshold},
		{"replay.wait_timeout", c.Replay.WaitTimeout},
		{"replay.key_timeout", c.Replay.KeyTimeout},
		{"replay.cooldown", c.Replay.Cooldown},
	} {
		if field.raw == "" {
			continue
		}
		if d, err := time.ParseDuration(field.raw); err != nil || d < 0 {
			problems = append(problems, fmt.Sprintf("%s: invalid duration %q", field.name, field.raw))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// duration parses raw or falls back to def when raw is empty or malformed.
func duration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func (c *Config) ReplayOptions() replay.Options {
	defaults := replay.DefaultOptions()
	readiness, err := browser.ParseReadiness(c.Replay.Readiness)
	if err != nil {
		readiness = defaults.Readiness
	}
	return replay.Options{
		MaxDelay:       duration(c.Replay.MaxDelay, defaults.MaxDelay),
		DelayThreshold: duration(c.Replay.DelayThreshold, defaults.DelayThreshold),
		WaitTimeout:    duration(c.Replay.WaitTimeout, defaults.WaitTimeout),
		KeyTimeout:     duration(c.Replay.KeyTimeout, defaults.KeyTimeout),
		Cooldown:       duration(c.Replay.Cooldown, defaults.Cooldown),
		Readiness:      readiness,
	}
}

func (c *Config) Policy() capture.Policy {
	policy := capture.DefaultPolicy()
	if c.Capture.SensitiveMarkers != nil {
		policy.Markers = c.Capture.SensitiveMarkers
	}
	if c.Capture.SensitiveTypes != nil {
		policy.SensitiveTypes = c.Capture.SensitiveTypes
	}
	return policy
}

func (c *Config) Synthesizer() *selector.Synthesizer {
	synth := selector.Default()
	if c.Capture.TestIDAttributes != nil {
		synth.TestIDAttributes = c.Capture.TestIDAttributes
	}
	if c.Capture.VolatilePrefixes != nil {
		synth.VolatilePrefixes = c.Capture.VolatilePrefixes
	}
	if c.Capture.StateClasses != nil {
		synth.StateClasses = c.Capture.StateClasses
	}
	return synth
}

func (c *Config) ScriptConfig() capture.ScriptConfig {
	cfg := capture.NewScriptConfig(c.Policy(), c.Synthesizer())
	if c.Capture.Binding != "" {
		cfg.Binding = c.Capture.Binding
	}
	return cfg
}

func (c *Config) ChromeOptions(logger *zap.Logger) browser.ChromeOptions {
	return browser.ChromeOptions{
		Headless:           c.Browser.Headless,
		Width:              c.Browser.Width,
		Height:             c.Browser.Height,
		UserAgent:          c.Browser.UserAgent,
		ExecPath:           c.Browser.ExecPath,
		NetworkIdleTimeout: duration(c.Browser.NetworkIdleTimeout, DefaultNetworkIdleTimeout),
		Logger:             logger,
	}
}

