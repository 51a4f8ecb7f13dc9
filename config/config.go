package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LoopSettings struct {
	MaxActions     int      `toml:"max_actions"`
	ActionCooldown Duration `toml:"action_cooldown"`
	IdleMin        Duration `toml:"idle_min"`
	IdleMax        Duration `toml:"idle_max"`
}

type FeatureSettings struct {
	Enabled       []string `toml:"enabled"`
	TweetCooldown Duration `toml:"tweet_cooldown"`
}

// ChatSettings drives "cypher chat", where two agents talk to each other.
type ChatSettings struct {
	Agents  []string `toml:"agents"`
	Turns   int      `toml:"turns"`
	Opening string   `toml:"opening"`
	Delay   Duration `toml:"delay"`
}

type DashboardSettings struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	TokenHash string `toml:"token_hash,omitempty"`
}

type StorageSettings struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn,omitempty"`
}

type PolicySettings struct {
	File string `toml:"file,omitempty"`
}

type TelemetrySettings struct {
	Endpoint    string `toml:"endpoint,omitempty"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name,omitempty"`
}

type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ModelSettings struct {
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

// Settings mirrors settings.toml.
type Settings struct {
	DataDirectory   string `toml:"data_directory"`
	AgentsDirectory string `toml:"agents_directory"`
	Agent           string `toml:"agent"`

	Loop      LoopSettings      `toml:"loop"`
	Features  FeatureSettings   `toml:"features"`
	Dashboard DashboardSettings `toml:"dashboard"`
	Storage   StorageSettings   `toml:"storage"`
	Policy    PolicySettings    `toml:"policy"`
	Telemetry TelemetrySettings `toml:"telemetry"`
	Log       LogSettings       `toml:"log"`
	Model     ModelSettings     `toml:"model"`
	Chat      ChatSettings      `toml:"chat"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Settings
	SettingsPath string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) AgentsDir() string {
	return ExpandPath(c.AgentsDirectory)
}

// FeatureEnabled reports whether the named feature is switched on.
func (c *Config) FeatureEnabled(name string) bool {
	for _, f := range c.Features.Enabled {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("CYPHER_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if agentsDir := os.Getenv("CYPHER_AGENTS_DIR"); agentsDir != "" {
		c.AgentsDirectory = agentsDir
	}
	if agent := os.Getenv("CYPHER_AGENT"); agent != "" {
		c.Agent = agent
	}
	if addr := os.Getenv("CYPHER_DASHBOARD_ADDR"); addr != "" {
		c.Dashboard.Addr = addr
		c.Dashboard.Enabled = true
	}
	if driver := os.Getenv("CYPHER_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if dsn := os.Getenv("CYPHER_STORAGE_DSN"); dsn != "" {
		c.Storage.DSN = dsn
	}
	if level := os.Getenv("CYPHER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.Endpoint = endpoint
	}
}

// LoadEnvFile loads a .env file into the process environment. A missing
// file is not an error; variables already set are left untouched.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if !FileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func CheckDebug() bool {
	debug := os.Getenv("CYPHER_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the debug log carries full request payloads
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		Debug = false
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (CYPHER_DEBUG=%s) ===", os.Getenv("CYPHER_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

// Load reads settings.toml (creating it from the template on first run),
// applies environment overrides and prepares the data directory.
func Load() (*Config, error) {
	settingsPath := os.Getenv("CYPHER_CONFIG")
	if settingsPath == "" {
		settingsPath = GetSettingsFilePath()
	}

	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Settings: *settings, SettingsPath: settingsPath}
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dataDir := cfg.DataDir()
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Loop.MaxActions <= 0 {
		return fmt.Errorf("loop.max_actions must be positive, got %d", c.Loop.MaxActions)
	}
	if c.Loop.IdleMax < c.Loop.IdleMin {
		return fmt.Errorf("loop.idle_max (%s) is shorter than loop.idle_min (%s)", c.Loop.IdleMax, c.Loop.IdleMin)
	}
	if c.Loop.ActionCooldown < 0 {
		return fmt.Errorf("loop.action_cooldown must not be negative")
	}
	if c.Features.TweetCooldown < 0 {
		return fmt.Errorf("features.tweet_cooldown must not be negative")
	}
	if c.Chat.Turns < 0 {
		return fmt.Errorf("chat.turns must not be negative, got %d", c.Chat.Turns)
	}
	if n := len(c.Chat.Agents); n != 0 && n != 2 {
		return fmt.Errorf("chat.agents needs exactly two agents, got %d", n)
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// Duration is a time.Duration that reads and writes as a string in TOML
// ("2m", "45m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
