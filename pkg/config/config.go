package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by Load.
//
// Example (~/.helpdesk/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8088
// database:
//   driver: sqlite
//   dsn: /var/lib/helpdesk/helpdesk.db
// model:
//   provider: openai
//   model: gpt-4o-mini
// orchestration:
//   lock_window: 30s
//   cooldown: 3s
// inactivity:
//   threshold: 30m
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Database      DatabaseConfig      `yaml:"database"`
	Model         ModelConfig         `yaml:"model"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store"`
	Redis         RedisConfig         `yaml:"redis"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Inactivity    InactivityConfig    `yaml:"inactivity"`
	Tools         ToolsConfig         `yaml:"tools"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// ModelConfig selects the chat model behind the completion service.
type ModelConfig struct {
	Provider string         `yaml:"provider"` // openai, anthropic, ollama, deepseek, qwen, google, ark, qianfan, custom
	Model    string         `yaml:"model"`
	APIKey   string         `yaml:"api_key"`
	BaseURL  string         `yaml:"base_url"`
	Extra    map[string]any `yaml:"extra"`
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // openai, ollama, ark, qwen, google, qianfan, custom
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type VectorStoreConfig struct {
	Path     string `yaml:"path"` // empty = in-memory
	Compress bool   `yaml:"compress"`
}

// RedisConfig enables the redis-backed work queue when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

type OrchestrationConfig struct {
	LockWindow          time.Duration `yaml:"lock_window"`
	Cooldown            time.Duration `yaml:"cooldown"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	MatchFloor          float64       `yaml:"match_floor"`
	SwitchThreshold     float64       `yaml:"switch_threshold"`
	DocumentRelevance   float64       `yaml:"document_relevance"`
	SupportingRelevance float64       `yaml:"supporting_relevance"`
	DocumentTopK        int           `yaml:"document_top_k"`
	HistoryMessages     int           `yaml:"history_messages"`
	Workers             int           `yaml:"workers"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

type InactivityConfig struct {
	Threshold     time.Duration `yaml:"threshold"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ToolsConfig lists the customer data sources playbooks may look up.
// Queries and key patterns are fixed here; the model only supplies the key.
type ToolsConfig struct {
	Timeout      time.Duration       `yaml:"timeout"`
	SQLSources   []SQLSourceConfig   `yaml:"sql_sources"`
	RedisSources []RedisSourceConfig `yaml:"redis_sources"`
}

type SQLSourceConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Driver      string `yaml:"driver"` // mysql, postgres, sqlite
	DSN         string `yaml:"dsn"`
	// Query takes exactly one placeholder (? or $1) bound to the lookup key.
	Query   string `yaml:"query"`
	MaxRows int    `yaml:"max_rows"`
	// Organizations limits the source to these organizations; empty means all.
	Organizations []string `yaml:"organizations"`
}

type RedisSourceConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	// KeyPattern contains one %s replaced by the lookup key, e.g. "order:%s".
	KeyPattern    string   `yaml:"key_pattern"`
	Organizations []string `yaml:"organizations"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8088

	DefaultLockWindow          = 30 * time.Second
	DefaultCooldown            = 3 * time.Second
	DefaultCallTimeout         = 20 * time.Second
	DefaultMatchFloor          = 0.7
	DefaultSwitchThreshold     = 0.85
	DefaultDocumentRelevance   = 0.7
	DefaultSupportingRelevance = 0.5
	DefaultDocumentTopK        = 5
	DefaultHistoryMessages     = 10
	DefaultWorkers             = 4
	DefaultPollInterval        = 5 * time.Second
	DefaultInactivityThreshold = 30 * time.Minute
	DefaultSweepInterval       = time.Minute
	DefaultRedisQueue          = "helpdesk:conversations"
	DefaultToolTimeout         = 10 * time.Second
	DefaultToolMaxRows         = 20
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".helpdesk")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.helpdesk/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyDefaults()
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}

	return cfg, configFile, nil
}

// Validate checks values that have no sensible default.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return errors.New("invalid server.host (empty)")
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("invalid database.driver %q", c.Database.Driver)
	}
	o := c.Orchestration
	if o.CallTimeout > o.LockWindow {
		return fmt.Errorf("orchestration.call_timeout %s exceeds lock_window %s", o.CallTimeout, o.LockWindow)
	}
	seen := map[string]bool{}
	for _, src := range c.Tools.SQLSources {
		switch src.Driver {
		case "mysql", "postgres", "sqlite":
		default:
			return fmt.Errorf("invalid tools.sql_sources %q driver %q", src.Name, src.Driver)
		}
		if src.Name == "" || src.DSN == "" || src.Query == "" {
			return fmt.Errorf("tools.sql_sources %q needs name, dsn and query", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate tools source %q", src.Name)
		}
		seen[src.Name] = true
	}
	for _, src := range c.Tools.RedisSources {
		if src.Name == "" || src.Addr == "" || strings.Count(src.KeyPattern, "%s") != 1 {
			return fmt.Errorf("tools.redis_sources %q needs name, addr and a key_pattern with one %%s", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate tools source %q", src.Name)
		}
		seen[src.Name] = true
	}
	for name, v := range map[string]float64{
		"match_floor":          o.MatchFloor,
		"switch_threshold":     o.SwitchThreshold,
		"document_relevance":   o.DocumentRelevance,
		"supporting_relevance": o.SupportingRelevance,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid orchestration.%s %v", name, v)
		}
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		if dir, _, err := DefaultPaths(); err == nil {
			c.Database.DSN = filepath.Join(dir, "helpdesk.db")
		} else {
			c.Database.DSN = "helpdesk.db"
		}
	}
	if c.Redis.Queue == "" {
		c.Redis.Queue = DefaultRedisQueue
	}

	o := &c.Orchestration
	if o.LockWindow <= 0 {
		o.LockWindow = DefaultLockWindow
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	} else if o.Cooldown == 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
		if o.CallTimeout > o.LockWindow {
			o.CallTimeout = o.LockWindow
		}
	}
	if o.MatchFloor == 0 {
		o.MatchFloor = DefaultMatchFloor
	}
	if o.SwitchThreshold == 0 {
		o.SwitchThreshold = DefaultSwitchThreshold
	}
	if o.DocumentRelevance == 0 {
		o.DocumentRelevance = DefaultDocumentRelevance
	}
	if o.SupportingRelevance == 0 {
		o.SupportingRelevance = DefaultSupportingRelevance
	}
	if o.DocumentTopK <= 0 {
		o.DocumentTopK = DefaultDocumentTopK
	}
	if o.HistoryMessages <= 0 {
		o.HistoryMessages = DefaultHistoryMessages
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	if c.Inactivity.Threshold <= 0 {
		c.Inactivity.Threshold = DefaultInactivityThreshold
	}
	if c.Inactivity.SweepInterval <= 0 {
		c.Inactivity.SweepInterval = DefaultSweepInterval
	}

	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = DefaultToolTimeout
	}
	for i := range c.Tools.SQLSources {
		if c.Tools.SQLSources[i].MaxRows <= 0 {
			c.Tools.SQLSources[i].MaxRows = DefaultToolMaxRows
		}
	}
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Database: DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(configDir, "helpdesk.db")},
		Model:    ModelConfig{Provider: "openai", Model: "gpt-4o-mini"},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	if c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil {
		return DefaultPort
	}
	if c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func ptr[T any](v T) *T { return &v }
