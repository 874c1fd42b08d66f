package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	TLS       TLSConfig       `yaml:"tls"`
	Storage   StorageConfig   `yaml:"storage"`
	Autosave  AutosaveConfig  `yaml:"autosave"`
	Deck      DeckConfig      `yaml:"deck"`
	Assistant AssistantConfig `yaml:"assistant"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// TLSConfig configures HTTPS
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// StorageConfig configures the two persistence tiers
type StorageConfig struct {
	DBPath          string   `yaml:"db_path"`   // primary SQLite store
	DataPath        string   `yaml:"data_path"` // directory of the fallback key-value file
	DisablePrimary  bool     `yaml:"disable_primary"`
	ExportNoteSlots int      `yaml:"export_note_slots"`
	WorkshopIDs     []string `yaml:"workshop_ids"`
}

// AutosaveConfig configures the periodic snapshot save
type AutosaveConfig struct {
	Interval string `yaml:"interval"`
}

// DeckConfig points at the slide deck. Empty path means the embedded deck.
type DeckConfig struct {
	Path string `yaml:"path"`
}

// AssistantConfig configures the Gemini-backed workshop assistant
type AssistantConfig struct {
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	ThinkingBudget    int     `yaml:"thinking_budget"`
	KnowledgeBasePath string  `yaml:"knowledge_base_path"`
	Timeout           string  `yaml:"timeout"`

	DisableProactivePrompts bool `yaml:"disable_proactive_prompts"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			StaticDir: "./web",
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Storage: StorageConfig{
			DBPath:          "./data/workshop.db",
			DataPath:        "./data",
			ExportNoteSlots: 40,
			WorkshopIDs:     []string{"experiment-planner", "five-line-builder"},
		},
		Autosave: AutosaveConfig{
			Interval: "30s",
		},
		Assistant: AssistantConfig{
			Model:          "gemini-2.5-flash",
			Temperature:    0.7,
			MaxTokens:      6000,
			ThinkingBudget: 2048,
			Timeout:        "60s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("DATA_PATH"); v != "" {
		c.Storage.DataPath = v
	}
	if v := os.Getenv("DECK_PATH"); v != "" {
		c.Deck.Path = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Assistant.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" && c.Assistant.APIKey == "" {
		c.Assistant.APIKey = v
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.TLS.Enabled = enabled
		}
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
	}
	if _, err := c.AutosaveInterval(); err != nil {
		return err
	}
	if _, err := c.AssistantTimeout(); err != nil {
		return err
	}
	if c.Storage.ExportNoteSlots < 0 {
		return fmt.Errorf("storage.export_note_slots must not be negative")
	}
	return nil
}

// AutosaveInterval parses autosave.interval
func (c *Config) AutosaveInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Autosave.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid autosave.interval %q: %w", c.Autosave.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("autosave.interval must be positive")
	}
	return d, nil
}

// AssistantTimeout parses assistant.timeout
func (c *Config) AssistantTimeout() (time.Duration, error) {
	if c.Assistant.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Assistant.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid assistant.timeout %q: %w", c.Assistant.Timeout, err)
	}
	return d, nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
