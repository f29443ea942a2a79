package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Supported model.provider values.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// LoadFile reads a YAML config file from disk.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// parseBool parses a string as boolean with a default value.
// Accepts: "true", "1", "yes" as true; empty or other values return default.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Model    ModelConfig     `yaml:"model"`
	Chat     ChatConfig      `yaml:"chat"`
	Lanes    LanesConfig     `yaml:"lanes"`
	Log      LogConfig       `yaml:"log"`
	Profiles []ProfileConfig `yaml:"profiles"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host           string   `yaml:"host" envconfig:"HOST"`
	Port           int      `yaml:"port" envconfig:"PORT"`
	Quiet          string   `yaml:"quiet" envconfig:"QUIET"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// ModelConfig selects the generation backend and model ids.
type ModelConfig struct {
	Provider      string            `yaml:"provider" envconfig:"PROVIDER"`
	Default       string            `yaml:"default" envconfig:"DEFAULT"`
	Aliases       map[string]string `yaml:"aliases"`
	AllowOverride string            `yaml:"allow_override" envconfig:"ALLOW_OVERRIDE"`
	BaseURL       string            `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey        string            `yaml:"api_key" envconfig:"API_KEY"`
}

// ChatConfig holds reply shaping limits.
type ChatConfig struct {
	HistoryLimit     int     `yaml:"history_limit" envconfig:"HISTORY_LIMIT"`
	MaxReplyChars    int     `yaml:"max_reply_chars" envconfig:"MAX_REPLY_CHARS"`
	ReplyTemperature float64 `yaml:"reply_temperature" envconfig:"REPLY_TEMPERATURE"`
	ReplyMaxTokens   int     `yaml:"reply_max_tokens" envconfig:"REPLY_MAX_TOKENS"`
	BroadcastReplies string  `yaml:"broadcast_replies" envconfig:"BROADCAST_REPLIES"`
}

// LanesConfig bounds concurrent and pending generation work.
type LanesConfig struct {
	ReplyConcurrency int `yaml:"reply_concurrency" envconfig:"REPLY_CONCURRENCY"`
	ReplyMaxPending  int `yaml:"reply_max_pending" envconfig:"REPLY_MAX_PENDING"`
	SpawnConcurrency int `yaml:"spawn_concurrency" envconfig:"SPAWN_CONCURRENCY"`
	SpawnMaxPending  int `yaml:"spawn_max_pending" envconfig:"SPAWN_MAX_PENDING"`
}

// LogConfig feeds logging.Init.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// ProfileConfig seeds one personality at startup.
type ProfileConfig struct {
	Name        string `yaml:"name"`
	Personality string `yaml:"personality"`
}

// applyEnv overrides each group from CHORUS_<GROUP>_<FIELD> variables.
func (c *Config) applyEnv() error {
	groups := []struct {
		prefix string
		dst    any
	}{
		{"CHORUS_SERVER", &c.Server},
		{"CHORUS_MODEL", &c.Model},
		{"CHORUS_CHAT", &c.Chat},
		{"CHORUS_LANES", &c.Lanes},
		{"CHORUS_LOG", &c.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.dst); err != nil {
			return fmt.Errorf("config: env %s: %w", g.prefix, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Model.Provider == "" {
		c.Model.Provider = ProviderOpenAI
	}
	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 80
	}
	if c.Chat.MaxReplyChars == 0 {
		c.Chat.MaxReplyChars = 2000
	}
	if c.Chat.ReplyTemperature == 0 {
		c.Chat.ReplyTemperature = 0.7
	}
	if c.Chat.ReplyMaxTokens == 0 {
		c.Chat.ReplyMaxTokens = 512
	}
	if c.Lanes.ReplyConcurrency == 0 {
		c.Lanes.ReplyConcurrency = 4
	}
	if c.Lanes.ReplyMaxPending == 0 {
		c.Lanes.ReplyMaxPending = 64
	}
	if c.Lanes.SpawnConcurrency == 0 {
		c.Lanes.SpawnConcurrency = 1
	}
	if c.Lanes.SpawnMaxPending == 0 {
		c.Lanes.SpawnMaxPending = 4
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.Model.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Chat.HistoryLimit < 0 || c.Chat.MaxReplyChars < 0 || c.Chat.ReplyMaxTokens < 0 {
		return fmt.Errorf("config: chat limits must be positive")
	}
	if c.Lanes.ReplyConcurrency < 0 || c.Lanes.ReplyMaxPending < 0 ||
		c.Lanes.SpawnConcurrency < 0 || c.Lanes.SpawnMaxPending < 0 {
		return fmt.Errorf("config: lane limits must be positive")
	}
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" || strings.TrimSpace(p.Personality) == "" {
			return fmt.Errorf("config: seed profile needs name and personality")
		}
		if seen[key] {
			return fmt.Errorf("config: duplicate seed profile %q", p.Name)
		}
		seen[key] = true
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c Config) IsQuiet() bool {
	return parseBool(c.Server.Quiet, false)
}

func (c Config) IsModelOverrideAllowed() bool {
	return parseBool(c.Model.AllowOverride, false)
}

func (c Config) IsBroadcastReplies() bool {
	return parseBool(c.Chat.BroadcastReplies, false)
}
