package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for tabletalk.
// Priority: CLI flags > env vars > config file > defaults
type Config struct {
	App       AppConfig                 `mapstructure:"app"`
	Agent     AgentConfig               `mapstructure:"agent"`
	Gateways  map[string]GatewayConfig  `mapstructure:"gateways"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Memory    MemoryConfig              `mapstructure:"memory"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Chart     ChartConfig               `mapstructure:"chart"`
	Prompts   PromptsConfig             `mapstructure:"prompts"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	DataFile  string `mapstructure:"data_file"`
	TableName string `mapstructure:"table_name"`
}

// AgentConfig bounds the orchestration engine.
type AgentConfig struct {
	// MaxRetries is the single retry ceiling: a query step makes at most MaxRetries+1 engine calls.
	MaxRetries    int     `mapstructure:"max_retries"`
	HistoryWindow int     `mapstructure:"history_window"`
	MaxRows       int     `mapstructure:"max_rows"`
	Temperature   float64 `mapstructure:"temperature"`
}

type GatewayConfig struct {
	Token              string `mapstructure:"token"`
	Enabled            bool   `mapstructure:"enabled"`
	MaxConcurrentTurns int    `mapstructure:"max_concurrent_turns"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	Enabled bool   `mapstructure:"enabled"`
}

type MemoryConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	LLMLogPath string `mapstructure:"llm_log_path"`
}

type ChartConfig struct {
	Dir        string `mapstructure:"dir"`
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	Rasterizer string `mapstructure:"rasterizer"`
}

type PromptsConfig struct {
	File string `mapstructure:"file"`
}

const (
	DefaultModel    = "gpt-4o-mini"
	EnvPrefix       = "TABLETALK"
	RasterizeVector = "vector"
	RasterizeChrome = "browser"

	GatewayTelegram = "telegram"
	GatewayDiscord  = "discord"
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tabletalk")
	v.SetDefault("agent.max_retries", 10)
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.max_rows", 100)
	v.SetDefault("agent.temperature", 0.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.llm_log_path", "logs/llm.jsonl")
	v.SetDefault("chart.dir", "charts")
	v.SetDefault("chart.width", 1000)
	v.SetDefault("chart.height", 600)
	v.SetDefault("chart.rasterizer", RasterizeVector)
	v.SetDefault("gateways.telegram.max_concurrent_turns", 4)
	v.SetDefault("gateways.discord.max_concurrent_turns", 4)
}

// Load reads the config file at path (if non-empty, or tabletalk.yaml in
// the working directory when present), then applies TABLETALK_* env vars.
// Flags should already be bound to v by the caller.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tabletalk")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyEnvFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvFallbacks enables an openai provider from OPENAI_API_KEY when
// no provider is configured.
func (c *Config) applyEnvFallbacks() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p := c.Providers["openai"]
		if p.APIKey == "" {
			p.APIKey = key
		}
		if name, _ := c.GetDefaultProvider(); name == "" {
			p.Enabled = true
		}
		c.Providers["openai"] = p
	}
	for name, p := range c.Providers {
		if p.Model == "" {
			p.Model = DefaultModel
			c.Providers[name] = p
		}
	}
}

// Validate rejects settings the engine cannot honour.
func (c *Config) Validate() error {
	switch {
	case c.Agent.MaxRetries < 0:
		return fmt.Errorf("agent.max_retries must be >= 0, got %d", c.Agent.MaxRetries)
	case c.Agent.HistoryWindow < 0:
		return fmt.Errorf("agent.history_window must be >= 0, got %d", c.Agent.HistoryWindow)
	case c.Agent.MaxRows <= 0:
		return fmt.Errorf("agent.max_rows must be > 0, got %d", c.Agent.MaxRows)
	}
	switch c.Chart.Rasterizer {
	case RasterizeVector, RasterizeChrome:
	default:
		return fmt.Errorf("chart.rasterizer must be %q or %q, got %q", RasterizeVector, RasterizeChrome, c.Chart.Rasterizer)
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGatewayConfig returns the named gateway's config if it is enabled
// and has a token.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	gw, ok := c.Gateways[name]
	if ok && gw.Enabled && gw.Token != "" {
		return gw, true
	}
	return GatewayConfig{}, false
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.GetGatewayConfig(GatewayTelegram)
}
