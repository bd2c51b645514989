// Package config provides YAML-based configuration loading for the command
// router and its collaborators.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from lsp.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Router    RouterConfig    `yaml:"router"`
	DB        DBConfig        `yaml:"db"`
	Console   ConsoleConfig   `yaml:"console"`
	Market    MarketConfig    `yaml:"market"`
	Identity  IdentityConfig  `yaml:"identity"`
	Telegraph TelegraphConfig `yaml:"telegraph"`
}

// ServerConfig controls the webhook HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// RouterConfig holds session, gating and timeout settings for the router.
type RouterConfig struct {
	SessionTTLSec          int               `yaml:"session_ttl_sec"`
	MaxSessionEntries      int               `yaml:"max_session_entries"`
	DevMode                bool              `yaml:"dev_mode"`
	CollaboratorTimeoutSec int               `yaml:"collaborator_timeout_sec"`
	SwitchRefreshSec       int               `yaml:"switch_refresh_sec"`
	SweepCron              string            `yaml:"sweep_cron"`
	PageSize               int               `yaml:"page_size"`
	Aliases                map[string]string `yaml:"aliases"`
}

// SessionTTL returns the session TTL as a duration.
func (r RouterConfig) SessionTTL() time.Duration {
	return time.Duration(r.SessionTTLSec) * time.Second
}

// CollaboratorTimeout returns the per-call collaborator timeout.
func (r RouterConfig) CollaboratorTimeout() time.Duration {
	return time.Duration(r.CollaboratorTimeoutSec) * time.Second
}

// SwitchRefresh returns the switch snapshot TTL.
func (r RouterConfig) SwitchRefresh() time.Duration {
	return time.Duration(r.SwitchRefreshSec) * time.Second
}

// DBConfig selects and configures the backing database.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite file
}

// ConsoleConfig bounds SQL console output.
type ConsoleConfig struct {
	MaxRows     int `yaml:"max_rows"`
	DisplayRows int `yaml:"display_rows"`
	DisplayCols int `yaml:"display_cols"`
}

// MarketConfig configures the market data provider.
type MarketConfig struct {
	BaseURL      string `yaml:"base_url"`
	DefaultBoard string `yaml:"default_board"`
}

// IdentityConfig selects the identity collaborator.
type IdentityConfig struct {
	Mode         string `yaml:"mode"` // "local" or "remote"
	ProviderCode string `yaml:"provider_code"`
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// TelegraphConfig configures the optional chat platform bridge.
type TelegraphConfig struct {
	Platform string        `yaml:"platform"` // "slack", "discord" or empty
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// envOverrides maps environment variables onto secret fields.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"LSP_DB_PASSWORD", func(c *Config) *string { return &c.DB.Password }},
	{"LSP_SLACK_APP_TOKEN", func(c *Config) *string { return &c.Telegraph.Slack.AppToken }},
	{"LSP_SLACK_BOT_TOKEN", func(c *Config) *string { return &c.Telegraph.Slack.BotToken }},
	{"LSP_DISCORD_BOT_TOKEN", func(c *Config) *string { return &c.Telegraph.Discord.BotToken }},
	{"LSP_IDENTITY_CLIENT_SECRET", func(c *Config) *string { return &c.Identity.ClientSecret }},
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded into the process
// environment first; variables already set are not overwritten.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.field(c) = v
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	r := &c.Router
	if r.SessionTTLSec == 0 {
		r.SessionTTLSec = 600
	}
	if r.MaxSessionEntries == 0 {
		r.MaxSessionEntries = 10000
	}
	if r.CollaboratorTimeoutSec == 0 {
		r.CollaboratorTimeoutSec = 10
	}
	if r.SwitchRefreshSec == 0 {
		r.SwitchRefreshSec = 30
	}
	if r.SweepCron == "" {
		r.SweepCron = "*/5 * * * *"
	}
	if r.PageSize == 0 {
		r.PageSize = 10
	}

	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "mysql" {
		if c.DB.Host == "" {
			c.DB.Host = "127.0.0.1"
		}
		if c.DB.Port == 0 {
			c.DB.Port = 3306
		}
		if c.DB.User == "" {
			c.DB.User = "root"
		}
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "lsp.db"
	}

	if c.Console.MaxRows == 0 {
		c.Console.MaxRows = 200
	}
	if c.Console.DisplayRows == 0 {
		c.Console.DisplayRows = 20
	}
	if c.Console.DisplayCols == 0 {
		c.Console.DisplayCols = 6
	}

	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://iss.moex.com/iss"
	}
	if c.Market.DefaultBoard == "" {
		c.Market.DefaultBoard = "TQBR"
	}

	if c.Identity.Mode == "" {
		c.Identity.Mode = "local"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Router.SessionTTLSec < 0 {
		errs = append(errs, "router.session_ttl_sec must be positive")
	}
	if c.Router.CollaboratorTimeoutSec < 0 {
		errs = append(errs, "router.collaborator_timeout_sec must be positive")
	}
	if c.Router.PageSize < 0 {
		errs = append(errs, "router.page_size must be positive")
	}
	switch c.DB.Driver {
	case "mysql":
		if c.DB.Database == "" {
			errs = append(errs, "db.database is required for mysql")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (mysql, sqlite)", c.DB.Driver))
	}
	switch c.Identity.Mode {
	case "local":
	case "remote":
		if c.Identity.BaseURL == "" {
			errs = append(errs, "identity.base_url is required for remote mode")
		}
		if c.Identity.TokenURL != "" && c.Identity.ClientID == "" {
			errs = append(errs, "identity.client_id is required when identity.token_url is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("identity.mode %q is not supported (local, remote)", c.Identity.Mode))
	}
	switch c.Telegraph.Platform {
	case "":
	case "slack":
		if c.Telegraph.Slack.AppToken == "" || c.Telegraph.Slack.BotToken == "" {
			errs = append(errs, "telegraph.slack.app_token and telegraph.slack.bot_token are required")
		}
	case "discord":
		if c.Telegraph.Discord.BotToken == "" {
			errs = append(errs, "telegraph.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("telegraph.platform %q is not supported (slack, discord)", c.Telegraph.Platform))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
