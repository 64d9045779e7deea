package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lunabot/luna/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Telegram   TelegramConfig   `koanf:"telegram"`
	Slack      SlackConfig      `koanf:"slack"`
	Anthropic  AnthropicConfig  `koanf:"anthropic"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Gemini     GeminiConfig     `koanf:"gemini"`
	Models     ModelsConfig     `koanf:"models"`
	Workspaces WorkspacesConfig `koanf:"workspaces"`
	Heartbeat  HeartbeatConfig  `koanf:"heartbeat"`
	Digest     DigestConfig     `koanf:"digest"`
	Search     SearchConfig     `koanf:"search"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type TelegramConfig struct {
	Token         string `koanf:"token"`
	UpdateTimeout int    `koanf:"update_timeout"`
	AlertChatID   int64  `koanf:"alert_chat_id"`
}

type SlackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

type AnthropicConfig struct {
	APIKey    string `koanf:"api_key"`
	MaxTokens int    `koanf:"max_tokens"`
}

type OpenAIConfig struct {
	APIKey       string `koanf:"api_key"`
	WhisperModel string `koanf:"whisper_model"`
}

type GeminiConfig struct {
	APIKey string `koanf:"api_key"`
}

type ModelsConfig struct {
	Default string            `koanf:"default"`
	Aliases map[string]string `koanf:"aliases"`
	Pricing map[string]Price  `koanf:"pricing"`
}

// Price is the cost per million tokens, input and output separately.
type Price struct {
	Input  float64 `koanf:"input"`
	Output float64 `koanf:"output"`
}

type WorkspacesConfig struct {
	Root         string                    `koanf:"root"`
	Default      string                    `koanf:"default"`
	HistoryLimit int                       `koanf:"history_limit"`
	Configs      map[string]WorkspaceEntry `koanf:"configs"`
}

type WorkspaceEntry struct {
	Mode            string  `koanf:"mode"` // "single", "shared-dm", "group"
	AuthorizedUsers []int64 `koanf:"authorized_users"`
	TelegramGroupID int64   `koanf:"telegram_group_id"`
	ListenMode      string  `koanf:"listen_mode"` // "all" or "mentions"
	Model           string  `koanf:"model"`       // per-workspace override
}

type HeartbeatConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Interval       string `koanf:"interval"`
	CompactEnabled bool   `koanf:"compact_enabled"`
	CompactCron    string `koanf:"compact_cron"`
}

type DigestConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Time           string `koanf:"time"`
	Timezone       string `koanf:"timezone"`
	Location       string `koanf:"location"`
	WeatherBaseURL string `koanf:"weather_base_url"`
	WeatherTimeout string `koanf:"weather_timeout"`
}

type SearchConfig struct {
	BraveAPIKey string `koanf:"brave_api_key"`
	MaxResults  int    `koanf:"max_results"`
}

const (
	DefaultLogLevel              = "info"
	DefaultWorkspace             = "main"
	DefaultHistoryLimit          = 20
	DefaultModel                 = "claude-sonnet-4-20250514"
	DefaultMaxTokens             = 4096
	DefaultWhisperModel          = "whisper-1"
	DefaultTelegramUpdateTimeout = 60
	DefaultHeartbeatInterval     = "30m"
	DefaultCompactCron           = "0 3 * * *"
	DefaultDigestTime            = "08:00"
	DefaultDigestTimezone        = "America/New_York"
	DefaultWeatherBaseURL        = "https://wttr.in"
	DefaultWeatherTimeout        = "10s"
	DefaultSearchMaxResults      = 5
	DefaultListenMode            = "all"
	DefaultWorkspaceMode         = "single"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.log_level":         DefaultLogLevel,
		"telegram.update_timeout":  DefaultTelegramUpdateTimeout,
		"anthropic.max_tokens":     DefaultMaxTokens,
		"openai.whisper_model":     DefaultWhisperModel,
		"models.default":           DefaultModel,
		"models.aliases":           defaultAliases(),
		"models.pricing":           defaultPricing(),
		"workspaces.root":          filepath.Join(os.Getenv("HOME"), ".luna", "workspaces"),
		"workspaces.default":       DefaultWorkspace,
		"workspaces.history_limit": DefaultHistoryLimit,
		"heartbeat.interval":       DefaultHeartbeatInterval,
		"heartbeat.compact_cron":   DefaultCompactCron,
		"digest.time":              DefaultDigestTime,
		"digest.timezone":          DefaultDigestTimezone,
		"digest.weather_base_url":  DefaultWeatherBaseURL,
		"digest.weather_timeout":   DefaultWeatherTimeout,
		"search.max_results":       DefaultSearchMaxResults,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".luna", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("LUNA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LUNA_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Standard env vars win over nothing, never over explicit config.
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Search.BraveAPIKey == "" {
		cfg.Search.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}

	normalizeWorkspaceEntries(&cfg)

	root, err := pathutil.Expand(cfg.Workspaces.Root)
	if err != nil {
		return nil, err
	}
	if root != "" {
		cfg.Workspaces.Root = root
	}

	return &cfg, nil
}

func normalizeWorkspaceEntries(cfg *Config) {
	for name, entry := range cfg.Workspaces.Configs {
		if entry.Mode == "" {
			entry.Mode = DefaultWorkspaceMode
		}
		if entry.ListenMode == "" {
			entry.ListenMode = DefaultListenMode
		}
		cfg.Workspaces.Configs[name] = entry
	}
}

func defaultAliases() map[string]string {
	return map[string]string{
		"sonnet": "claude-sonnet-4-20250514",
		"opus":   "claude-opus-4-20250514",
		"haiku":  "claude-3-5-haiku-20241022",
	}
}

// Pricing keys are matched as substrings of the full model name, so
// a family name covers every dated release in it.
func defaultPricing() map[string]Price {
	return map[string]Price{
		"sonnet": {Input: 3.0, Output: 15.0},
		"opus":   {Input: 15.0, Output: 75.0},
		"haiku":  {Input: 1.0, Output: 5.0},
	}
}
