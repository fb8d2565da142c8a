// Package config handles application configuration from a TOML file and
// environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigPath = "~/.config/distill/config.toml"

// ConfigurationError reports a missing or invalid setting. It is returned
// before any network call is attempted, so a missing credential never
// shows up as a transcription or generation failure.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// General holds output and logging settings.
type General struct {
	OutputDir     string `toml:"output_dir"`
	DefaultFormat string `toml:"default_format"`
	DefaultStyle  string `toml:"default_style"`
	LogLevel      string `toml:"log_level"`
}

// Whisper holds transcription backend settings. Backend is "local"
// (whisper.cpp binary) or "api" (OpenAI Whisper API).
type Whisper struct {
	Backend    string `toml:"backend"`
	Model      string `toml:"model"`
	BinaryPath string `toml:"binary_path"`
	ModelPath  string `toml:"model_path"`
	Language   string `toml:"language"`
}

// Claude holds Anthropic generation settings.
type Claude struct {
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

// Gemini holds Google generation settings.
type Gemini struct {
	Model string `toml:"model"`
}

// Generation selects the article generation backend: "claude" or "gemini".
type Generation struct {
	Backend string `toml:"backend"`
}

// Subscriptions holds feed sync settings.
type Subscriptions struct {
	CheckIntervalHours int  `toml:"check_interval_hours"`
	AutoProcess        bool `toml:"auto_process"`
}

// Telegram holds article delivery settings. The bot token comes from the
// environment, not the file.
type Telegram struct {
	ChatID int64 `toml:"chat_id"`
}

// Config is the application configuration.
type Config struct {
	General       General       `toml:"general"`
	Whisper       Whisper       `toml:"whisper"`
	Claude        Claude        `toml:"claude"`
	Gemini        Gemini        `toml:"gemini"`
	Generation    Generation    `toml:"generation"`
	Subscriptions Subscriptions `toml:"subscriptions"`
	Telegram      Telegram      `toml:"telegram"`

	// Credentials, from environment only.
	AnthropicAPIKey string `toml:"-"`
	OpenAIAPIKey    string `toml:"-"`
	GeminiAPIKey    string `toml:"-"`
	TelegramToken   string `toml:"-"`
}

func defaults() *Config {
	return &Config{
		General: General{
			OutputDir:     "~/Documents/distill",
			DefaultFormat: "markdown",
			DefaultStyle:  "detailed",
			LogLevel:      "info",
		},
		Whisper: Whisper{
			Backend:    "local",
			Model:      "base",
			BinaryPath: "whisper-cli",
			Language:   "en",
		},
		Claude: Claude{
			Model:     "claude-sonnet-4-6",
			MaxTokens: 8192,
		},
		Gemini: Gemini{
			Model: "gemini-2.5-flash",
		},
		Generation: Generation{
			Backend: "claude",
		},
		Subscriptions: Subscriptions{
			CheckIntervalHours: 24,
		},
	}
}

// Load reads configuration from the TOML file (path resolution: explicit
// argument, then DISTILL_CONFIG, then ~/.config/distill/config.toml),
// applies environment overrides, and picks up credentials from env.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := defaults()
	path = resolvePath(path)

	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	cfg.General.OutputDir = expandHome(cfg.General.OutputDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Set writes one setting back to the config file (same path resolution
// as Load). The key is a dotted "section.name" pair; the value is
// coerced to an integer or boolean when it parses as one. The updated
// file is validated before it replaces the old one.
func Set(path, key, value string) error {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return &ConfigurationError{Setting: key, Reason: "key must be in section.name form"}
	}

	path = resolvePath(path)

	data := map[string]map[string]any{}
	raw, err := os.ReadFile(path) //nolint:gosec // user-supplied config path
	if err == nil {
		if err := toml.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if data[section] == nil {
		data[section] = map[string]any{}
	}
	data[section][name] = coerceValue(value)

	out, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	cfg := defaults()
	dec := toml.NewDecoder(bytes.NewReader(out))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return &ConfigurationError{Setting: key, Reason: err.Error()}
	}
	if err := validate(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func coerceValue(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func resolvePath(path string) string {
	if path == "" {
		path = os.Getenv("DISTILL_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}
	return expandHome(path)
}

func applyEnvOverrides(cfg *Config) {
	set := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	set("DISTILL_OUTPUT_DIR", &cfg.General.OutputDir)
	set("DISTILL_DEFAULT_FORMAT", &cfg.General.DefaultFormat)
	set("DISTILL_DEFAULT_STYLE", &cfg.General.DefaultStyle)
	set("DISTILL_LOG_LEVEL", &cfg.General.LogLevel)
	set("DISTILL_WHISPER_BACKEND", &cfg.Whisper.Backend)
	set("DISTILL_WHISPER_MODEL", &cfg.Whisper.Model)
	set("DISTILL_WHISPER_BINARY", &cfg.Whisper.BinaryPath)
	set("DISTILL_WHISPER_MODEL_PATH", &cfg.Whisper.ModelPath)
	set("DISTILL_WHISPER_LANGUAGE", &cfg.Whisper.Language)
	set("DISTILL_CLAUDE_MODEL", &cfg.Claude.Model)
	set("DISTILL_GEMINI_MODEL", &cfg.Gemini.Model)
	set("DISTILL_GENERATION_BACKEND", &cfg.Generation.Backend)

	if v := os.Getenv("DISTILL_CLAUDE_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Claude.MaxTokens = n
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Whisper.Backend {
	case "local", "api":
	default:
		return &ConfigurationError{Setting: "whisper.backend", Reason: fmt.Sprintf("must be local or api, got %q", cfg.Whisper.Backend)}
	}
	switch cfg.Generation.Backend {
	case "claude", "gemini":
	default:
		return &ConfigurationError{Setting: "generation.backend", Reason: fmt.Sprintf("must be claude or gemini, got %q", cfg.Generation.Backend)}
	}
	if cfg.Claude.MaxTokens <= 0 {
		return &ConfigurationError{Setting: "claude.max_tokens", Reason: "must be positive"}
	}
	return nil
}

// RequireTranscriptionCredentials verifies the configured whisper backend
// can run before any audio is downloaded.
func (c *Config) RequireTranscriptionCredentials() error {
	switch c.Whisper.Backend {
	case "api":
		if c.OpenAIAPIKey == "" {
			return &ConfigurationError{Setting: "OPENAI_API_KEY", Reason: "required for the api whisper backend"}
		}
	case "local":
		path := c.WhisperModelPath()
		if _, err := os.Stat(path); err != nil {
			return &ConfigurationError{Setting: "whisper.model_path", Reason: fmt.Sprintf("model file %s not found", path)}
		}
	}
	return nil
}

// WhisperModelPath resolves the local whisper model file. An explicit
// model_path wins; otherwise the conventional ggml file for the model
// name is expected under ~/.cache/distill/models.
func (c *Config) WhisperModelPath() string {
	if c.Whisper.ModelPath != "" {
		return c.Whisper.ModelPath
	}
	return expandHome(filepath.Join("~/.cache/distill/models", "ggml-"+c.Whisper.Model+".bin"))
}

// RequireGenerationCredentials verifies the configured generation backend
// has its API key before any call is attempted.
func (c *Config) RequireGenerationCredentials() error {
	switch c.Generation.Backend {
	case "claude":
		if c.AnthropicAPIKey == "" {
			return &ConfigurationError{Setting: "ANTHROPIC_API_KEY", Reason: "required for the claude generation backend"}
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return &ConfigurationError{Setting: "GEMINI_API_KEY", Reason: "required for the gemini generation backend"}
		}
	}
	return nil
}

// RequireDeliveryCredentials verifies Telegram delivery is configured.
func (c *Config) RequireDeliveryCredentials() error {
	if c.TelegramToken == "" {
		return &ConfigurationError{Setting: "TELEGRAM_BOT_TOKEN", Reason: "required for telegram delivery"}
	}
	if c.Telegram.ChatID == 0 {
		return &ConfigurationError{Setting: "telegram.chat_id", Reason: "required for telegram delivery"}
	}
	return nil
}

// DatabasePath returns the SQLite database location inside the output dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.General.OutputDir, "distill.db")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
