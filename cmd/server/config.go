package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/MegaGrindStone/health-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/health-chat-ui/internal/models"
	"github.com/MegaGrindStone/health-chat-ui/internal/services"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type speechConfig interface {
	recognizer(logger *slog.Logger) (chat.Recognizer, error)
}

type config struct {
	Port        string          `yaml:"port" env:"HEALTHCHAT_PORT"`
	LogLevel    string          `yaml:"logLevel" env:"HEALTHCHAT_LOG_LEVEL"`
	Language    string          `yaml:"language" env:"HEALTHCHAT_LANGUAGE"`
	RevealDelay time.Duration   `yaml:"revealDelay" env:"HEALTHCHAT_REVEAL_DELAY"`
	SessionTTL  time.Duration   `yaml:"sessionTTL" env:"HEALTHCHAT_SESSION_TTL"`
	Assistant   assistantConfig `yaml:"assistant"`

	// Speech is nil when voice input is not configured.
	Speech speechConfig `yaml:"-"`
}

type assistantConfig struct {
	Endpoint     string        `yaml:"endpoint" env:"HEALTHCHAT_ASSISTANT_ENDPOINT"`
	CSRFCookie   string        `yaml:"csrfCookie" env:"HEALTHCHAT_ASSISTANT_CSRF_COOKIE"`
	CSRFHeader   string        `yaml:"csrfHeader" env:"HEALTHCHAT_ASSISTANT_CSRF_HEADER"`
	CSRFPage     string        `yaml:"csrfPage" env:"HEALTHCHAT_ASSISTANT_CSRF_PAGE"`
	Timeout      time.Duration `yaml:"timeout" env:"HEALTHCHAT_ASSISTANT_TIMEOUT"`
	ProbeMessage string        `yaml:"probeMessage" env:"HEALTHCHAT_ASSISTANT_PROBE_MESSAGE"`
}

type openaiSpeechConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model" env:"HEALTHCHAT_SPEECH_MODEL"`
	APIKey   string `yaml:"apiKey" env:"HEALTHCHAT_SPEECH_API_KEY"`
	BaseURL  string `yaml:"baseURL" env:"HEALTHCHAT_SPEECH_BASE_URL"`
	Prompt   string `yaml:"prompt" env:"HEALTHCHAT_SPEECH_PROMPT"`
}

const speechProviderEnv = "HEALTHCHAT_SPEECH_PROVIDER"

func defaultConfig() config {
	return config{
		Port:        "8080",
		LogLevel:    "info",
		Language:    string(models.DefaultLanguage),
		RevealDelay: chat.DefaultRevealDelay,
		SessionTTL:  handlers.DefaultSessionTTL,
		Assistant: assistantConfig{
			CSRFCookie:   "csrftoken",
			CSRFHeader:   "X-CSRFToken",
			Timeout:      60 * time.Second,
			ProbeMessage: "test",
		},
	}
}

// loadConfig reads the YAML configuration from r on top of the defaults, then applies the environment
// overrides and validates the result. A nil r loads the configuration from the defaults and the
// environment only.
func loadConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()

	if r != nil {
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return config{}, err
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	// plain drops the UnmarshalYAML method so the regular fields decode onto the defaults.
	type plain config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}

	var rawConfig struct {
		Speech map[string]any `yaml:"speech"`
	}
	if err := value.Decode(&rawConfig); err != nil {
		return err
	}
	if len(rawConfig.Speech) == 0 {
		return nil
	}

	speechProvider, ok := rawConfig.Speech["provider"].(string)
	if !ok {
		return fmt.Errorf("speech provider is required")
	}

	speech, err := newSpeechConfig(speechProvider)
	if err != nil {
		return err
	}

	speechRawYAML, err := yaml.Marshal(rawConfig.Speech)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(speechRawYAML, speech); err != nil {
		return err
	}

	c.Speech = speech
	return nil
}

func newSpeechConfig(provider string) (speechConfig, error) {
	switch provider {
	case "openai":
		return &openaiSpeechConfig{Provider: provider}, nil
	default:
		return nil, fmt.Errorf("unknown speech provider: %s", provider)
	}
}

func (c *config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}

	if c.Speech == nil {
		if provider := os.Getenv(speechProviderEnv); provider != "" {
			speech, err := newSpeechConfig(provider)
			if err != nil {
				return err
			}
			c.Speech = speech
		}
	}
	if c.Speech != nil {
		if err := env.Parse(c.Speech); err != nil {
			return fmt.Errorf("error parsing speech environment: %w", err)
		}
	}

	return nil
}

func (c config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	if _, ok := models.ParseLanguage(c.Language); !ok {
		return fmt.Errorf("config: unsupported language %q", c.Language)
	}
	if c.RevealDelay < 0 {
		return fmt.Errorf("config: reveal delay must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: session ttl must be positive")
	}

	if c.Assistant.Endpoint == "" {
		return fmt.Errorf("config: assistant endpoint is required")
	}
	u, err := url.Parse(c.Assistant.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: invalid assistant endpoint %q", c.Assistant.Endpoint)
	}
	if c.Assistant.Timeout <= 0 {
		return fmt.Errorf("config: assistant timeout must be positive")
	}

	return nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func (c config) assistantOptions() services.AssistantOptions {
	return services.AssistantOptions{
		CSRFCookie:   c.Assistant.CSRFCookie,
		CSRFHeader:   c.Assistant.CSRFHeader,
		CSRFPage:     c.Assistant.CSRFPage,
		Timeout:      c.Assistant.Timeout,
		ProbeMessage: c.Assistant.ProbeMessage,
	}
}

func (o openaiSpeechConfig) recognizer(logger *slog.Logger) (chat.Recognizer, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("config: openai speech api key is required")
	}

	return services.NewWhisper(apiKey, o.Model, services.WhisperOptions{
		BaseURL: o.BaseURL,
		Prompt:  o.Prompt,
	}, logger), nil
}
