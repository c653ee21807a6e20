package main

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/services"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (services.LLM, error)
	model() string
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port          string                          `yaml:"port"`
	SystemPrompt  string                          `yaml:"systemPrompt"`
	ContextTokens int                             `yaml:"contextTokens"`
	LLM           llmConfig                       `yaml:"llm"`
	MCPSSEServers map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
	MCPStdIO      map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
}

// envConfig holds the settings read from the environment. They take precedence over the config file.
type envConfig struct {
	Port               string        `env:"PORT"`
	ConfigPath         string        `env:"CONFIG_PATH"`
	LogLevel           string        `env:"LOG_LEVEL" env-default:"info"`
	LogFormat          string        `env:"LOG_FORMAT" env-default:"text"`
	SessionBackend     string        `env:"SESSION_BACKEND" env-default:"memory"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`
	RedisAddr          string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" env-default:"0"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	BaseURL       string                 `yaml:"baseURL"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	Endpoint      string                 `yaml:"endpoint"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type mcpSSEServerConfig struct {
	URL string `yaml:"url"`
}

type mcpStdIOServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

const (
	defaultPort = "8080"

	// OpenRouter serves the OpenAI chat completions protocol under this base URL.
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// loadEnv loads a .env file from the working directory, if there is one, and reads the environment.
func loadEnv() (envConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return envConfig{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return envConfig{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}

// configPath returns the config file to read, creating the default config directory when no explicit
// path is given.
func (e envConfig) configPath() (string, error) {
	if e.ConfigPath != "" {
		return e.ConfigPath, nil
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	dir := filepath.Join(cfgDir, "threadchat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func (e envConfig) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(e.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to decode config file: %w", err)
	}
	return cfg, nil
}

// port returns the listening port, preferring the environment over the config file.
func (c config) port(env envConfig) string {
	if env.Port != "" {
		return env.Port
	}
	if c.Port != "" {
		return c.Port
	}
	return defaultPort
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port            string                          `yaml:"port"`
		SystemPrompt    string                          `yaml:"systemPrompt"`
		ContextTokens   int                             `yaml:"contextTokens"`
		LLM             map[string]any                  `yaml:"llm"`
		MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
		MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openaiConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.ContextTokens = rawConfig.ContextTokens
	c.LLM = llm
	c.MCPSSEServers = rawConfig.MCPSSEServers
	c.MCPStdIO = rawConfig.MCPStdIOServers

	return nil
}

func (b BaseLLMConfig) model() string {
	return b.Model
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (o openaiConfig) llm(systemPrompt string, logger *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (a anthropicConfig) llm(systemPrompt string, logger *slog.Logger) (services.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, systemPrompt, a.MaxTokens, logger), nil
}

func (o openRouterConfig) llm(systemPrompt string, logger *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	baseURL := cmp.Or(o.Endpoint, openRouterBaseURL)
	return services.NewOpenAI(apiKey, baseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}
