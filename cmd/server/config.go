package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	streamchatui "github.com/MegaGrindStone/stream-chat-ui"
	"github.com/MegaGrindStone/stream-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	provider(logger *slog.Logger) (handlers.Provider, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port             string        `yaml:"port"`
	APIBaseURL       string        `yaml:"apiBaseURL"`
	DeveloperMessage string        `yaml:"developerMessage"`
	DefaultModel     string        `yaml:"defaultModel"`
	CandidateModels  []string      `yaml:"candidateModels"`
	ProbeTimeout     time.Duration `yaml:"probeTimeout"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	Logger           loggerConfig  `yaml:"logger"`
	LLM              llmConfig     `yaml:"llm"`
}

type loggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

const (
	configPathEnv = "STREAMCHAT_CONFIG"

	defaultPort          = "8080"
	defaultProbeTimeout  = 30 * time.Second
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultOllamaHost    = "http://localhost:11434"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port             string         `yaml:"port"`
		APIBaseURL       string         `yaml:"apiBaseURL"`
		DeveloperMessage string         `yaml:"developerMessage"`
		DefaultModel     string         `yaml:"defaultModel"`
		CandidateModels  []string       `yaml:"candidateModels"`
		ProbeTimeout     time.Duration  `yaml:"probeTimeout"`
		RequestTimeout   time.Duration  `yaml:"requestTimeout"`
		Logger           loggerConfig   `yaml:"logger"`
		LLM              map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.APIBaseURL = rawConfig.APIBaseURL
	c.DeveloperMessage = rawConfig.DeveloperMessage
	c.DefaultModel = rawConfig.DefaultModel
	c.CandidateModels = rawConfig.CandidateModels
	c.ProbeTimeout = rawConfig.ProbeTimeout
	c.RequestTimeout = rawConfig.RequestTimeout
	c.Logger = rawConfig.Logger

	if rawConfig.LLM == nil {
		c.LLM = &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: "openai"}}
		return nil
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
	case "openai":
		llm = &openAIConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// applyDefaults fills every unset field. The session talks to this process's own API unless apiBaseURL
// points elsewhere.
func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "http://localhost:" + c.Port
	}
	if c.DeveloperMessage == "" {
		c.DeveloperMessage = models.DefaultDeveloperMessage
	}
	if c.DefaultModel == "" {
		c.DefaultModel = models.DefaultModel
	}
	if len(c.CandidateModels) == 0 {
		c.CandidateModels = models.DefaultCandidates
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
}

func (c config) validate() error {
	var errs []error
	for _, m := range c.CandidateModels {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, errors.New("candidate models must not be blank"))
			break
		}
	}
	if c.ProbeTimeout < 0 {
		errs = append(errs, fmt.Errorf("probeTimeout must not be negative, got %s", c.ProbeTimeout))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("requestTimeout must not be negative, got %s", c.RequestTimeout))
	}
	return errors.Join(errs...)
}

// configPath returns the configuration file location, $STREAMCHAT_CONFIG when set.
func configPath() (string, error) {
	if p := os.Getenv(configPathEnv); p != "" {
		return p, nil
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "streamchat", "config.yaml"), nil
}

// loadConfig decodes the configuration at path. When the file does not exist, the example configuration
// is written there and used.
func loadConfig(path string) (config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data = streamchatui.ExampleConfig
		if err := writeExampleConfig(path); err != nil {
			return config{}, err
		}
	} else if err != nil {
		return config{}, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func writeExampleConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, streamchatui.ExampleConfig, 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

func (o openAIConfig) provider(logger *slog.Logger) (handlers.Provider, error) {
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}

	var opts []services.OpenAIOption
	if baseURL != "" {
		opts = append(opts, services.WithOpenAIBaseURL(baseURL))
	}
	return services.NewOpenAI(logger, opts...), nil
}

func (o openRouterConfig) provider(logger *slog.Logger) (handlers.Provider, error) {
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return services.NewOpenAI(logger, services.WithOpenAIBaseURL(baseURL)), nil
}

func (o ollamaConfig) provider(_ *slog.Logger) (handlers.Provider, error) {
	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}

	p, err := services.NewOllama(host)
	if err != nil {
		return nil, err
	}
	return p, nil
}
