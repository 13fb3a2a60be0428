package main

import (
	"os"

	"github.com/MegaGrindStone/persona-web-ui/internal/services"
)

type config struct {
	Port         string `yaml:"port"`
	DataDir      string `yaml:"dataDir"`
	UploadDir    string `yaml:"uploadDir"`
	DefaultModel string `yaml:"defaultModel"`
	LogLevel     string `yaml:"logLevel"`

	Backends backendsConfig `yaml:"backends"`
}

type backendsConfig struct {
	DeepSeek deepSeekConfig `yaml:"deepseek"`
	Local    localConfig    `yaml:"local"`
	Gemini   geminiConfig   `yaml:"gemini"`
	Ollama   ollamaConfig   `yaml:"ollama"`
}

type deepSeekConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
}

type localConfig struct {
	APIKey  string   `yaml:"apiKey"`
	BaseURL string   `yaml:"baseURL"`
	Models  []string `yaml:"models"`
}

type geminiConfig struct {
	APIKey  string   `yaml:"apiKey"`
	BaseURL string   `yaml:"baseURL"`
	Models  []string `yaml:"models"`
}

type ollamaConfig struct {
	Host   string   `yaml:"host"`
	Models []string `yaml:"models"`
}

func envFallback(value, envKey string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envKey)
}

func (c config) applyDefaults() config {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "deepseek-chat"
	}
	if c.Backends.DeepSeek.BaseURL == "" {
		c.Backends.DeepSeek.BaseURL = "https://api.deepseek.com/v1"
	}
	if c.Backends.Ollama.Host == "" {
		c.Backends.Ollama.Host = envFallback("", "OLLAMA_HOST")
	}
	return c
}

func (c config) registryConfig() services.RegistryConfig {
	return services.RegistryConfig{
		Default: services.Backend{
			Kind:    services.KindOpenAI,
			BaseURL: c.Backends.DeepSeek.BaseURL,
			APIKey:  envFallback(c.Backends.DeepSeek.APIKey, "DEEPSEEK_API_KEY"),
		},
		Gemini: services.Backend{
			Kind:    services.KindGemini,
			BaseURL: c.Backends.Gemini.BaseURL,
			APIKey:  envFallback(c.Backends.Gemini.APIKey, "GEMINI_API_KEY"),
		},
		GeminiModels: c.Backends.Gemini.Models,
		Local: services.Backend{
			Kind:    services.KindLocal,
			BaseURL: c.Backends.Local.BaseURL,
			APIKey:  envFallback(c.Backends.Local.APIKey, "LOCAL_API_KEY"),
		},
		LocalModels: c.Backends.Local.Models,
		Ollama: services.Backend{
			Kind:    services.KindOllama,
			BaseURL: c.Backends.Ollama.Host,
		},
		OllamaModels: c.Backends.Ollama.Models,
	}
}
