package services

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
)

// LLM is the uniform streaming contract every backend adapter satisfies. The
// returned iterator yields incremental text fragments of the model's reply.
type LLM interface {
	Chat(ctx context.Context, systemPrompt string, turns []models.Turn) iter.Seq2[string, error]
}

// BackendKind identifies one of the supported chat completion protocols.
type BackendKind string

const (
	// KindOpenAI is an OpenAI-compatible streaming endpoint, the default.
	KindOpenAI BackendKind = "openai"
	// KindLocal is an OpenAI-compatible endpoint reached through an
	// alternate base URL and credential, for an allow-listed set of models.
	KindLocal BackendKind = "local"
	// KindGemini is a non-streaming REST endpoint that takes a single
	// flattened text blob instead of a role-tagged array.
	KindGemini BackendKind = "gemini"
	// KindOllama is a locally hosted Ollama server.
	KindOllama BackendKind = "ollama"
)

// Backend describes one reachable backend endpoint.
type Backend struct {
	Kind    BackendKind
	BaseURL string
	APIKey  string
}

// RegistryConfig holds the per-kind endpoints and the model allow-lists
// routed to each non-default kind.
type RegistryConfig struct {
	// Default is the primary OpenAI-compatible backend.
	Default Backend
	// Gemini is the flattened REST backend. Model identifiers starting with
	// "gemini" route here even when absent from GeminiModels.
	Gemini       Backend
	GeminiModels []string
	// Local is the alternate OpenAI-compatible backend.
	Local       Backend
	LocalModels []string
	// Ollama's BaseURL is the host of an Ollama server.
	Ollama       Backend
	OllamaModels []string
}

// Registry maps model identifiers to backends. It is built once at startup
// and read-only afterwards; adding a backend is a configuration change, not
// a code change.
type Registry struct {
	exact    map[string]Backend
	gemini   Backend
	fallback Backend

	logger *slog.Logger
}

// NewRegistry builds a registry from the given configuration. Model names
// are matched case-insensitively.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	exact := make(map[string]Backend)
	for _, name := range cfg.GeminiModels {
		exact[strings.ToLower(name)] = cfg.Gemini
	}
	for _, name := range cfg.LocalModels {
		exact[strings.ToLower(name)] = cfg.Local
	}
	for _, name := range cfg.OllamaModels {
		exact[strings.ToLower(name)] = cfg.Ollama
	}

	return &Registry{
		exact:    exact,
		gemini:   cfg.Gemini,
		fallback: cfg.Default,
		logger:   logger.With(slog.String("module", "registry")),
	}
}

// Lookup resolves a model identifier to its backend. Unlisted identifiers
// starting with "gemini" resolve to the gemini backend; everything else
// falls back to the default backend.
func (r *Registry) Lookup(model string) Backend {
	lower := strings.ToLower(model)
	if backend, ok := r.exact[lower]; ok {
		return backend
	}
	if strings.HasPrefix(lower, "gemini") {
		return r.gemini
	}
	return r.fallback
}

// Provider returns an adapter for the backend serving the given model. A
// backend selected without its required credential yields a
// ConfigurationError.
func (r *Registry) Provider(model string) (LLM, error) {
	backend := r.Lookup(model)

	r.logger.Debug("Selected backend",
		slog.String("model", model),
		slog.String("kind", string(backend.Kind)),
	)

	switch backend.Kind {
	case KindLocal:
		if backend.APIKey == "" {
			return nil, ConfigurationError{Backend: string(KindLocal), Missing: "api key"}
		}
		if backend.BaseURL == "" {
			return nil, ConfigurationError{Backend: string(KindLocal), Missing: "base url"}
		}
		return NewLocal(backend.APIKey, backend.BaseURL, model, r.logger), nil
	case KindGemini:
		if backend.APIKey == "" {
			return nil, ConfigurationError{Backend: string(KindGemini), Missing: "api key"}
		}
		return NewGemini(backend.APIKey, backend.BaseURL, model, r.logger), nil
	case KindOllama:
		if backend.BaseURL == "" {
			return nil, ConfigurationError{Backend: string(KindOllama), Missing: "host"}
		}
		return NewOllama(backend.BaseURL, model, r.logger)
	default:
		if backend.APIKey == "" {
			return nil, ConfigurationError{Backend: string(KindOpenAI), Missing: "api key"}
		}
		return NewOpenAI(backend.APIKey, backend.BaseURL, model, r.logger), nil
	}
}
