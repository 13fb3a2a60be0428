package handlers

import (
	"context"
	"html/template"
	"iter"
	"log/slog"

	personawebui "github.com/MegaGrindStone/persona-web-ui"
	"github.com/MegaGrindStone/persona-web-ui/internal/models"
)

// LLM represents a language model backend adapter. It accepts a system
// prompt and role-tagged turns, returning an iterator that yields incremental
// response fragments and potential errors.
type LLM interface {
	Chat(ctx context.Context, systemPrompt string, turns []models.Turn) iter.Seq2[string, error]
}

// ProviderSelector resolves a model identifier to its backend adapter.
type ProviderSelector func(model string) (LLM, error)

// Store defines the read surface the web shell needs for rendering the chat
// page. The full persistence contract lives with the orchestrator.
type Store interface {
	Characters(ctx context.Context, userID string) ([]models.Character, error)
	Conversations(ctx context.Context, userID, characterID string) ([]models.Conversation, error)
	Messages(ctx context.Context, userID, characterID, conversationID string, limit int) ([]models.MessageRecord, error)
}

// Blobs is the uploaded-file collaborator: write once, resolve by reference.
type Blobs interface {
	Store(data []byte, kind string) (string, error)
	Resolve(ref string) ([]byte, error)
}

// Main handles the chat completion endpoint and the minimal web shell,
// wiring the provider registry, the persistence store, and the blob store
// together.
type Main struct {
	templates *template.Template

	providers    ProviderSelector
	store        Store
	blobs        Blobs
	defaultModel string

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main instance. The HTML templates are parsed from
// the embedded filesystem.
func NewMain(
	providers ProviderSelector,
	store Store,
	blobs Blobs,
	defaultModel string,
	logger *slog.Logger,
) (Main, error) {
	tmpl, err := template.ParseFS(
		personawebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		templates:    tmpl,
		providers:    providers,
		store:        store,
		blobs:        blobs,
		defaultModel: defaultModel,
		logger:       logger.With(slog.String("module", "handlers")),
	}, nil
}
