package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama is the adapter for a locally hosted Ollama server. It handles
// streaming chat completions for models on the configured allow-list.
type Ollama struct {
	host  string
	model string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and
// model name.
func NewOllama(host, model string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, ConfigurationError{Backend: string(KindOllama), Missing: "valid host url"}
	}

	return Ollama{
		host:   host,
		model:  model,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

func ollamaMessages(systemPrompt string, turns []models.Turn) []api.Message {
	msgs := make([]api.Message, 0, len(turns)+1)
	msgs = append(msgs, api.Message{
		Role:    "system",
		Content: systemPrompt,
	})
	for _, turn := range turns {
		msg := api.Message{
			Role:    string(turn.Role),
			Content: turn.Text(),
		}
		for _, ct := range turn.Contents {
			if ct.Type != models.ContentTypeImage {
				continue
			}
			// Ollama takes raw image bytes, so data URIs are unpacked here.
			// Plain URLs cannot be forwarded and are skipped.
			if data, ok := decodeDataURI(ct.ImageURI); ok {
				msg.Images = append(msg.Images, api.ImageData(data))
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func decodeDataURI(uri string) ([]byte, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, false
	}
	_, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Chat streams responses from the Ollama model for the given system prompt
// and turns. The response is streamed incrementally through the returned
// iterator; cancellation terminates it silently.
func (o Ollama) Chat(ctx context.Context, systemPrompt string, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: ollamaMessages(systemPrompt, turns),
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped {
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}
