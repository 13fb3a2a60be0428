package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI is the adapter for OpenAI-compatible streaming chat completion
// endpoints. The primary DeepSeek backend goes through here with a custom
// base URL.
type OpenAI struct {
	model string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance for the given credential, base URL,
// and model name. An empty baseURL targets the official OpenAI endpoint.
func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:  model,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(turns []models.Turn) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		if turn.TextOnly() {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    string(turn.Role),
				Content: turn.Text(),
			})
			continue
		}

		parts := make([]goopenai.ChatMessagePart, 0, len(turn.Contents))
		for _, ct := range turn.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text != "" {
					parts = append(parts, goopenai.ChatMessagePart{
						Type: goopenai.ChatMessagePartTypeText,
						Text: ct.Text,
					})
				}
			case models.ContentTypeImage:
				parts = append(parts, goopenai.ChatMessagePart{
					Type: goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{
						URL: ct.ImageURI,
					},
				})
			}
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:         string(turn.Role),
			MultiContent: parts,
		})
	}
	return msgs
}

// Chat streams responses from an OpenAI-compatible endpoint for the given
// system prompt and turns. The context can be used to cancel the ongoing
// request; cancellation terminates the iterator silently.
func (o OpenAI) Chat(ctx context.Context, systemPrompt string, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := openAIMessages(turns)
		msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
			Role:    "system",
			Content: systemPrompt,
		})

		req := goopenai.ChatCompletionRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   true,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			var apiErr *goopenai.APIError
			if errors.As(err, &apiErr) {
				yield("", ProviderError{
					Backend: string(KindOpenAI),
					Status:  apiErr.HTTPStatusCode,
					Body:    apiErr.Message,
				})
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}
