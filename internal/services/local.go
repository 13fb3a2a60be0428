package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Local is the adapter for the alternate OpenAI-compatible backend reached
// through its own base URL and credential. Only models on the configured
// allow-list route here.
type Local struct {
	apiKey  string
	baseURL string
	model   string

	client *http.Client

	logger *slog.Logger
}

type localChatRequest struct {
	Model    string         `json:"model"`
	Messages []localMessage `json:"messages"`
	Stream   bool           `json:"stream"`
}

type localMessage struct {
	Role string `json:"role"`

	// Content is either a plain string or a []localContentPart for
	// multimodal turns.
	Content any `json:"content"`
}

type localContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *localImageURL `json:"image_url,omitempty"`
}

type localImageURL struct {
	URL string `json:"url"`
}

type localStreamingResponse struct {
	Choices []localStreamingChoice `json:"choices"`
}

type localStreamingChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// NewLocal creates a new Local instance with the specified credential, base
// URL, and model name.
func NewLocal(apiKey, baseURL, model string, logger *slog.Logger) Local {
	return Local{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "local")),
	}
}

func localMessages(systemPrompt string, turns []models.Turn) []localMessage {
	msgs := make([]localMessage, 0, len(turns)+1)
	msgs = append(msgs, localMessage{
		Role:    "system",
		Content: systemPrompt,
	})
	for _, turn := range turns {
		if turn.TextOnly() {
			msgs = append(msgs, localMessage{
				Role:    string(turn.Role),
				Content: turn.Text(),
			})
			continue
		}

		parts := make([]localContentPart, 0, len(turn.Contents))
		for _, ct := range turn.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text != "" {
					parts = append(parts, localContentPart{Type: "text", Text: ct.Text})
				}
			case models.ContentTypeImage:
				parts = append(parts, localContentPart{
					Type:     "image_url",
					ImageURL: &localImageURL{URL: ct.ImageURI},
				})
			}
		}
		msgs = append(msgs, localMessage{
			Role:    string(turn.Role),
			Content: parts,
		})
	}
	return msgs
}

// Chat streams responses from the local backend for the given system prompt
// and turns. The context can be used to cancel the ongoing request;
// cancellation terminates the iterator silently.
func (l Local) Chat(ctx context.Context, systemPrompt string, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqBody := localChatRequest{
			Model:    l.model,
			Messages: localMessages(systemPrompt, turns),
			Stream:   true,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			l.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+l.apiKey)

		resp, err := l.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield("", ProviderError{
				Backend: string(KindLocal),
				Status:  resp.StatusCode,
				Body:    string(body),
			})
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}

			if ev.Data == "[DONE]" {
				return
			}

			var res localStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				l.logger.Debug("Skipping undecodable event",
					slog.String("event", ev.Data),
				)
				continue
			}

			if len(res.Choices) == 0 {
				continue
			}

			if content := res.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}
