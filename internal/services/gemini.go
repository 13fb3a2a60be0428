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
	"strings"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
)

// Gemini is the adapter for the Gemini-style REST endpoint. The endpoint
// takes one flattened text blob instead of a role-tagged array and returns a
// single non-streamed completion, which this adapter presents as a one-shot
// fragment to preserve the uniform streaming contract upstream.
type Gemini struct {
	apiKey  string
	baseURL string
	model   string

	client *http.Client

	logger *slog.Logger
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// geminiCandidate tolerates the two response shapes observed in the wild:
// the documented content.parts form and a bare output field.
type geminiCandidate struct {
	Content geminiContent `json:"content"`
	Output  string        `json:"output"`
}

const geminiAPIEndpoint = "https://generativelanguage.googleapis.com/v1beta"

const assistantLabel = "Assistant"

// NewGemini creates a new Gemini instance with the specified credential, base
// URL, and model name. An empty baseURL targets the public endpoint.
func NewGemini(apiKey, baseURL, model string, logger *slog.Logger) Gemini {
	if baseURL == "" {
		baseURL = geminiAPIEndpoint
	}
	return Gemini{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "gemini")),
	}
}

// flattenTurns joins the system prompt and each role-labelled turn into one
// newline-joined text blob. Image blocks contribute nothing here.
func flattenTurns(systemPrompt string, turns []models.Turn) string {
	lines := make([]string, 0, len(turns)+1)
	if systemPrompt != "" {
		lines = append(lines, systemPrompt)
	}
	for _, turn := range turns {
		label := "User"
		if turn.Role == models.RoleAssistant {
			label = assistantLabel
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, turn.Text()))
	}
	return strings.Join(lines, "\n")
}

func (g Gemini) extractText(res geminiResponse) string {
	if len(res.Candidates) == 0 {
		return ""
	}
	candidate := res.Candidates[0]

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	text := sb.String()
	if text == "" {
		text = candidate.Output
	}

	// The model sometimes echoes the trailing role label back; strip it so
	// the reply doesn't open with "Assistant:".
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, assistantLabel+":"); ok {
		text = strings.TrimSpace(rest)
	}
	return text
}

// Chat issues one synchronous completion request and yields the extracted
// text as a single fragment. An empty extraction closes the stream with zero
// fragments; that is degraded behavior, not an error.
func (g Gemini) Chat(ctx context.Context, systemPrompt string, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqBody := geminiRequest{
			Contents: []geminiContent{
				{
					Parts: []geminiPart{
						{Text: flattenTurns(systemPrompt, turns)},
					},
				},
			},
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
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
				Backend: string(KindGemini),
				Status:  resp.StatusCode,
				Body:    string(body),
			})
			return
		}

		var res geminiResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			yield("", fmt.Errorf("error decoding response: %w", err))
			return
		}

		text := g.extractText(res)
		if text == "" {
			g.logger.Warn("Gemini returned no text", slog.String("model", g.model))
			return
		}

		yield(text, nil)
	}
}
