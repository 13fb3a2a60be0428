package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/MegaGrindStone/persona-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// HandleChatCompletion serves POST /api/chat. The request body carries the
// role-tagged history plus the character's prompt and model choice; the
// response is a text/event-stream with one event per incremental fragment,
// each framed as `data: {"content": ...}`.
//
// Errors raised before any fragment is written map to HTTP status codes;
// backend errors pass their status through so the client can tell a
// credential problem from an outage. Once streaming has begun, a backend
// failure terminates the stream abruptly and the content already sent stands
// as the final partial reply.
func (m Main) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.logger.Error("Failed to decode chat request", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	model := req.Model
	if model == "" {
		model = req.Character.Model
	}
	if model == "" {
		model = m.defaultModel
	}

	provider, err := m.providers(model)
	if err != nil {
		var cfgErr services.ConfigurationError
		if errors.As(err, &cfgErr) {
			m.logger.Error("Backend not configured",
				slog.String("model", model),
				slog.String(errLoggerKey, err.Error()),
			)
			http.Error(w, cfgErr.Error(), http.StatusInternalServerError)
			return
		}
		m.logger.Error("Failed to select backend",
			slog.String("model", model),
			slog.String(errLoggerKey, err.Error()),
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	turns := services.FormatTurns(req.Messages, m.blobs, m.logger)

	wrote := false
	for fragment, err := range provider.Chat(r.Context(), req.Character.Prompt, turns) {
		if err != nil {
			if wrote {
				// Mid-stream failure: terminate without trailing malformed
				// data. The partial content already sent is the reply.
				m.logger.Error("Backend failed mid-stream", slog.String(errLoggerKey, err.Error()))
				return
			}
			var provErr services.ProviderError
			if errors.As(err, &provErr) {
				m.logger.Error("Backend rejected request",
					slog.Int("status", provErr.Status),
					slog.String(errLoggerKey, err.Error()),
				)
				http.Error(w, provErr.Body, provErr.Status)
				return
			}
			m.logger.Error("Backend request failed", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		if !wrote {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			wrote = true
		}

		payload, err := json.Marshal(models.ChatChunk{Content: fragment})
		if err != nil {
			m.logger.Error("Failed to marshal chunk", slog.String(errLoggerKey, err.Error()))
			continue
		}

		e := &sse.Message{}
		e.AppendData(string(payload))
		if _, err := e.WriteTo(w); err != nil {
			// The client went away; the adapter iterator is torn down by
			// returning here.
			return
		}
		flusher.Flush()
	}

	if !wrote {
		// Zero-fragment completion (degraded backend result): close the
		// stream cleanly with no events.
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}
}
