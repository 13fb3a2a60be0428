package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/MegaGrindStone/persona-web-ui/internal/orchestrator"
)

type messageView struct {
	ID        string
	Sender    string
	Content   template.HTML
	Timestamp time.Time
}

type homePageData struct {
	Characters            []models.Character
	Conversations         []models.Conversation
	CurrentCharacterID    string
	CurrentConversationID string
	Messages              []messageView
}

// HandleHome renders the chat page: the character list, the selected
// character's conversations in most-recently-updated order, and the selected
// conversation's messages with markdown-rendered content.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	characterID := r.URL.Query().Get("character_id")
	conversationID := r.URL.Query().Get("conversation_id")

	characters, err := m.store.Characters(r.Context(), orchestrator.DefaultUserID)
	if err != nil {
		m.logger.Error("Failed to get characters", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{
		Characters:            characters,
		CurrentCharacterID:    characterID,
		CurrentConversationID: conversationID,
	}

	if characterID != "" {
		conversations, err := m.store.Conversations(r.Context(), orchestrator.DefaultUserID, characterID)
		if err != nil {
			m.logger.Error("Failed to get conversations", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Conversations = conversations
	}

	if conversationID != "" {
		records, err := m.store.Messages(r.Context(), orchestrator.DefaultUserID, characterID, conversationID, 0)
		if err != nil {
			m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		views := make([]messageView, 0, len(records))
		for _, rec := range records {
			msg := rec.Message()
			content, err := models.RenderMarkdown(msg.Content)
			if err != nil {
				m.logger.Error("Failed to render content",
					slog.String("messageID", msg.ID),
					slog.String(errLoggerKey, err.Error()),
				)
				content = template.HTML(template.HTMLEscapeString(msg.Content))
			}
			views = append(views, messageView{
				ID:        msg.ID,
				Sender:    string(msg.Sender),
				Content:   content,
				Timestamp: msg.Timestamp,
			})
		}
		data.Messages = views
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
