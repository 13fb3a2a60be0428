// Package orchestrator sequences chat turns: append the user message,
// persist it, request the AI reply, stream fragments into a draft message,
// and persist the completed reply. It owns the lifecycle of the one in-flight
// request a conversation may have.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/MegaGrindStone/persona-web-ui/internal/stream"
	"github.com/google/uuid"
)

// DefaultUserID is the single fixed user the application runs as.
const DefaultUserID = "default"

// Store is the persistence collaborator the orchestrator writes turns
// through. Its role vocabulary is "user"/"assistant".
type Store interface {
	Messages(ctx context.Context, userID, characterID, conversationID string, limit int) ([]models.MessageRecord, error)
	CreateMessage(ctx context.Context, rec models.MessageRecord) (models.MessageRecord, error)
	DeleteMessage(ctx context.Context, id string) (bool, error)
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
}

// Notifier surfaces transient user-facing notices. Cancellation never
// produces a notice.
type Notifier interface {
	Notify(message string)
}

// NoTargetError reports a regenerate request with no prior AI/user message
// pair to work from.
type NoTargetError struct {
	Reason string
}

func (e NoTargetError) Error() string {
	return "no regenerate target: " + e.Reason
}

// cancelToken is the ownership-scoped handle of one in-flight request.
// Exactly one may be current at a time; superseding it signals the old
// operation to stop without erroring the user.
type cancelToken struct {
	cancel context.CancelFunc
}

// Orchestrator drives at most one chat turn at a time against the chat
// completion endpoint. A new SendMessage while a turn is in flight
// supersedes it: the old request is cancelled, never queued behind.
type Orchestrator struct {
	endpoint string
	userID   string

	client   *http.Client
	store    Store
	notifier Notifier

	logger *slog.Logger

	mu             sync.Mutex
	current        *cancelToken
	conversationID string
	messages       []models.Message
}

// New creates an Orchestrator talking to the chat completion endpoint at
// endpoint and persisting through store. notifier may be nil.
func New(endpoint string, store Store, notifier Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		endpoint: endpoint,
		userID:   DefaultUserID,
		client:   &http.Client{},
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("module", "orchestrator")),
	}
}

// Messages returns a snapshot of the in-memory conversation state.
func (o *Orchestrator) Messages() []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// ConversationID returns the active conversation, empty when none is active.
func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationID
}

// SendMessage runs one full turn. It is a no-op when content is blank and no
// images are attached. A turn already in flight is superseded first.
//
// The user message is persisted best-effort: a failing save is logged and
// the turn proceeds, prioritizing chat continuity over storage consistency.
func (o *Orchestrator) SendMessage(
	ctx context.Context,
	content string,
	character models.Character,
	imageRefs []string,
	conversationID string,
) error {
	if strings.TrimSpace(content) == "" && len(imageRefs) == 0 {
		return nil
	}

	o.CancelCurrentRequest()

	convID := o.ensureConversation(ctx, content, character, conversationID)

	userMsg := models.Message{
		ID:             uuid.New().String(),
		Content:        content,
		Sender:         models.SenderUser,
		Timestamp:      time.Now(),
		CharacterID:    character.ID,
		ConversationID: convID,
		ImageRefs:      imageRefs,
	}
	o.appendMessage(userMsg)

	if _, err := o.store.CreateMessage(ctx, models.MessageRecord{
		ID:             userMsg.ID,
		UserID:         o.userID,
		CharacterID:    character.ID,
		ConversationID: convID,
		Role:           models.RoleUser,
		Content:        content,
		ImageRefs:      imageRefs,
		Timestamp:      userMsg.Timestamp,
	}); err != nil {
		o.logger.Error("Failed to persist user message",
			slog.String("messageID", userMsg.ID),
			slog.String("err", err.Error()),
		)
	}

	draft := models.Message{
		ID:             uuid.New().String(),
		Sender:         models.SenderAI,
		Timestamp:      time.Now(),
		CharacterID:    character.ID,
		ConversationID: convID,
	}
	o.appendMessage(draft)

	history := historyPayload(o.messagesBefore(draft.ID))

	return o.streamTurn(ctx, character, history, draft.ID)
}

// CancelCurrentRequest signals the current in-flight request to stop. It is
// idempotent and silent; cancellation is not an error.
func (o *Orchestrator) CancelCurrentRequest() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.cancel()
		o.current = nil
	}
}

// RegenerateLastMessage deletes the most recent AI reply and streams a
// replacement for it, reusing the same in-memory message as the draft. The
// regenerated content is persisted under a new record.
func (o *Orchestrator) RegenerateLastMessage(ctx context.Context, character models.Character) error {
	o.CancelCurrentRequest()

	msgs := o.Messages()
	aiIdx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderAI {
			aiIdx = i
			break
		}
	}
	if aiIdx < 0 {
		return NoTargetError{Reason: "no AI message to regenerate"}
	}

	userIdx := -1
	for i := aiIdx - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return NoTargetError{Reason: "no user message precedes the AI message"}
	}

	old := msgs[aiIdx]
	if deleted, err := o.store.DeleteMessage(ctx, old.ID); err != nil {
		o.logger.Error("Failed to delete regenerated message",
			slog.String("messageID", old.ID),
			slog.String("err", err.Error()),
		)
	} else if !deleted {
		o.logger.Warn("Regenerated message was not persisted",
			slog.String("messageID", old.ID),
		)
	}

	o.setMessageContent(old.ID, "")

	history := historyPayload(msgs[:aiIdx])

	return o.streamTurn(ctx, character, history, old.ID)
}

// LoadMessages reads a conversation back from the store and installs it as
// the in-memory state, mapping the store's role vocabulary onto senders.
func (o *Orchestrator) LoadMessages(
	ctx context.Context,
	characterID, conversationID string,
	limit int,
) ([]models.Message, error) {
	recs, err := o.store.Messages(ctx, o.userID, characterID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := make([]models.Message, len(recs))
	for i, rec := range recs {
		msgs[i] = rec.Message()
	}

	o.mu.Lock()
	o.messages = msgs
	o.conversationID = conversationID
	o.mu.Unlock()

	return o.Messages(), nil
}

// SwitchConversation makes another conversation the active one, replacing
// the in-memory state with its full history.
func (o *Orchestrator) SwitchConversation(ctx context.Context, characterID, conversationID string) ([]models.Message, error) {
	return o.LoadMessages(ctx, characterID, conversationID, 0)
}

// streamTurn requests the AI reply for the prepared history and folds the
// response stream into the draft message. On completion the accumulated
// content is persisted unless it is empty.
//
// Provider and transport failures are converted into a synthetic AI error
// bubble plus a notification; they never crash the turn, which always ends
// back in the idle state.
func (o *Orchestrator) streamTurn(
	ctx context.Context,
	character models.Character,
	history []models.ChatMessage,
	draftID string,
) error {
	turnCtx, tok := o.beginTurn(ctx)
	defer o.endTurn(tok)

	reqBody := models.ChatRequest{
		Messages: history,
		Character: models.CharacterPayload{
			Prompt: character.SystemPrompt,
			Model:  character.Model,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(turnCtx, http.MethodPost, o.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if turnCtx.Err() != nil {
			// Cancelled before the request completed; no fragment ever
			// reached the draft, so it must not linger empty.
			o.removeMessage(draftID)
			return nil
		}
		o.failTurn(draftID, "The model backend could not be reached.")
		o.logger.Error("Chat request failed", slog.String("err", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		o.failTurn(draftID, fmt.Sprintf("The model backend rejected the request (status %d).", resp.StatusCode))
		o.logger.Error("Chat request rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil
	}

	decoder := stream.NewDecoder(func(content string) {
		o.setMessageContent(draftID, content)
	}, o.logger)

	if err := decoder.Consume(resp.Body); err != nil {
		if turnCtx.Err() != nil {
			// Cancellation keeps whatever partial content has accumulated
			// and skips persistence. A draft nothing was applied to yet is
			// removed instead.
			if decoder.Content() == "" {
				o.removeMessage(draftID)
			}
			return nil
		}
		// The transport broke mid-stream; the partial content already
		// applied stands as the final partial reply.
		o.logger.Warn("Chat stream ended abruptly", slog.String("err", err.Error()))
	}

	final := decoder.Content()
	if final == "" {
		// Degraded zero-fragment completion. Drop the draft instead of
		// leaving an empty bubble behind.
		o.removeMessage(draftID)
		return nil
	}

	draft, ok := o.message(draftID)
	if !ok {
		return nil
	}
	rec, err := o.store.CreateMessage(ctx, models.MessageRecord{
		ID:             draftID,
		UserID:         o.userID,
		CharacterID:    draft.CharacterID,
		ConversationID: draft.ConversationID,
		Role:           models.RoleAssistant,
		Content:        final,
		Timestamp:      time.Now(),
	})
	if err != nil {
		o.logger.Error("Failed to persist AI message",
			slog.String("messageID", draftID),
			slog.String("err", err.Error()),
		)
		o.notify("The reply could not be saved.")
		return nil
	}
	o.setMessageID(draftID, rec.ID)

	return nil
}

// historyPayload converts the in-memory history into the wire shape. Only
// the newest user turn keeps its image references; earlier turns are
// stripped so history replay never re-sends already-described images.
// Empty AI entries (unstreamed drafts) and error bubbles are dropped; they
// are UI state, not things the model said.
func historyPayload(msgs []models.Message) []models.ChatMessage {
	newest := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderUser {
			newest = i
			break
		}
	}

	out := make([]models.ChatMessage, 0, len(msgs))
	for i, msg := range msgs {
		if msg.Sender == models.SenderAI && (msg.Content == "" || msg.Failed) {
			continue
		}
		wm := models.ChatMessage{
			Role:    msg.Sender.Role(),
			Content: msg.Content,
		}
		if i == newest && len(msg.ImageRefs) > 0 {
			wm.ImageURLs = append([]string{}, msg.ImageRefs...)
		}
		out = append(out, wm)
	}
	return out
}

// ensureConversation resolves the conversation the turn belongs to, creating
// one when none is active. Creation failures fall back to a local ID so the
// turn can still proceed.
func (o *Orchestrator) ensureConversation(
	ctx context.Context,
	content string,
	character models.Character,
	conversationID string,
) string {
	o.mu.Lock()
	if conversationID != "" {
		o.conversationID = conversationID
	}
	convID := o.conversationID
	o.mu.Unlock()
	if convID != "" {
		return convID
	}

	title := strings.TrimSpace(content)
	if len(title) > 40 {
		title = title[:40]
	}
	if title == "" {
		title = "New conversation"
	}

	conv, err := o.store.CreateConversation(ctx, models.Conversation{
		CharacterID: character.ID,
		UserID:      o.userID,
		Title:       title,
	})
	if err != nil {
		o.logger.Error("Failed to create conversation", slog.String("err", err.Error()))
		conv.ID = uuid.New().String()
	}

	o.mu.Lock()
	o.conversationID = conv.ID
	o.mu.Unlock()
	return conv.ID
}

func (o *Orchestrator) beginTurn(ctx context.Context) (context.Context, *cancelToken) {
	turnCtx, cancel := context.WithCancel(ctx)
	tok := &cancelToken{cancel: cancel}

	o.mu.Lock()
	if o.current != nil {
		o.current.cancel()
	}
	o.current = tok
	o.mu.Unlock()

	return turnCtx, tok
}

func (o *Orchestrator) endTurn(tok *cancelToken) {
	tok.cancel()
	o.mu.Lock()
	if o.current == tok {
		o.current = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) failTurn(draftID, message string) {
	o.mu.Lock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == draftID {
			o.messages[i].Content = message
			o.messages[i].Failed = true
			break
		}
	}
	o.mu.Unlock()
	o.notify(message)
}

func (o *Orchestrator) notify(message string) {
	if o.notifier != nil {
		o.notifier.Notify(message)
	}
}

func (o *Orchestrator) appendMessage(msg models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *Orchestrator) message(id string) (models.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == id {
			return o.messages[i], true
		}
	}
	return models.Message{}, false
}

// messagesBefore snapshots every message preceding the one with the given
// ID, which is expected to be the freshly inserted draft.
func (o *Orchestrator) messagesBefore(id string) []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == id {
			out := make([]models.Message, i)
			copy(out, o.messages[:i])
			return out
		}
	}
	out := make([]models.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

func (o *Orchestrator) setMessageContent(id, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == id {
			o.messages[i].Content = content
			o.messages[i].Failed = false
			return
		}
	}
}

func (o *Orchestrator) setMessageID(oldID, newID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == oldID {
			o.messages[i].ID = newID
			return
		}
	}
}

func (o *Orchestrator) removeMessage(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == id {
			o.messages = append(o.messages[:i], o.messages[i+1:]...)
			return
		}
	}
}
