package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/MegaGrindStone/persona-web-ui/internal/orchestrator"
	"github.com/MegaGrindStone/persona-web-ui/internal/services"
)

func newTestDB(t *testing.T) services.BoltDB {
	t.Helper()

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCharacterCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	character, err := db.CreateCharacter(ctx, models.Character{
		Name:         "Sage",
		SystemPrompt: "You are helpful",
		Model:        "deepseek-chat",
		UserID:       orchestrator.DefaultUserID,
	})
	if err != nil {
		t.Fatalf("CreateCharacter() error = %v", err)
	}
	if character.ID == "" {
		t.Fatal("CreateCharacter() assigned no ID")
	}

	character.Name = "Oracle"
	if err := db.UpdateCharacter(ctx, character); err != nil {
		t.Fatalf("UpdateCharacter() error = %v", err)
	}

	got, err := db.Character(ctx, character.ID)
	if err != nil {
		t.Fatalf("Character() error = %v", err)
	}
	if got == nil || got.Name != "Oracle" {
		t.Errorf("Character() = %+v, want updated name", got)
	}

	all, err := db.Characters(ctx, orchestrator.DefaultUserID)
	if err != nil {
		t.Fatalf("Characters() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Characters() returned %d, want 1", len(all))
	}

	if err := db.DeleteCharacter(ctx, character.ID); err != nil {
		t.Fatalf("DeleteCharacter() error = %v", err)
	}
	got, err = db.Character(ctx, character.ID)
	if err != nil {
		t.Fatalf("Character() error = %v", err)
	}
	if got != nil {
		t.Error("character still present after delete")
	}
}

func TestMessageAppendBumpsConversation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.CreateConversation(ctx, models.Conversation{
		CharacterID: "char-1",
		UserID:      orchestrator.DefaultUserID,
		Title:       "first",
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second, err := db.CreateConversation(ctx, models.Conversation{
		CharacterID: "char-1",
		UserID:      orchestrator.DefaultUserID,
		Title:       "second",
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	conversations, err := db.Conversations(ctx, orchestrator.DefaultUserID, "char-1")
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if conversations[0].ID != second.ID {
		t.Fatalf("newest conversation = %q, want %q", conversations[0].ID, second.ID)
	}

	time.Sleep(5 * time.Millisecond)

	// Appending to the older conversation must move it to the front.
	if _, err := db.CreateMessage(ctx, models.MessageRecord{
		UserID:         orchestrator.DefaultUserID,
		CharacterID:    "char-1",
		ConversationID: first.ID,
		Role:           models.RoleUser,
		Content:        "hello",
	}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	conversations, err = db.Conversations(ctx, orchestrator.DefaultUserID, "char-1")
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if conversations[0].ID != first.ID {
		t.Errorf("newest conversation = %q, want bumped %q", conversations[0].ID, first.ID)
	}
}

func TestMessagesOrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv, err := db.CreateConversation(ctx, models.Conversation{
		CharacterID: "char-1",
		UserID:      orchestrator.DefaultUserID,
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	contents := []string{"one", "two", "three"}
	for _, content := range contents {
		if _, err := db.CreateMessage(ctx, models.MessageRecord{
			UserID:         orchestrator.DefaultUserID,
			CharacterID:    "char-1",
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        content,
		}); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
	}

	messages, err := db.Messages(ctx, orchestrator.DefaultUserID, "char-1", conv.ID, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(messages))
	}
	for i, content := range contents {
		if messages[i].Content != content {
			t.Errorf("message %d = %q, want %q", i, messages[i].Content, content)
		}
	}

	limited, err := db.Messages(ctx, orchestrator.DefaultUserID, "char-1", conv.ID, 2)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(limited) != 2 || limited[0].Content != "two" {
		t.Errorf("limited = %+v, want the two most recent", limited)
	}
}

func TestDeleteAndClearMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv, err := db.CreateConversation(ctx, models.Conversation{
		CharacterID: "char-1",
		UserID:      orchestrator.DefaultUserID,
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	rec, err := db.CreateMessage(ctx, models.MessageRecord{
		UserID:         orchestrator.DefaultUserID,
		CharacterID:    "char-1",
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        "bye",
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	deleted, err := db.DeleteMessage(ctx, rec.ID)
	if err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if !deleted {
		t.Error("DeleteMessage() = false, want true")
	}

	deleted, err = db.DeleteMessage(ctx, "missing")
	if err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if deleted {
		t.Error("DeleteMessage(missing) = true, want false")
	}

	for range 3 {
		if _, err := db.CreateMessage(ctx, models.MessageRecord{
			UserID:         orchestrator.DefaultUserID,
			CharacterID:    "char-1",
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        "x",
		}); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
	}

	count, err := db.ClearMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}
	if count != 3 {
		t.Errorf("ClearMessages() = %d, want 3", count)
	}

	messages, err := db.Messages(ctx, orchestrator.DefaultUserID, "char-1", conv.ID, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("len(messages) = %d after clear, want 0", len(messages))
	}
}
