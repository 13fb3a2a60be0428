package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the persistence store using a BoltDB backend. Characters
// and conversations live in top-level buckets; each conversation owns a
// message bucket so that message appends and scans stay local to one
// conversation.
type BoltDB struct {
	db *bolt.DB
}

var (
	charactersBucket    = []byte("characters")
	conversationsBucket = []byte("conversations")
	messageBucketPrefix = []byte("messages-")
)

// NewBoltDB creates a new BoltDB instance with the specified file path. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(charactersBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(conversationID string) []byte {
	return append(append([]byte{}, messageBucketPrefix...), conversationID...)
}

// Characters retrieves all characters belonging to the given user.
func (b BoltDB) Characters(_ context.Context, userID string) ([]models.Character, error) {
	var characters []models.Character
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(charactersBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var character models.Character
			if err := json.Unmarshal(v, &character); err != nil {
				return fmt.Errorf("failed to unmarshal character: %w", err)
			}
			if character.UserID == userID {
				characters = append(characters, character)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return characters, nil
}

// Character retrieves one character by ID, or nil if it doesn't exist.
func (b BoltDB) Character(_ context.Context, id string) (*models.Character, error) {
	var character *models.Character
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(charactersBucket)
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(id))
		if v == nil {
			return nil
		}

		character = &models.Character{}
		return json.Unmarshal(v, character)
	})
	if err != nil {
		return nil, err
	}
	return character, nil
}

// CreateCharacter stores a new character, assigning an ID when absent.
func (b BoltDB) CreateCharacter(_ context.Context, character models.Character) (models.Character, error) {
	if character.ID == "" {
		character.ID = uuid.New().String()
	}
	if character.CreatedAt.IsZero() {
		character.CreatedAt = time.Now()
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(charactersBucket)
		if bkt == nil {
			return nil
		}

		v, err := json.Marshal(character)
		if err != nil {
			return fmt.Errorf("failed to marshal character: %w", err)
		}

		return bkt.Put([]byte(character.ID), v)
	})

	return character, err
}

// UpdateCharacter modifies an existing character. Updating a character that
// doesn't exist is silently ignored.
func (b BoltDB) UpdateCharacter(_ context.Context, character models.Character) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(charactersBucket)
		if bkt == nil {
			return nil
		}

		if bkt.Get([]byte(character.ID)) == nil {
			return nil
		}

		v, err := json.Marshal(character)
		if err != nil {
			return fmt.Errorf("failed to marshal character: %w", err)
		}

		return bkt.Put([]byte(character.ID), v)
	})
}

// DeleteCharacter removes a character. Its conversations remain and must be
// cleared separately.
func (b BoltDB) DeleteCharacter(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(charactersBucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(id))
	})
}

// Conversations retrieves the conversations of one user, optionally filtered
// by character, ordered most recently updated first.
func (b BoltDB) Conversations(_ context.Context, userID, characterID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(conversationsBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var conv models.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			if conv.UserID != userID {
				return nil
			}
			if characterID != "" && conv.CharacterID != characterID {
				return nil
			}
			conversations = append(conversations, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// CreateConversation stores a new conversation and creates its message
// bucket. An absent ID is assigned.
func (b BoltDB) CreateConversation(_ context.Context, conv models.Conversation) (models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(conversationsBucket)
		if bkt == nil {
			return nil
		}

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(conv.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return bkt.Put([]byte(conv.ID), v)
	})

	return conv, err
}

// UpdateConversation modifies an existing conversation. Updating a
// conversation that doesn't exist is silently ignored.
func (b BoltDB) UpdateConversation(_ context.Context, conv models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(conversationsBucket)
		if bkt == nil {
			return nil
		}

		if bkt.Get([]byte(conv.ID)) == nil {
			return nil
		}

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return bkt.Put([]byte(conv.ID), v)
	})
}

// DeleteConversation removes a conversation along with its message bucket.
func (b BoltDB) DeleteConversation(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(conversationsBucket)
		if bkt == nil {
			return nil
		}

		if err := bkt.Delete([]byte(id)); err != nil {
			return err
		}

		if tx.Bucket(messageBucketName(id)) == nil {
			return nil
		}
		return tx.DeleteBucket(messageBucketName(id))
	})
}

// touchConversation bumps the conversation's UpdatedAt so history lists sort
// it first.
func touchConversation(tx *bolt.Tx, id string) error {
	bkt := tx.Bucket(conversationsBucket)
	if bkt == nil {
		return nil
	}

	v := bkt.Get([]byte(id))
	if v == nil {
		return nil
	}

	var conv models.Conversation
	if err := json.Unmarshal(v, &conv); err != nil {
		return fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	conv.UpdatedAt = time.Now()

	updated, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return bkt.Put([]byte(id), updated)
}

// Messages retrieves messages for the given user and character. With a
// conversation ID only that conversation is read; without one, every
// conversation of the character contributes. A positive limit keeps only the
// most recent messages.
func (b BoltDB) Messages(
	ctx context.Context,
	userID, characterID, conversationID string,
	limit int,
) ([]models.MessageRecord, error) {
	var messages []models.MessageRecord

	readBucket := func(tx *bolt.Tx, convID string) error {
		bkt := tx.Bucket(messageBucketName(convID))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_, v []byte) error {
			var rec models.MessageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, rec)
			return nil
		})
	}

	if conversationID != "" {
		err := b.db.View(func(tx *bolt.Tx) error {
			return readBucket(tx, conversationID)
		})
		if err != nil {
			return nil, err
		}
	} else {
		conversations, err := b.Conversations(ctx, userID, characterID)
		if err != nil {
			return nil, err
		}
		err = b.db.View(func(tx *bolt.Tx) error {
			for _, conv := range conversations {
				if err := readBucket(tx, conv.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Slice(messages, func(i, j int) bool {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		})
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// CreateMessage appends a message to its conversation's bucket and bumps the
// conversation's UpdatedAt. The stored ID combines a sequence number with
// the record's original ID to keep bucket iteration in append order.
func (b BoltDB) CreateMessage(_ context.Context, rec models.MessageRecord) (models.MessageRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(messageBucketName(rec.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		rec.ID = fmt.Sprintf("%d-%s", idPrefix, rec.ID)

		v, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		if err := bkt.Put([]byte(rec.ID), v); err != nil {
			return err
		}

		return touchConversation(tx, rec.ConversationID)
	})

	return rec, err
}

// DeleteMessage removes a message by ID, reporting whether a record was
// actually deleted. The ID is unique across conversations, so every message
// bucket is probed.
func (b BoltDB) DeleteMessage(_ context.Context, id string) (bool, error) {
	deleted := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bkt *bolt.Bucket) error {
			if !bytes.HasPrefix(name, messageBucketPrefix) {
				return nil
			}
			if bkt.Get([]byte(id)) == nil {
				return nil
			}
			if err := bkt.Delete([]byte(id)); err != nil {
				return err
			}
			deleted = true
			return nil
		})
	})
	return deleted, err
}

// ClearMessages removes all messages of one conversation and returns how
// many were deleted.
func (b BoltDB) ClearMessages(_ context.Context, conversationID string) (int, error) {
	count := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return nil
		}

		keys := [][]byte{}
		if err := bkt.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte{}, k...))
			return nil
		}); err != nil {
			return err
		}

		for _, k := range keys {
			if err := bkt.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
