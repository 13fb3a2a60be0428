package services_test

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/MegaGrindStone/persona-web-ui/internal/services"
)

type mapBlobs map[string][]byte

func (m mapBlobs) Resolve(ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatTurnsTextOnlyIdentity(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
	}

	turns := services.FormatTurns(msgs, mapBlobs{}, discardLogger())

	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	for i, turn := range turns {
		if !turn.TextOnly() {
			t.Errorf("turn %d has image blocks", i)
		}
		if turn.Text() != msgs[i].Content {
			t.Errorf("turn %d text = %q, want %q", i, turn.Text(), msgs[i].Content)
		}
		if turn.Role != msgs[i].Role {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role, msgs[i].Role)
		}
	}
}

func TestFormatTurnsSniffsImageType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image/jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a...."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"bmp", []byte("BM\x00\x00\x00\x00"), "image/bmp"},
		{"unknown defaults to jpeg", []byte{0x00, 0x01, 0x02, 0x03}, "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := mapBlobs{"image/pic.bin": tt.data}
			turns := services.FormatTurns([]models.ChatMessage{
				{Role: models.RoleUser, Content: "look", ImageURLs: []string{"image/pic.bin"}},
			}, blobs, discardLogger())

			if len(turns) != 1 || len(turns[0].Contents) != 2 {
				t.Fatalf("unexpected turn shape: %+v", turns)
			}
			want := fmt.Sprintf("data:%s;base64,%s", tt.want, base64.StdEncoding.EncodeToString(tt.data))
			if got := turns[0].Contents[1].ImageURI; got != want {
				t.Errorf("image uri = %q, want %q", got, want)
			}
		})
	}
}

func TestFormatTurnsPassesThroughURLsAndDataURIs(t *testing.T) {
	refs := []string{
		"https://example.com/a.png",
		"http://example.com/b.jpg",
		"data:image/png;base64,AAAA",
	}
	turns := services.FormatTurns([]models.ChatMessage{
		{Role: models.RoleUser, Content: "x", ImageURLs: refs},
	}, mapBlobs{}, discardLogger())

	contents := turns[0].Contents[1:]
	for i, ct := range contents {
		if ct.ImageURI != refs[i] {
			t.Errorf("ref %d = %q, want passthrough %q", i, ct.ImageURI, refs[i])
		}
	}
}

func TestFormatTurnsDegradesOnMissingBlob(t *testing.T) {
	turns := services.FormatTurns([]models.ChatMessage{
		{Role: models.RoleUser, Content: "x", ImageURLs: []string{"image/gone"}},
	}, mapBlobs{}, discardLogger())

	// The whole request must not abort; the broken reference is kept as-is.
	if got := turns[0].Contents[1].ImageURI; got != "image/gone" {
		t.Errorf("image uri = %q, want original reference", got)
	}
}

func TestFormatTurnsOmitsEmptyTextBlock(t *testing.T) {
	turns := services.FormatTurns([]models.ChatMessage{
		{Role: models.RoleUser, Content: "", ImageURLs: []string{"https://example.com/a.png"}},
	}, mapBlobs{}, discardLogger())

	if len(turns[0].Contents) != 1 {
		t.Fatalf("contents = %+v, want image block only", turns[0].Contents)
	}
	if turns[0].Contents[0].Type != models.ContentTypeImage {
		t.Errorf("content type = %q, want image", turns[0].Contents[0].Type)
	}
}

func TestFormatTurnsAttachesImagesOnlyWhereReferenced(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleUser, Content: "second", ImageURLs: []string{"https://example.com/a.png"}},
	}

	turns := services.FormatTurns(msgs, mapBlobs{}, discardLogger())

	for i, turn := range turns[:2] {
		if !turn.TextOnly() {
			t.Errorf("turn %d carries image blocks", i)
		}
	}
	if turns[2].TextOnly() {
		t.Error("last turn should carry an image block")
	}
	if !strings.HasPrefix(turns[2].Contents[1].ImageURI, "https://") {
		t.Errorf("unexpected image uri %q", turns[2].Contents[1].ImageURI)
	}
}
