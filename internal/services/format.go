package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
)

// BlobResolver resolves an opaque blob reference to its raw bytes.
type BlobResolver interface {
	Resolve(ref string) ([]byte, error)
}

// FormatTurns converts a linear wire history into provider content turns.
// Only entries carrying image references emit image blocks; everything else
// stays plain text. Whether an entry carries references is entirely the
// caller's decision.
func FormatTurns(msgs []models.ChatMessage, blobs BlobResolver, logger *slog.Logger) []models.Turn {
	turns := make([]models.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if len(msg.ImageURLs) == 0 {
			turns = append(turns, models.Turn{
				Role: msg.Role,
				Contents: []models.Content{
					{Type: models.ContentTypeText, Text: msg.Content},
				},
			})
			continue
		}

		contents := make([]models.Content, 0, len(msg.ImageURLs)+1)
		if msg.Content != "" {
			contents = append(contents, models.Content{
				Type: models.ContentTypeText,
				Text: msg.Content,
			})
		}
		for _, ref := range msg.ImageURLs {
			contents = append(contents, models.Content{
				Type:     models.ContentTypeImage,
				ImageURI: resolveImageURI(ref, blobs, logger),
			})
		}
		turns = append(turns, models.Turn{
			Role:     msg.Role,
			Contents: contents,
		})
	}
	return turns
}

// resolveImageURI turns a blob reference into a data URI. Absolute URLs and
// data URIs pass through unchanged. An unreadable blob degrades to the
// original reference string instead of failing the turn.
func resolveImageURI(ref string, blobs BlobResolver, logger *slog.Logger) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return ref
	}

	data, err := blobs.Resolve(ref)
	if err != nil {
		logger.Warn("Failed to resolve image reference",
			slog.String("ref", ref),
			slog.String("err", err.Error()),
		)
		return ref
	}

	return fmt.Sprintf("data:%s;base64,%s", sniffImageMIME(data), base64.StdEncoding.EncodeToString(data))
}

// sniffImageMIME detects the image type from the leading byte signature. The
// file extension is never trusted; unrecognized signatures default to JPEG.
func sniffImageMIME(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 'P', 'N', 'G'}):
		return "image/png"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("GIF8")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
