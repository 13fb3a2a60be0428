package models

import "strings"

// ContentType represents the type of a content block within a turn.
type ContentType string

const (
	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeImage represents an image reference, either an absolute URL
	// or a data URI.
	ContentTypeImage ContentType = "image"
)

// Content is one block of provider-facing message content.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// ImageURI would be filled if Type is ContentTypeImage.
	ImageURI string
}

// Turn is one role-tagged entry of the history handed to a backend adapter.
type Turn struct {
	Role     Role
	Contents []Content
}

// Text concatenates the text blocks of the turn. Image blocks contribute
// nothing; flattening backends rely on this.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, ct := range t.Contents {
		if ct.Type == ContentTypeText {
			sb.WriteString(ct.Text)
		}
	}
	return sb.String()
}

// TextOnly reports whether the turn carries no image blocks.
func (t Turn) TextOnly() bool {
	for _, ct := range t.Contents {
		if ct.Type == ContentTypeImage {
			return false
		}
	}
	return true
}
