package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Topic is one unit of pipeline input: a news item, a trend, or a
// free-text prompt handed in through the command surface.
type Topic struct {
	Text        string    `json:"text"`
	Type        string    `json:"type"` // "trend", "news", "prompt"
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	Description string    `json:"description,omitempty"`
	ContentHash string    `json:"content_hash"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// NewTopic builds a topic with its content hash filled in.
func NewTopic(text, topicType, source string) Topic {
	return Topic{
		Text:        text,
		Type:        topicType,
		Source:      source,
		ContentHash: ContentHash(text),
		ScannedAt:   time.Now().UTC(),
	}
}

// ContentHash returns the short stable hash used to identify a topic.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}
