// Package types defines the data model shared by providers, indexes and the chat pipeline.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn in a conversation.
type Message struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"` // token counts, timing, model
}

// GenerationConfig holds per-request generation parameters.
// Values are passed to vendors verbatim. A nil Temperature leaves the
// choice to the configured default or the vendor.
type GenerationConfig struct {
	Model         string        `json:"model"`
	Temperature   *float32      `json:"temperature,omitempty"`
	MaxTokens     int           `json:"max_tokens"`
	ContextWindow int           `json:"context_window"`
	Timeout       time.Duration `json:"timeout,omitempty"` // per-call deadline, 0 = none
}

// Float32 returns a pointer to v, for optional fields such as
// GenerationConfig.Temperature.
func Float32(v float32) *float32 {
	return &v
}

// ValidateConversation checks that messages is non-empty and every role is known.
func ValidateConversation(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidConversation)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidConversation, i, m.Role)
		}
	}
	return nil
}

// LastMessage returns the final message of a conversation.
func LastMessage(messages []Message) (Message, bool) {
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[len(messages)-1], true
}

// Document is a retrievable unit stored in a vector index.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the document. Indexes store and return clones
// so callers cannot mutate stored state.
func (d *Document) Clone() *Document {
	c := &Document{
		ID:      d.ID,
		Content: d.Content,
	}
	if d.Embedding != nil {
		c.Embedding = make([]float32, len(d.Embedding))
		copy(c.Embedding, d.Embedding)
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// ScoredDocument is a query result with its cosine similarity.
type ScoredDocument struct {
	Document *Document `json:"document"`
	Score    float32   `json:"score"`
}

// SourceText is raw input for the ingestion path.
type SourceText struct {
	Source   string // file path or caller-chosen name
	Content  []byte
	Language string // detected language, empty for prose
}

// ComputeHash calculates SHA256 hash of the content.
func (s *SourceText) ComputeHash() string {
	h := sha256.Sum256(s.Content)
	return hex.EncodeToString(h[:])
}

// ChunkType represents the type of a chunk.
type ChunkType string

const (
	ChunkTypeFunction ChunkType = "function"
	ChunkTypeClass    ChunkType = "class"
	ChunkTypeMethod   ChunkType = "method"
	ChunkTypeBlock    ChunkType = "block"
	ChunkTypeFile     ChunkType = "file"
)

// Chunk is a piece of a SourceText ready to be embedded.
type Chunk struct {
	Index     int       // position within the source, 0-based
	Source    string    // SourceText.Source
	Language  string    // language of the source
	Content   string    // chunk content
	ChunkType ChunkType // type of chunk
	Name      string    // name of function/class when known
	StartLine int       // 1-based
	EndLine   int       // 1-based
}

// IndexStats summarizes the state of a vector index.
type IndexStats struct {
	Store      string `json:"store"`
	Documents  int    `json:"documents"`
	Dimensions int    `json:"dimensions"`
}
