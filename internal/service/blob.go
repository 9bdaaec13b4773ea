package service

import (
	"sync"

	"github.com/handauncle/hubot-relay/pkg/metrics"
)

// Blob names used in metrics and responses.
const (
	BlobKnowledgeBase = "knowledge_base"
	BlobSystemPrompt  = "system_prompt"
)

// TextBlob is a process-wide mutable string such as the knowledge base or
// the system prompt. Mutations are serialized, so Append never loses a
// concurrent write.
type TextBlob struct {
	name  string
	mu    sync.RWMutex
	value string
}

// NewTextBlob creates a blob holding initial.
func NewTextBlob(name, initial string) *TextBlob {
	b := &TextBlob{name: name, value: initial}
	metrics.SetTextBlobSize(name, len(initial))
	return b
}

// Name returns the blob name.
func (b *TextBlob) Name() string {
	return b.name
}

// Set replaces the blob and returns the new length.
func (b *TextBlob) Set(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.value = text
	metrics.SetTextBlobSize(b.name, len(b.value))
	return len(b.value)
}

// Append adds text on a new line and returns the new length. An empty blob
// takes text as is.
func (b *TextBlob) Append(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.value == "" {
		b.value = text
	} else {
		b.value += "\n" + text
	}
	metrics.SetTextBlobSize(b.name, len(b.value))
	return len(b.value)
}

// Get returns the current value.
func (b *TextBlob) Get() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Len returns the current length in bytes.
func (b *TextBlob) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.value)
}
