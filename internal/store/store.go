// Package store defines the conversation store boundary and its backends.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/handauncle/hubot-relay/internal/model"
)

// Store persists whole conversations keyed by user key. Implementations
// offer no transactions or compare-and-swap; callers serialize writers.
type Store interface {
	// Get returns the stored conversation, or an empty one when absent.
	Get(ctx context.Context, userKey string) (model.Conversation, error)
	// Put overwrites the stored conversation.
	Put(ctx context.Context, userKey string, conv model.Conversation) error
	// Keys lists every user key with a stored conversation.
	Keys(ctx context.Context) ([]string, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Encode serializes a conversation for backends that store raw bytes.
func Encode(conv model.Conversation) ([]byte, error) {
	if conv == nil {
		conv = model.Conversation{}
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return data, nil
}

// Decode parses stored bytes. Empty input decodes to an empty conversation.
func Decode(data []byte) (model.Conversation, error) {
	if len(data) == 0 {
		return model.Conversation{}, nil
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if conv == nil {
		conv = model.Conversation{}
	}
	return conv, nil
}
