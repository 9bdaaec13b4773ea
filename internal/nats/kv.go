package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/store"
)

// DefaultBucket is the key-value bucket holding conversations.
const DefaultBucket = "conversations"

// keyPrefix namespaces conversation keys inside the bucket.
const keyPrefix = "user."

// ConversationKV is a store.Store backed by a JetStream key-value bucket.
type ConversationKV struct {
	client *Client
	kv     jetstream.KeyValue
}

// NewConversationKV opens the bucket, creating it when it does not exist.
func NewConversationKV(ctx context.Context, client *Client, bucket string) (*ConversationKV, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Per-user conversation history",
			History:     1,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value bucket %s: %w", bucket, err)
	}

	return &ConversationKV{client: client, kv: kv}, nil
}

// EncodeKey maps a user key onto the characters NATS KV keys allow.
func EncodeKey(userKey string) string {
	return keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(userKey))
}

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, keyPrefix))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Get implements store.Store.
func (s *ConversationKV) Get(ctx context.Context, userKey string) (model.Conversation, error) {
	entry, err := s.kv.Get(ctx, EncodeKey(userKey))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", userKey, err)
	}
	return store.Decode(entry.Value())
}

// Put implements store.Store.
func (s *ConversationKV) Put(ctx context.Context, userKey string, conv model.Conversation) error {
	data, err := store.Encode(conv)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, EncodeKey(userKey), data); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", userKey, err)
	}
	return nil
}

// Keys implements store.Store.
func (s *ConversationKV) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if userKey, ok := DecodeKey(k); ok {
			keys = append(keys, userKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping implements store.Store.
func (s *ConversationKV) Ping(context.Context) error {
	if !s.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// Close implements store.Store.
func (s *ConversationKV) Close() error {
	s.client.Close()
	return nil
}

var _ store.Store = (*ConversationKV)(nil)
