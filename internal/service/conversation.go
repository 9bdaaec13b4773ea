// Package service provides business logic for the relay.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/internal/store"
	"github.com/handauncle/hubot-relay/pkg/logger"
	"github.com/handauncle/hubot-relay/pkg/metrics"
)

// keyedMutex hands out one mutex per user key and drops it once no
// goroutine holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// ConversationService reads and rewrites per-user conversations. Every
// load-mutate-save sequence for one user key runs under that key's lock.
type ConversationService struct {
	store  store.Store
	locks  *keyedMutex
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		locks:  newKeyedMutex(),
		logger: log,
	}
}

// Load returns the stored conversation for userKey. A missing conversation
// is empty, not an error.
func (s *ConversationService) Load(ctx context.Context, userKey string) (model.Conversation, error) {
	conv, err := s.store.Get(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		conv = model.Conversation{}
	}
	return conv, nil
}

// Append drops legacy entries from the stored conversation, adds entries
// and writes the whole sequence back.
func (s *ConversationService) Append(ctx context.Context, userKey string, entries ...model.Entry) error {
	_, err := s.Rewrite(ctx, userKey, func(conv model.Conversation) (model.Conversation, bool) {
		out := conv.WithoutLegacy()
		out = append(out, entries...)
		return out, true
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		metrics.MessagesTotal.WithLabelValues(string(e.Role)).Inc()
	}
	return nil
}

// Rewrite loads the conversation for userKey, applies fn and saves the
// result when fn reports a change. It returns the saved (or unchanged)
// conversation.
func (s *ConversationService) Rewrite(
	ctx context.Context,
	userKey string,
	fn func(model.Conversation) (model.Conversation, bool),
) (model.Conversation, error) {
	unlock := s.locks.lock(userKey)
	defer unlock()

	conv, err := s.Load(ctx, userKey)
	if err != nil {
		return nil, err
	}

	updated, changed := fn(conv)
	if !changed {
		return conv, nil
	}

	err = s.store.Put(ctx, userKey, updated)
	metrics.RecordConversationWrite(err)
	if err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	s.logger.Debug("conversation saved",
		zap.String("user_key", userKey),
		zap.Int("entries", len(updated)),
	)
	return updated, nil
}

// Keys lists every stored user key.
func (s *ConversationService) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return keys, nil
}

// Summaries returns message counts and last activity for every user.
func (s *ConversationService) Summaries(ctx context.Context) (*model.ListUsersResponse, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]model.UserSummary, 0, len(keys))
	for _, key := range keys {
		conv, err := s.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		users = append(users, model.UserSummary{
			UserKey:       key,
			MessageCount:  len(conv),
			LastMessageAt: conv.LastTimestamp(),
		})
	}

	return &model.ListUsersResponse{
		Users:      users,
		TotalUsers: len(users),
	}, nil
}
