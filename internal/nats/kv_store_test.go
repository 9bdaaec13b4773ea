package nats

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

func runJetStream(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()

	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func newTestKV(t *testing.T) *ConversationKV {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, Config{URL: runJetStream(t)}, logger.NewNop())
	require.NoError(t, err)

	kv, err := NewConversationKV(ctx, client, "test-conversations")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestConversationKV(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, kv.Ping(ctx))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "empty bucket lists no keys")

	conv, err := kv.Get(ctx, "nobody@x_com")
	require.NoError(t, err)
	assert.NotNil(t, conv)
	assert.Empty(t, conv, "absent key loads as an empty conversation")

	bob := model.Conversation{
		model.NewEntry(model.RoleUser, "hello", now),
		model.NewEntry(model.RoleAssistant, "hi", now.Add(time.Second)),
	}
	require.NoError(t, kv.Put(ctx, "bob@x_com", bob))
	require.NoError(t, kv.Put(ctx, model.AnonymousUserKey, bob[:1]))

	got, err := kv.Get(ctx, "bob@x_com")
	require.NoError(t, err)
	assert.Equal(t, bob, got)

	// Overwrite replaces the whole sequence.
	require.NoError(t, kv.Put(ctx, "bob@x_com", bob[1:]))
	got, err = kv.Get(ctx, "bob@x_com")
	require.NoError(t, err)
	assert.Equal(t, bob[1:], got)

	// Keys written by something else in the bucket are skipped.
	_, err = kv.kv.Put(ctx, "other.key", []byte("[]"))
	require.NoError(t, err)

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@x_com", model.AnonymousUserKey}, keys)
}

func TestNewConversationKVReopensBucket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := runJetStream(t)

	first, err := Connect(ctx, Config{URL: url}, logger.NewNop())
	require.NoError(t, err)
	kv, err := NewConversationKV(ctx, first, "")
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "alice@x_com", model.Conversation{model.NewEntry(model.RoleUser, "q", time.Now())}))
	require.NoError(t, kv.Close())

	second, err := Connect(ctx, Config{URL: url}, logger.NewNop())
	require.NoError(t, err)
	reopened, err := NewConversationKV(ctx, second, DefaultBucket)
	require.NoError(t, err)
	defer reopened.Close()

	conv, err := reopened.Get(ctx, "alice@x_com")
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}
