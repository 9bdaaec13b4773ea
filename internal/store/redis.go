package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/handauncle/hubot-relay/internal/model"
)

// Redis stores each conversation as a JSON string under prefix+userKey.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at url and verifies it with PING.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisFromClient(client, prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, userKey string) (model.Conversation, error) {
	data, err := r.client.Get(ctx, r.prefix+userKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", userKey, err)
	}
	return Decode(data)
}

// Put implements Store.
func (r *Redis) Put(ctx context.Context, userKey string, conv model.Conversation) error {
	data, err := Encode(conv)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+userKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", userKey, err)
	}
	return nil
}

// Keys implements Store.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping implements Store.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}
