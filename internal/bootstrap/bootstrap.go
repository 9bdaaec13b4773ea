// Package bootstrap builds the configured collaborators shared by the API
// server and the cleanup command.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/config"
	"github.com/handauncle/hubot-relay/internal/identity"
	natsclient "github.com/handauncle/hubot-relay/internal/nats"
	"github.com/handauncle/hubot-relay/internal/store"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

// OpenStore connects the conversation store selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}

	log = log.With(zap.String("backend", cfg.StoreBackend))

	switch cfg.StoreBackend {
	case config.StoreNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, err
		}
		kv, err := natsclient.NewConversationKV(ctx, client, cfg.NATSKVBucket)
		if err != nil {
			client.Close()
			return nil, err
		}
		log.Info("conversation store ready", zap.String("bucket", cfg.NATSKVBucket))
		return kv, nil

	case config.StoreRedis:
		r, err := store.NewRedis(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		log.Info("conversation store ready", zap.String("prefix", cfg.RedisKeyPrefix))
		return r, nil

	case config.StoreDynamoDB:
		d, err := store.NewDynamoDB(ctx, store.DynamoDBConfig{
			Table:    cfg.DynamoDBTable,
			Region:   cfg.DynamoDBRegion,
			Endpoint: cfg.DynamoDBEndpoint,
		})
		if err != nil {
			return nil, err
		}
		log.Info("conversation store ready", zap.String("table", cfg.DynamoDBTable))
		return d, nil

	case config.StoreMemory:
		log.Warn("using in-memory conversation store; history is lost on restart")
		return store.NewMemory(), nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// NewResolver picks the credential verifier. A remote lookup key wins over
// a local JWT secret; with neither, every caller is anonymous.
func NewResolver(cfg *config.Config, log *logger.Logger) identity.Resolver {
	if !cfg.IdentityEnabled() {
		log.Warn("identity verification disabled; all callers are treated as anonymous")
		return identity.Disabled{}
	}

	switch {
	case cfg.IdentityAPIKey != "":
		log.Info("identity verification via remote account lookup", zap.String("base_url", cfg.IdentityBaseURL))
		return identity.NewLookupResolver(cfg.IdentityBaseURL, cfg.IdentityAPIKey)
	default:
		log.Info("identity verification via signed tokens")
		return identity.NewJWTResolver(cfg.JWTSecret)
	}
}
