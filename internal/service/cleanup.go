package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/pkg/logger"
	"github.com/handauncle/hubot-relay/pkg/metrics"
)

const defaultCleanupConcurrency = 8

// CleanupOptions controls a cleanup run.
type CleanupOptions struct {
	// DryRun counts legacy entries without writing anything back.
	DryRun bool
}

// CleanupService drops legacy query entries from every stored conversation.
type CleanupService struct {
	conversations *ConversationService
	concurrency   int
	logger        *logger.Logger
}

// NewCleanupService creates a cleanup service. concurrency bounds parallel
// per-user rewrites; zero uses a default.
func NewCleanupService(conversations *ConversationService, concurrency int, log *logger.Logger) *CleanupService {
	if concurrency <= 0 {
		concurrency = defaultCleanupConcurrency
	}
	return &CleanupService{
		conversations: conversations,
		concurrency:   concurrency,
		logger:        log,
	}
}

// Run scans every user and rewrites conversations whose length changes.
func (s *CleanupService) Run(ctx context.Context, opts CleanupOptions) (*model.CleanupReport, error) {
	keys, err := s.conversations.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &model.CleanupReport{UsersScanned: len(keys), DryRun: opts.DryRun}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			removed := 0
			_, err := s.conversations.Rewrite(gctx, key, func(conv model.Conversation) (model.Conversation, bool) {
				filtered := conv.WithoutLegacy()
				removed = len(conv) - len(filtered)
				return filtered, removed > 0 && !opts.DryRun
			})
			if err != nil {
				return err
			}
			if removed == 0 {
				return nil
			}

			mu.Lock()
			report.UsersUpdated++
			report.EntriesRemoved += removed
			mu.Unlock()

			s.logger.Info("legacy entries removed",
				zap.String("user_key", key),
				zap.Int("removed", removed),
				zap.Bool("dry_run", opts.DryRun),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !opts.DryRun {
		metrics.CleanupEntriesRemoved.Add(float64(report.EntriesRemoved))
	}
	return report, nil
}
