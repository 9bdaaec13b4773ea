// Package main is the one-shot conversation cleanup command.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/bootstrap"
	"github.com/handauncle/hubot-relay/internal/config"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dryRun      bool
		backend     string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove legacy query entries from stored conversations",
		Long: `cleanup scans every stored conversation and rewrites those that still
contain legacy {query, timestamp} entries. Conversations without legacy
entries are left untouched.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if backend != "" {
				cfg.StoreBackend = backend
			}

			log, err := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile})
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log, service.CleanupOptions{DryRun: dryRun}, concurrency, cmd)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without writing")
	cmd.Flags().StringVar(&backend, "backend", "", "override STORE_BACKEND (nats, redis, dynamodb)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "users rewritten in parallel")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, opts service.CleanupOptions, concurrency int, cmd *cobra.Command) error {
	st, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	svc := service.NewCleanupService(service.NewConversationService(st, log), concurrency, log)
	report, err := svc.Run(ctx, opts)
	if err != nil {
		log.Error("cleanup failed", zap.Error(err))
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
