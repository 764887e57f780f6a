// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/fortauth/fort/internal/observability"
	"github.com/fortauth/fort/pkg/errutil"
)

const (
	defaultJanitorInterval = time.Minute
	defaultConnectAttempts = 5
	shutdownTimeout        = 5 * time.Second
)

// pruneTask deletes one kind of expired row and reports how many went.
type pruneTask struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

type janitorConfig struct {
	interval        time.Duration
	once            bool
	connectAttempts uint64
}

// NewJanitorCmd creates the janitor subcommand.
func NewJanitorCmd() *cobra.Command {
	cfg := &janitorConfig{}

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Delete expired reset tokens and phone challenges",
		Long: `Periodically deletes password reset tokens and phone challenges past
their TTL. Unless --once is given it runs until interrupted and serves
/metrics and health checks on metrics_addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJanitor(cmd, cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.interval, "interval", defaultJanitorInterval, "time between prune runs")
	cmd.Flags().BoolVar(&cfg.once, "once", false, "run a single prune pass and exit")
	cmd.Flags().Uint64Var(&cfg.connectAttempts, "connect_attempts", defaultConnectAttempts, "database ping attempts before giving up")

	return cmd
}

func runJanitor(cmd *cobra.Command, cfg *janitorConfig) error {
	if cfg.interval <= 0 {
		return oops.Code("CONFIG_INVALID").With("interval", cfg.interval.String()).Errorf("interval must be positive")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := waitForDatabase(ctx, a.pool.Ping, cfg.connectAttempts); err != nil {
			return err
		}

		tasks := []pruneTask{
			{name: "password_resets", run: a.resets.PruneExpired},
			{name: "phone_challenges", run: a.twoFactor.PruneExpiredChallenges},
		}

		srv := observability.NewServer(a.cfg.MetricsAddr, a.pool.Ping, a.logger)
		if cfg.once {
			return runJanitorOnce(ctx, tasks, srv.Janitor(), a.logger)
		}

		errCh, err := srv.Start()
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := srv.Stop(stopCtx); stopErr != nil {
				errutil.LogError(stopCtx, a.logger, "observability server shutdown failed", stopErr)
			}
		}()

		loopErr := make(chan error, 1)
		go func() {
			loopErr <- runJanitorLoop(ctx, cfg.interval, tasks, srv.Janitor(), a.logger)
		}()

		select {
		case err := <-loopErr:
			return err
		case err, ok := <-errCh:
			if ok && err != nil {
				return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
			}
			return <-loopErr
		}
	})
}

// waitForDatabase pings with exponential backoff until it succeeds or
// attempts are used up.
func waitForDatabase(ctx context.Context, ping func(context.Context) error, attempts uint64) error {
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("attempts", attempts).Wrap(err)
	}
	return nil
}

// runJanitorLoop prunes immediately and then every interval until ctx ends.
// Task failures are logged and retried on the next tick.
func runJanitorLoop(ctx context.Context, interval time.Duration, tasks []pruneTask, metrics *observability.JanitorMetrics, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = runJanitorOnce(ctx, tasks, metrics, logger)

		select {
		case <-ctx.Done():
			logger.Info("janitor stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// runJanitorOnce runs every task, even after one fails, and returns the
// joined failures.
func runJanitorOnce(ctx context.Context, tasks []pruneTask, metrics *observability.JanitorMetrics, logger *slog.Logger) error {
	var errs []error
	for _, task := range tasks {
		n, err := task.run(ctx)
		metrics.Record(task.name, err)
		if err != nil {
			errutil.LogError(ctx, logger, "prune failed", oops.With("task", task.name).Wrap(err))
			errs = append(errs, oops.Code("JANITOR_TASK_FAILED").With("task", task.name).Wrap(err))
			continue
		}
		if n > 0 {
			logger.InfoContext(ctx, "pruned expired rows", "task", task.name, "deleted", n)
		}
	}
	return errors.Join(errs...)
}
