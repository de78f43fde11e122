package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/spooni01/ha-automation-of-todo/internal/conf"
	"github.com/spooni01/ha-automation-of-todo/internal/integration"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

const (
	setupInitialInterval = time.Second
	setupMaxInterval     = 5 * time.Minute
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch state changes and run the rule API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, log)
		},
	}
}

func serve(ctx context.Context, settings *conf.Settings, log logger.Logger) error {
	inst, err := setupWithRetry(ctx, settings, log)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	runErr := inst.Run(ctx)
	if err := inst.Unload(); err != nil {
		log.Error("unload failed", logger.Error(err))
	}
	return runErr
}

// setupWithRetry retries Setup while it reports ErrNotReady.
func setupWithRetry(ctx context.Context, settings *conf.Settings, log logger.Logger) (*integration.Instance, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = setupInitialInterval
	exp.MaxInterval = setupMaxInterval
	exp.MaxElapsedTime = 0

	var inst *integration.Instance
	op := func() error {
		var err error
		inst, err = integration.Setup(ctx, settings, log, integration.WithRelease(Version))
		if err != nil && !errors.Is(err, integration.ErrNotReady) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("setup not ready, retrying", logger.Error(err), logger.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(exp, ctx), notify); err != nil {
		return nil, err
	}
	return inst, nil
}
