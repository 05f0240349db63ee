package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/config"
	"github.com/stupid-simple/pkgmirror/fileutils"
	"github.com/stupid-simple/pkgmirror/scheduler"
)

const configPollInterval = 30 * time.Second

func daemonCommand(ctx context.Context, args Command, console io.Writer, logger zerolog.Logger) error {
	a, err := newApp(args.Daemon.Config, args.Daemon.Database, console, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	// Nothing can be running yet, anything unfinished belongs to a
	// previous process.
	if _, err := a.ledger.RecoverInterrupted(ctx); err != nil {
		return err
	}

	if err := reconcileRepos(ctx, a.db, a.cfg, logger); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerParams{
		Logger:     logger.With().Str("component", "scheduler").Logger(),
		Dispatcher: a.dispatcher,
		Ledger:     a.ledger,
		Repos:      a.db,
	})
	if err := sched.Rebuild(ctx); err != nil {
		logger.Error().Err(err).Msg("some repos could not be scheduled")
	}

	retention := a.cfg.LogRetention.Duration
	err = sched.AddFunc(a.cfg.CleanupSchedule, "cleanup-task-logs", func(ctx context.Context) {
		if _, err := a.ledger.Cleanup(ctx, retention); err != nil {
			logger.Error().Err(err).Msg("task log cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not schedule task log cleanup: %w", err)
	}

	startConfigFileWatcher(ctx, args.Daemon.Config, logger, func(cfg *config.Config) {
		if err := reconcileRepos(ctx, a.db, cfg, logger); err != nil {
			logger.Error().Err(err).Msg("could not reload repos")
			return
		}
		if err := sched.Rebuild(ctx); err != nil {
			logger.Error().Err(err).Msg("some repos could not be scheduled")
		}
	})

	sched.Start(ctx)
	logger.Info().Int("max_concurrent_tasks", a.cfg.MaxConcurrentTasks).Msg("daemon started")

	<-ctx.Done()

	logger.Info().Int("active", a.dispatcher.Active()).Msg("stopping, waiting for running syncs")
	<-sched.Stop().Done()
	a.dispatcher.Wait()
	logger.Info().Msg("daemon stopped")

	return nil
}

func startConfigFileWatcher(ctx context.Context, cfgPath string, logger zerolog.Logger, onChanged func(cfg *config.Config)) {
	logger.Info().Str("path", cfgPath).Msg("watching config file for changes")
	watcher, err := fileutils.WatchFile(ctx, cfgPath, configPollInterval, func(err error) {
		logger.Error().Err(err).Msg("could not watch config file")
	})
	if err != nil {
		logger.Error().Err(err).Msg("could not watch config file")
		return
	}

	go func() {
		for range watcher {
			logger.Info().Str("path", cfgPath).Msg("config file changed, reloading")

			cfg, err := config.LoadFromFile(cfgPath)
			if err != nil {
				logger.Error().Err(err).Msg("could not load config")
				continue
			}

			onChanged(cfg)
		}
	}()
}
