package main

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/scheduler"
)

func syncCommand(ctx context.Context, args Command, console io.Writer, logger zerolog.Logger) error {
	a, err := newApp(args.Sync.Config, args.Sync.Database, console, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	if err := reconcileRepos(ctx, a.db, a.cfg, logger); err != nil {
		return err
	}

	// A running daemon may be synchronizing the same repo.
	busy, err := a.ledger.Busy(ctx, args.Sync.Repo)
	if err != nil {
		return err
	}
	if busy {
		return scheduler.ErrConcurrentSync
	}

	result, err := a.synchronizer.Sync(ctx, args.Sync.Repo)
	if err != nil {
		return err
	}

	logger.Info().
		Int64("task", result.Task.ID).
		Str("log", result.Task.LogPath).
		Object("report", result.Report).
		Msg("repo synchronized")
	return nil
}
