package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/config"
	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/dispatcher"
	"github.com/stupid-simple/pkgmirror/filehost"
	"github.com/stupid-simple/pkgmirror/ledger"
	"github.com/stupid-simple/pkgmirror/synchronizer"
)

// app holds the components shared by the daemon and one-shot commands.
type app struct {
	cfg          *config.Config
	db           *database.Database
	ledger       *ledger.Ledger
	synchronizer *synchronizer.Synchronizer
	dispatcher   *dispatcher.Dispatcher
}

func newApp(cfgPath, dbPath string, console io.Writer, logger zerolog.Logger) (_ *app, err error) {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	db, err := database.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, db.Close())
		}
	}()

	l, err := ledger.New(ledger.Params{
		DB:      db,
		LogDir:  cfg.LogDir,
		Console: console,
		Logger:  logger.With().Str("component", "ledger").Logger(),
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Object("file_host", cfg.FileHost).Msg("using file host")
	host, err := filehost.New(cfg.FileHost, db, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create file host: %w", err)
	}

	s := synchronizer.New(synchronizer.Params{
		DB:      db,
		Ledger:  l,
		Host:    host,
		HTTP:    &http.Client{Timeout: cfg.Download.Timeout.Duration},
		TempDir: cfg.TempDir,
		MaxSize: cfg.Download.MaxSize.Size,
		Logger:  logger,
	})

	return &app{
		cfg:          cfg,
		db:           db,
		ledger:       l,
		synchronizer: s,
		dispatcher:   dispatcher.New(s, cfg.MaxConcurrentTasks, logger.With().Str("component", "dispatcher").Logger()),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// reconcileRepos stores the configured repos and drops the others.
func reconcileRepos(ctx context.Context, db *database.Database, cfg *config.Config, logger zerolog.Logger) error {
	repos := make([]database.Repo, 0, len(cfg.Repos))
	for _, r := range cfg.Repos {
		repos = append(repos, database.Repo{
			ID:          r.ID,
			Name:        r.Name,
			Author:      r.Author,
			Description: r.Description,
			UpstreamURL: r.UpstreamURL,
			Cron:        r.Schedule,
		})
		logger.Debug().Object("repo", r).Msg("configured repo")
	}
	if err := db.ReconcileRepos(ctx, repos); err != nil {
		return fmt.Errorf("could not save repos: %w", err)
	}
	logger.Info().Int("repos", len(repos)).Msg("repos loaded")
	return nil
}

func openDatabase(path string, logger zerolog.Logger) (*database.Database, error) {
	if path == "" {
		return nil, fmt.Errorf("no database specified")
	}
	db, err := database.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	return db, nil
}
