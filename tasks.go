package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/config"
	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/filehost"
	"github.com/stupid-simple/pkgmirror/ledger"
)

const timeLayout = "2006-01-02 15:04:05"

func tasksCommand(ctx context.Context, args Command, out io.Writer, logger zerolog.Logger) error {
	db, err := openDatabase(args.Tasks.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	opts := []database.ListTasksOptions{
		database.WithTaskLimit(args.Tasks.Limit),
		database.WithTaskPage(args.Tasks.Page),
	}
	if args.Tasks.Repo != "" {
		opts = append(opts, database.WithTaskRepo(args.Tasks.Repo))
	}
	tasks, err := db.ListTasks(ctx, opts...)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPO\tSTATUS\tSTARTED\tDURATION\tLOG")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.RepoID, t.Status, formatTime(t.StartTime), taskDuration(t), t.LogPath)
	}
	return w.Flush()
}

func statusCommand(ctx context.Context, args Command, out io.Writer, logger zerolog.Logger) error {
	cfg, err := config.LoadFromFile(args.Status.Config)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	db, err := openDatabase(args.Status.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	l, err := ledger.New(ledger.Params{DB: db, LogDir: cfg.LogDir, Logger: logger})
	if err != nil {
		return err
	}
	statuses, err := l.LatestPerRepo(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPO\tPACKAGES\tLAST TASK\tSTATUS\tSTARTED\tDURATION")
	for _, s := range statuses {
		count, err := db.CountPackages(ctx, s.Repo.ID)
		if err != nil {
			return err
		}
		if s.Task == nil {
			fmt.Fprintf(w, "%s\t%d\t-\tnever synced\t-\t-\n", s.Repo.ID, count)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
			s.Repo.ID, count, s.Task.ID, s.Task.Status, formatTime(s.Task.StartTime), taskDuration(*s.Task))
	}
	return w.Flush()
}

func packagesCommand(ctx context.Context, args Command, out io.Writer, logger zerolog.Logger) error {
	db, err := openDatabase(args.Packages.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if _, err := db.GetRepo(ctx, args.Packages.Repo); err != nil {
		return fmt.Errorf("repo %q: %w", args.Packages.Repo, err)
	}

	var pkgs []database.Package
	if args.Packages.Name != "" {
		pkgs, err = db.PackageVersions(ctx, args.Packages.Repo, args.Packages.Name)
	} else {
		pkgs, err = db.ListPackages(ctx, args.Packages.Repo)
	}
	if err != nil {
		return err
	}

	var host filehost.FileHost
	if args.Packages.Config != "" {
		cfg, err := config.LoadFromFile(args.Packages.Config)
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		host, err = filehost.New(cfg.FileHost, db, logger)
		if err != nil {
			return fmt.Errorf("could not create file host: %w", err)
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tORIGIN\tHASH\tFILE")
	for _, p := range pkgs {
		hash := "-"
		if p.ContentHash != nil {
			hash = shortHash(*p.ContentHash)
		}
		file := p.FileID
		if host != nil {
			file, err = host.ResolveURI(ctx, p.FileID)
			if errors.Is(err, filehost.ErrNotFound) {
				file = "missing: " + p.FileID
			} else if err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Version, p.OriginRepoID, hash, file)
	}
	return w.Flush()
}

func cleanupCommand(ctx context.Context, args Command, logger zerolog.Logger) error {
	cfg, err := config.LoadFromFile(args.Cleanup.Config)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	db, err := openDatabase(args.Cleanup.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	retention := cfg.LogRetention.Duration
	if args.Cleanup.Retention.Duration > 0 {
		retention = args.Cleanup.Retention.Duration
	}

	l, err := ledger.New(ledger.Params{DB: db, LogDir: cfg.LogDir, Logger: logger})
	if err != nil {
		return err
	}
	removed, err := l.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	logger.Info().
		Int("removed", removed).
		Str("retention", units.HumanDuration(retention)).
		Msg("task logs cleaned up")
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func taskDuration(t database.SyncTask) string {
	if t.StartTime.IsZero() {
		return "-"
	}
	end := time.Now()
	if t.EndTime != nil {
		end = *t.EndTime
	}
	return end.Sub(t.StartTime).Round(time.Second).String()
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
