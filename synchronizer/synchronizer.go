// Package synchronizer mirrors one upstream listing into the metadata store
// and the file host.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/filehost"
	"github.com/stupid-simple/pkgmirror/ledger"
	"github.com/stupid-simple/pkgmirror/manifest"
)

var (
	// ErrFetch wraps failures to download or decode a listing.
	ErrFetch = errors.New("fetch listing failed")
	// ErrHashMismatch is the rejection reason of artifacts whose content
	// does not match the declared SHA-256.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrArtifactTooLarge is returned when a download exceeds the size limit.
	ErrArtifactTooLarge = errors.New("artifact too large")
)

type Params struct {
	DB     *database.Database
	Ledger *ledger.Ledger
	Host   filehost.FileHost
	HTTP   *http.Client
	// TempDir receives downloads before they are stored. Defaults to the
	// system temp dir.
	TempDir string
	// MaxSize limits artifact downloads in bytes, 0 means unlimited.
	MaxSize int64
	Logger  zerolog.Logger
}

type Synchronizer struct {
	db      *database.Database
	ledger  *ledger.Ledger
	host    filehost.FileHost
	http    *http.Client
	tempDir string
	maxSize int64
	logger  zerolog.Logger
}

func New(params Params) *Synchronizer {
	client := params.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	tempDir := params.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Synchronizer{
		db:      params.DB,
		ledger:  params.Ledger,
		host:    params.Host,
		http:    client,
		tempDir: tempDir,
		maxSize: params.MaxSize,
		logger:  params.Logger,
	}
}

// Result is the outcome of one synchronization.
type Result struct {
	Task   *database.SyncTask
	Report Report
}

// Report counts what happened to every package version of a listing.
type Report struct {
	Total      int
	Kept       int
	Reused     int
	Downloaded int
	Rejected   int
}

func (r Report) MarshalZerologObject(e *zerolog.Event) {
	e.Int("total", r.Total)
	e.Int("kept", r.Kept)
	e.Int("reused", r.Reused)
	e.Int("downloaded", r.Downloaded)
	e.Int("rejected", r.Rejected)
}

// Run implements dispatcher.Runner.
func (s *Synchronizer) Run(ctx context.Context, repoID string) error {
	_, err := s.Sync(ctx, repoID)
	return err
}

// Sync synchronizes one repo and records the attempt as a task. The task ends
// completed when the package metadata was committed, failed otherwise.
func (s *Synchronizer) Sync(ctx context.Context, repoID string) (*Result, error) {
	repo, err := s.db.GetRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("repo %q: %w", repoID, err)
	}

	task, err := s.ledger.Create(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	result := &Result{Task: task}

	taskLog, err := s.ledger.Start(ctx, task)
	if err != nil {
		return result, errors.Join(err, s.ledger.Finish(ctx, task, err))
	}
	defer func() {
		_ = taskLog.Close()
	}()
	log := taskLog.Logger

	startTime := time.Now()
	log.Info().Object("repo", repo).Msg("start sync")

	report, runErr := s.runSafely(ctx, repo, log)
	result.Report = report

	elapsed := time.Since(startTime)
	if runErr != nil {
		log.Error().Err(runErr).Dur("elapsed", elapsed).Object("report", report).Msg("sync failed")
	} else {
		log.Info().Dur("elapsed", elapsed).Object("report", report).Msg("sync done")
	}

	if err := s.ledger.Finish(ctx, task, runErr); err != nil {
		return result, errors.Join(runErr, err)
	}
	return result, runErr
}

func (s *Synchronizer) runSafely(ctx context.Context, repo *database.Repo, log zerolog.Logger) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
	}()
	return s.run(ctx, repo, log)
}

func (s *Synchronizer) run(ctx context.Context, repo *database.Repo, log zerolog.Logger) (Report, error) {
	listing, err := manifest.Fetch(ctx, s.http, repo.UpstreamURL)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %s: %w", ErrFetch, repo.UpstreamURL, err)
	}

	originRepoID := repo.ID
	if listing.ID != nil && *listing.ID != "" {
		originRepoID = *listing.ID
	}
	log.Info().Object("listing", listing).Str("origin", originRepoID).Msg("fetched listing")

	report := Report{Total: listing.Count()}
	pkgs := make([]database.Package, 0, report.Total)

	throttledLog := log.Sample(&zerolog.BurstSampler{
		Burst:  1,
		Period: 1 * time.Second,
	})
	done := 0
	for p := range listing.All() {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		res, err := s.resolve(ctx, repo.ID, p, log.With().Str("package", p.Key()).Logger())
		if err != nil {
			return report, fmt.Errorf("could not resolve %s: %w", p.Key(), err)
		}
		done++

		switch res.Action {
		case ActionRejected:
			report.Rejected++
			log.Error().Err(res.Reason).Object("package", p).Msg("rejected package")
			continue
		case ActionKept:
			report.Kept++
		case ActionReused:
			report.Reused++
		case ActionDownloaded:
			report.Downloaded++
		}
		pkgs = append(pkgs, toPackage(p, repo.ID, originRepoID, res.FileID))

		throttledLog.Info().Int("done", done).Int("total", report.Total).Msg("resolving packages")
	}

	if err := s.db.UpsertPackages(ctx, pkgs); err != nil {
		return report, fmt.Errorf("could not save packages: %w", err)
	}
	log.Info().Int("packages", len(pkgs)).Msg("saved packages")

	if report.Rejected > 0 {
		log.Warn().Int("rejected", report.Rejected).Msg("some packages were rejected")
	}
	return report, nil
}
