// Package scheduler fires repo synchronizations on their cron schedule and on
// demand, never running two of the same repo at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/database"
)

// ErrConcurrentSync is returned by InvokeSyncTask when a sync of the repo is
// already pending or running.
var ErrConcurrentSync = errors.New("a sync of this repo is already in progress")

type Dispatcher interface {
	Dispatch(ctx context.Context, repoID string) error
}

type TaskLedger interface {
	Busy(ctx context.Context, repoID string) (bool, error)
}

type RepoStore interface {
	ListRepos(ctx context.Context) ([]database.Repo, error)
	GetRepo(ctx context.Context, id string) (*database.Repo, error)
}

type SchedulerParams struct {
	Logger     zerolog.Logger
	Dispatcher Dispatcher
	Ledger     TaskLedger
	Repos      RepoStore
}

func NewScheduler(params SchedulerParams) *Scheduler {
	cronLog := cronLogger{params.Logger.With().Str("component", "cron").Logger()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		dispatcher: params.Dispatcher,
		ledger:     params.Ledger,
		repos:      params.Repos,
		ctx:        context.Background(),
		triggers:   make(map[string]*trigger),
		jobs:       make(map[cron.EntryID]string),
		inFlight:   make(map[string]struct{}),
		manualRuns: make(map[string]struct{}),
		logger:     params.Logger,
	}
}

type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	ledger     TaskLedger
	repos      RepoStore
	ctx        context.Context

	mu       sync.Mutex
	triggers map[string]*trigger
	jobs     map[cron.EntryID]string
	inFlight map[string]struct{}
	manual   sync.WaitGroup

	// manualRuns holds the repos whose trigger is paused by InvokeSyncTask.
	manualRuns map[string]struct{}

	logger zerolog.Logger
}

// trigger is the cron entry of one repo.
type trigger struct {
	entry  cron.EntryID
	repo   database.Repo
	paused atomic.Bool
}

// Start the scheduler in its own routine. Runs it starts use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop the scheduler. The returned context is done once every running sync,
// scheduled or manual, returned.
func (s *Scheduler) Stop() context.Context {
	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		cancel()
	}()
	return ctx
}

// AddRepoJob schedules the repo on its cron expression, replacing a previous
// trigger of the same repo.
func (s *Scheduler) AddRepoJob(repo database.Repo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRepoJobLocked(repo)
}

func (s *Scheduler) addRepoJobLocked(repo database.Repo) error {
	if old, ok := s.triggers[repo.ID]; ok {
		s.cron.Remove(old.entry)
		delete(s.triggers, repo.ID)
	}

	t := &trigger{repo: repo}
	entry, err := s.cron.AddFunc(repo.Cron, func() {
		s.fire(t)
	})
	if err != nil {
		return fmt.Errorf("could not add sync job of %s: %w", repo.ID, err)
	}
	t.entry = entry
	if _, manual := s.manualRuns[repo.ID]; manual {
		t.paused.Store(true)
	}
	s.triggers[repo.ID] = t
	return nil
}

// RemoveJobs removes every repo trigger. Jobs added with AddFunc are kept.
func (s *Scheduler) RemoveJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobsLocked()
}

func (s *Scheduler) removeJobsLocked() {
	for id, t := range s.triggers {
		s.cron.Remove(t.entry)
		delete(s.triggers, id)
	}
}

// Rebuild discards every repo trigger and adds one per stored repo. Repos
// whose schedule can not be parsed are skipped and reported.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	repos, err := s.repos.ListRepos(ctx)
	if err != nil {
		return fmt.Errorf("could not list repos: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeJobsLocked()
	var errs []error
	for _, repo := range repos {
		if err := s.addRepoJobLocked(repo); err != nil {
			s.logger.Error().Err(err).Object("repo", repo).Msg("skipping repo")
			errs = append(errs, err)
			continue
		}
		s.logger.Info().Object("repo", repo).Msg("scheduled repo")
	}
	return errors.Join(errs...)
}

// AddFunc schedules a maintenance job. It survives Rebuild and RemoveJobs.
func (s *Scheduler) AddFunc(schedule, name string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug().Str("job", name).Msg("running job")
		fn(s.baseContext())
	})
	if err != nil {
		return fmt.Errorf("could not add job %s: %w", name, err)
	}
	s.jobs[entry] = name
	return nil
}

// Scheduled returns the ids of the repos that currently have a trigger.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.triggers))
	for id := range s.triggers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// fire runs a scheduled sync unless the repo is paused or already syncing.
func (s *Scheduler) fire(t *trigger) {
	logger := s.logger.With().Str("repo", t.repo.ID).Logger()

	if t.paused.Load() {
		logger.Info().Msg("trigger paused by a manual sync, skipping")
		return
	}
	if !s.acquire(t.repo.ID) {
		logger.Info().Msg("sync still in progress, skipping")
		return
	}
	defer s.release(t.repo.ID)

	ctx := s.baseContext()
	// Another process may be syncing the repo.
	busy, err := s.ledger.Busy(ctx, t.repo.ID)
	if err != nil {
		logger.Error().Err(err).Msg("could not check repo tasks")
		return
	}
	if busy {
		logger.Info().Msg("repo has an unfinished task, skipping")
		return
	}

	logger.Info().Msg("scheduled sync")
	if err := s.dispatcher.Dispatch(ctx, t.repo.ID); err != nil {
		logger.Error().Err(err).Msg("scheduled sync failed")
	}
}

func (s *Scheduler) acquire(repoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[repoID]; ok {
		return false
	}
	s.inFlight[repoID] = struct{}{}
	return true
}

func (s *Scheduler) release(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, repoID)
}
