package scheduler

import (
	"context"
	"fmt"
)

// InvokeSyncTask starts a sync of repoID outside its schedule. It is rejected
// with ErrConcurrentSync when a sync of the repo is in flight here or the
// newest task of the repo is not finished. The repo trigger is paused until
// the returned channel receives the outcome of the run.
func (s *Scheduler) InvokeSyncTask(ctx context.Context, repoID string) (<-chan error, error) {
	if _, err := s.repos.GetRepo(ctx, repoID); err != nil {
		return nil, fmt.Errorf("repo %q: %w", repoID, err)
	}

	busy, err := s.ledger.Busy(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrConcurrentSync
	}

	s.mu.Lock()
	if _, ok := s.inFlight[repoID]; ok {
		s.mu.Unlock()
		return nil, ErrConcurrentSync
	}
	s.inFlight[repoID] = struct{}{}
	s.manualRuns[repoID] = struct{}{}
	if t, ok := s.triggers[repoID]; ok {
		t.paused.Store(true)
	}
	s.manual.Add(1)
	runCtx := s.ctx
	s.mu.Unlock()

	logger := s.logger.With().Str("repo", repoID).Logger()
	logger.Info().Msg("manual sync")

	done := make(chan error, 1)
	go func() {
		defer s.manual.Done()

		err := s.dispatcher.Dispatch(runCtx, repoID)
		s.resume(repoID)
		if err != nil {
			logger.Error().Err(err).Msg("manual sync failed")
		}
		done <- err
		close(done)
	}()
	return done, nil
}

func (s *Scheduler) resume(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, repoID)
	delete(s.manualRuns, repoID)
	if t, ok := s.triggers[repoID]; ok {
		t.paused.Store(false)
	}
}

// Paused reports whether the trigger of repoID is paused by a manual sync.
func (s *Scheduler) Paused(repoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[repoID]
	return ok && t.paused.Load()
}
