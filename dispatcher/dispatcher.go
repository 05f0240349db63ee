// Package dispatcher bounds how many synchronizations run at once.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Runner runs one synchronization of a repo.
type Runner interface {
	Run(ctx context.Context, repoID string) error
}

type Dispatcher struct {
	runner Runner
	sem    *semaphore.Weighted
	max    int
	active atomic.Int64
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func New(runner Runner, maxConcurrent int, logger zerolog.Logger) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		max:    maxConcurrent,
		logger: logger,
	}
}

// Dispatch runs a synchronization of repoID once a slot is free, blocking
// the caller while the limit is reached. ctx only bounds the wait for a
// slot, an admitted run is not cancelled with it.
func (d *Dispatcher) Dispatch(ctx context.Context, repoID string) (err error) {
	logger := d.logger.With().Str("repo", repoID).Logger()

	if !d.sem.TryAcquire(1) {
		logger.Info().Int("max", d.max).Msg("concurrency limit reached, waiting for a free slot")
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("sync of %s not admitted: %w", repoID, err)
		}
	}
	d.wg.Add(1)
	active := d.active.Add(1)
	defer func() {
		d.active.Add(-1)
		d.sem.Release(1)
		d.wg.Done()
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("sync panicked")
			err = fmt.Errorf("sync of %s panicked: %v", repoID, r)
		}
	}()

	logger.Debug().Int64("active", active).Msg("sync admitted")
	return d.runner.Run(context.WithoutCancel(ctx), repoID)
}

// Active returns the number of running synchronizations.
func (d *Dispatcher) Active() int {
	return int(d.active.Load())
}

// Wait blocks until every admitted synchronization returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
