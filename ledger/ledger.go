// Package ledger records synchronization attempts and owns their log files.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/fileutils"
)

// ErrTaskFinished is returned when mutating a task that reached a terminal
// state, or starting one that already left pending.
var ErrTaskFinished = errors.New("task already finished")

type Params struct {
	DB     *database.Database
	LogDir string
	// Console optionally receives a copy of every task log event.
	Console io.Writer
	Logger  zerolog.Logger
}

type Ledger struct {
	db      *database.Database
	logDir  string
	console io.Writer
	logger  zerolog.Logger
	now     func() time.Time
}

func New(params Params) (*Ledger, error) {
	logDir, err := filepath.Abs(params.LogDir)
	if err != nil {
		return nil, err
	}
	if err := fileutils.EnsureWritableDir(logDir); err != nil {
		return nil, fmt.Errorf("invalid task log dir: %w", err)
	}

	return &Ledger{
		db:      params.DB,
		logDir:  logDir,
		console: params.Console,
		logger:  params.Logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Create records a pending task for repoID and assigns its log path.
func (l *Ledger) Create(ctx context.Context, repoID string) (*database.SyncTask, error) {
	task := &database.SyncTask{
		RepoID:    repoID,
		Status:    database.TaskPending,
		StartTime: l.now(),
	}
	err := l.db.CreateTaskWithLog(ctx, task, func(t *database.SyncTask) string {
		return filepath.Join(l.logDir, LogFileName(t.ID, t.RepoID, t.StartTime))
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task: %w", err)
	}

	l.logger.Debug().Object("task", task).Msg("created task")
	return task, nil
}

// Start moves a pending task to running and opens its log.
func (l *Ledger) Start(ctx context.Context, task *database.SyncTask) (*TaskLog, error) {
	ok, err := l.db.TransitionTask(ctx, task.ID,
		[]database.TaskStatus{database.TaskPending},
		map[string]any{"status": database.TaskRunning},
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskFinished, task.ID)
	}
	task.Status = database.TaskRunning

	return l.openLog(task)
}

// Finish moves a pending or running task to completed, or to failed when
// runErr is not nil.
func (l *Ledger) Finish(ctx context.Context, task *database.SyncTask, runErr error) error {
	status := database.TaskCompleted
	if runErr != nil {
		status = database.TaskFailed
	}
	end := l.now()

	ok, err := l.db.TransitionTask(context.WithoutCancel(ctx), task.ID,
		[]database.TaskStatus{database.TaskPending, database.TaskRunning},
		map[string]any{"status": status, "end_time": end},
	)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskFinished, task.ID)
	}

	task.Status = status
	task.EndTime = &end
	l.logger.Debug().Object("task", task).Msg("finished task")
	return nil
}

// RecoverInterrupted marks every task left pending or running by a previous
// process as interrupted. Call once at startup before any sync is admitted.
func (l *Ledger) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := l.db.InterruptUnfinishedTasks(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("could not recover interrupted tasks: %w", err)
	}
	if n > 0 {
		l.logger.Warn().Int64("tasks", n).Msg("marked unfinished tasks as interrupted")
	}
	return n, nil
}

func (l *Ledger) Get(ctx context.Context, id int64) (*database.SyncTask, error) {
	return l.db.GetTask(ctx, id)
}

// Latest returns the newest task of a repo, database.ErrNotFound if none.
func (l *Ledger) Latest(ctx context.Context, repoID string) (*database.SyncTask, error) {
	return l.db.LatestTask(ctx, repoID)
}

// Busy reports whether the newest task of a repo is pending or running.
func (l *Ledger) Busy(ctx context.Context, repoID string) (bool, error) {
	task, err := l.Latest(ctx, repoID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !task.Status.Terminal(), nil
}

func (l *Ledger) List(ctx context.Context, opts ...database.ListTasksOptions) ([]database.SyncTask, error) {
	return l.db.ListTasks(ctx, opts...)
}

type RepoStatus struct {
	Repo database.Repo
	// Task is the newest task of the repo, nil if it never synced.
	Task *database.SyncTask
}

// LatestPerRepo returns one status per known repo.
func (l *Ledger) LatestPerRepo(ctx context.Context) ([]RepoStatus, error) {
	repos, err := l.db.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := l.db.LatestTasks(ctx)
	if err != nil {
		return nil, err
	}

	byRepo := make(map[string]*database.SyncTask, len(tasks))
	for i := range tasks {
		byRepo[tasks[i].RepoID] = &tasks[i]
	}

	statuses := make([]RepoStatus, 0, len(repos))
	for _, r := range repos {
		statuses = append(statuses, RepoStatus{Repo: r, Task: byRepo[r.ID]})
	}
	return statuses, nil
}
