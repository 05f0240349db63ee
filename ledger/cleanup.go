package ledger

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

var logFilePattern = regexp.MustCompile(`^(\d+)-(.+)-(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})\.log$`)

// LogFile is a task log found on disk.
type LogFile struct {
	Path   string
	TaskID int64
	RepoID string
	Time   time.Time
}

func (f LogFile) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", f.Path)
	e.Int64("task", f.TaskID)
	e.Str("repo", f.RepoID)
	e.Time("time", f.Time)
}

// ParseLogFileName extracts the task id, repo id and start time embedded in
// a task log file name.
func ParseLogFileName(name string) (LogFile, bool) {
	m := logFilePattern.FindStringSubmatch(name)
	if m == nil {
		return LogFile{}, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return LogFile{}, false
	}
	t, err := time.ParseInLocation(logTimeLayout, m[3], time.UTC)
	if err != nil {
		return LogFile{}, false
	}
	return LogFile{Path: name, TaskID: id, RepoID: m[2], Time: t}, true
}

// ScanLogs yields every task log file in the log directory. Other files are
// ignored.
func (l *Ledger) ScanLogs(ctx context.Context) (iter.Seq[LogFile], error) {
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return nil, err
	}

	return func(yield func(LogFile) bool) {
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			if !e.Type().IsRegular() {
				continue
			}
			f, ok := ParseLogFileName(e.Name())
			if !ok {
				continue
			}
			f.Path = filepath.Join(l.logDir, e.Name())
			if !yield(f) {
				return
			}
		}
	}, nil
}

// Cleanup deletes task logs whose embedded start time is older than
// retention and returns how many were deleted.
func (l *Ledger) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().Add(-retention)
	logger := l.logger.With().Time("cutoff", cutoff).Logger()
	logger.Info().Msg("start cleaning up task logs")

	logs, err := l.ScanLogs(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int
	var errs []error
	for f := range logs {
		if !f.Time.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Object("log", f).Msg("could not delete task log")
			errs = append(errs, err)
			continue
		}
		deleted++
		logger.Debug().Object("log", f).Msg("deleted task log")
	}

	logger.Info().Int("deleted", deleted).Msg("done cleaning up task logs")
	return deleted, errors.Join(errs...)
}
