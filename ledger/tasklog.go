package ledger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/database"
)

const logTimeLayout = "2006-01-02-15-04-05"

// LogFileName returns the log file name of a task.
func LogFileName(taskID int64, repoID string, start time.Time) string {
	return strconv.FormatInt(taskID, 10) + "-" + repoID + "-" + start.UTC().Format(logTimeLayout) + ".log"
}

// TaskLog is the private, append only log of one task.
type TaskLog struct {
	Logger zerolog.Logger
	file   *os.File
}

func (t *TaskLog) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (l *Ledger) openLog(task *database.SyncTask) (*TaskLog, error) {
	f, err := os.OpenFile(task.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open task log: %w", err)
	}

	var w io.Writer = zerolog.ConsoleWriter{
		Out:        f,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}

	// The file always keeps info and above, the console follows the
	// process level.
	level := min(l.logger.GetLevel(), zerolog.InfoLevel)
	if l.console != nil {
		w = zerolog.MultiLevelWriter(w, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: l.console},
			Level:  l.logger.GetLevel(),
		})
	}

	logger := zerolog.New(w).Level(level).With().
		Timestamp().
		Int64("task", task.ID).
		Str("repo", task.RepoID).
		Logger()

	return &TaskLog{Logger: logger, file: f}, nil
}
