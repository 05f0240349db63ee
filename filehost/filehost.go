// Package filehost stores artifacts by content hash.
package filehost

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/config"
	"github.com/stupid-simple/pkgmirror/database"
)

// ErrNotFound is returned when a file id does not resolve to a stored blob.
var ErrNotFound = errors.New("file not found")

// FileHost is a content addressed blob store.
type FileHost interface {
	// Put stores the file at sourcePath under name and returns its file id.
	// Storing identical content twice yields the same stored object.
	Put(ctx context.Context, sourcePath, name string) (string, error)
	// ResolveURI returns a fetchable location for a file id.
	ResolveURI(ctx context.Context, fileID string) (string, error)
	// LookupByHash returns the file id of previously stored content.
	LookupByHash(ctx context.Context, hash string) (string, bool, error)
	// Exists reports whether the blob behind a file id is still stored.
	Exists(ctx context.Context, fileID string) (bool, error)
}

// FileRecords indexes stored blobs by hash.
type FileRecords interface {
	FindFileRecord(ctx context.Context, hash string) (*database.FileRecord, error)
	RecordFile(ctx context.Context, hash, key string) error
}

// New creates the file host selected by cfg.
func New(cfg config.FileHostConfig, records FileRecords, logger zerolog.Logger) (FileHost, error) {
	logger = logger.With().Str("file_host", cfg.Type).Logger()

	switch cfg.Type {
	case config.FileHostLocal:
		return NewLocalHost(cfg.Local.Path, cfg.Local.BaseURL, logger)
	case config.FileHostS3:
		return NewS3Host(cfg.S3, records, logger)
	default:
		return nil, fmt.Errorf("unknown file host type: %s", cfg.Type)
	}
}
