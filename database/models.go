package database

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

// Repo is a mirrored upstream repository.
type Repo struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Author      string
	Description string
	UpstreamURL string
	Cron        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r Repo) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID)
	e.Str("upstream_url", r.UpstreamURL)
	e.Str("cron", r.Cron)
}

// Package is one mirrored package version. Upstream fields are copied
// verbatim; nil means the manifest did not declare the field.
type Package struct {
	Name         string `gorm:"primaryKey"`
	Version      string `gorm:"primaryKey"`
	RepoID       string `gorm:"index"`
	OriginRepoID string

	DisplayName  *string
	Description  *string
	UnityVersion *string
	UnityRelease *string
	URL          string
	LocalPath    *string
	AuthorName   *string
	AuthorEmail  *string
	AuthorURL    *string
	License      *string
	ChangelogURL *string
	VpmID        *string
	HideInEditor *bool

	LegacyPackages  datatypes.JSON
	LegacyFolders   datatypes.JSON
	LegacyFiles     datatypes.JSON
	Dependencies    datatypes.JSON
	GitDependencies datatypes.JSON
	VpmDependencies datatypes.JSON
	Keywords        datatypes.JSON
	Samples         datatypes.JSON
	Headers         datatypes.JSON

	// ContentHash is the upstream declared SHA-256, normalized to lower case.
	ContentHash *string
	FileID      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Package) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", p.Name)
	e.Str("version", p.Version)
	e.Str("repo", p.RepoID)
	e.Str("file_id", p.FileID)
	if p.ContentHash != nil {
		e.Str("hash", *p.ContentHash)
	}
}

// FileRecord indexes stored blobs by content hash for hosts whose keys can
// not be derived from the hash alone.
type FileRecord struct {
	Key       string `gorm:"primaryKey"`
	Hash      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskInterrupted TaskStatus = "interrupted"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskInterrupted:
		return true
	}
	return false
}

// SyncTask records one synchronization attempt of a repo.
type SyncTask struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RepoID    string `gorm:"index"`
	LogPath   string
	Status    TaskStatus `gorm:"index"`
	StartTime time.Time
	EndTime   *time.Time
}

func (t SyncTask) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("id", t.ID)
	e.Str("repo", t.RepoID)
	e.Str("status", string(t.Status))
	e.Time("start", t.StartTime)
	if t.EndTime != nil {
		e.Time("end", *t.EndTime)
	}
}
