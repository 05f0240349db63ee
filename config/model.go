package config

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxConcurrentTasks = 3
	DefaultLogDir             = "sync-tasks-logs"
	DefaultLogRetention       = 30 * 24 * time.Hour
	DefaultCleanupSchedule    = "@daily"
	DefaultPresignedExpiry    = time.Hour

	FileHostLocal = "local"
	FileHostS3    = "s3"
)

type Config struct {
	MaxConcurrentTasks int            `json:"max_concurrent_tasks,omitempty"`
	LogDir             string         `json:"log_dir,omitempty"`
	LogRetention       Duration       `json:"log_retention,omitempty"`
	CleanupSchedule    string         `json:"cleanup_cron,omitempty"`
	TempDir            string         `json:"temp_dir,omitempty"`
	Download           DownloadConfig `json:"download"`
	FileHost           FileHostConfig `json:"file_host"`
	Repos              []ConfigRepo   `json:"repos,omitempty"`
}

type DownloadConfig struct {
	MaxSize SizeArgument `json:"max_size,omitempty"`
	Timeout Duration     `json:"timeout,omitempty"`
}

// FileHostConfig selects the blob store. Only the section matching Type is read.
type FileHostConfig struct {
	Type  string          `json:"type"`
	Local LocalHostConfig `json:"local"`
	S3    S3HostConfig    `json:"s3"`
}

type LocalHostConfig struct {
	Path    string `json:"path"`
	BaseURL string `json:"base_url"`
}

type S3HostConfig struct {
	Endpoint        string   `json:"endpoint"`
	AccessKey       string   `json:"access_key"`
	SecretKey       string   `json:"secret_key"`
	Bucket          string   `json:"bucket"`
	UseSSL          bool     `json:"use_ssl,omitempty"`
	KeyPrefix       string   `json:"key_prefix,omitempty"`
	KeySuffix       string   `json:"key_suffix,omitempty"`
	PublicAccess    bool     `json:"public_access,omitempty"`
	CDNURL          string   `json:"cdn_url,omitempty"`
	PresignedExpiry Duration `json:"presigned_expiry,omitempty"`
}

type ConfigRepo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	UpstreamURL string `json:"upstream_url"`
	Schedule    string `json:"cron"`
}

func (r ConfigRepo) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID)
	e.Str("upstream_url", r.UpstreamURL)
	e.Str("schedule", r.Schedule)

	if r.Name != "" {
		e.Str("name", r.Name)
	}
}

func (c FileHostConfig) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", c.Type)
	switch c.Type {
	case FileHostLocal:
		e.Str("path", c.Local.Path)
		e.Str("base_url", c.Local.BaseURL)
	case FileHostS3:
		e.Str("endpoint", c.S3.Endpoint)
		e.Str("bucket", c.S3.Bucket)
		e.Bool("public_access", c.S3.PublicAccess)
	}
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.LogRetention.Duration == 0 {
		c.LogRetention.Duration = DefaultLogRetention
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = DefaultCleanupSchedule
	}
	if c.FileHost.Type == "" {
		c.FileHost.Type = FileHostLocal
	}
	if c.FileHost.Type == FileHostS3 && c.FileHost.S3.PresignedExpiry.Duration == 0 {
		c.FileHost.S3.PresignedExpiry.Duration = DefaultPresignedExpiry
	}
}
