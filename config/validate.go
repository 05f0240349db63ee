package config

import (
	"errors"
	"fmt"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"
)

var (
	errNotAbsoluteURL = errors.New("must be an absolute URL")
	errDuplicateRepo  = errors.New("duplicate repo id")
)

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxConcurrentTasks, validation.Required, validation.Min(1)),
		validation.Field(&c.LogDir, validation.Required),
		validation.Field(&c.CleanupSchedule, validation.Required, validation.By(cronSchedule)),
		validation.Field(&c.FileHost),
		validation.Field(&c.Repos, validation.By(uniqueRepoIDs)),
	)
}

func (c FileHostConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, validation.In(FileHostLocal, FileHostS3)),
		validation.Field(&c.Local, validation.Skip.When(c.Type != FileHostLocal)),
		validation.Field(&c.S3, validation.Skip.When(c.Type != FileHostS3)),
	)
}

func (c LocalHostConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, validation.By(absoluteURL)),
	)
}

func (c S3HostConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.CDNURL, validation.When(c.PublicAccess, validation.Required, validation.By(absoluteURL))),
	)
}

func (r ConfigRepo) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.UpstreamURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&r.Schedule, validation.Required, validation.By(cronSchedule)),
	)
}

func absoluteURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errNotAbsoluteURL
	}
	return nil
}

func cronSchedule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

func uniqueRepoIDs(value any) error {
	repos, _ := value.([]ConfigRepo)
	seen := make(map[string]struct{}, len(repos))
	for _, r := range repos {
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %s", errDuplicateRepo, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
