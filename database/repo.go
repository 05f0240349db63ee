package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errNotAbsoluteURL = errors.New("must be an absolute URL")

func (r Repo) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.UpstreamURL, validation.Required, validation.By(func(value any) error {
			u, err := url.Parse(value.(string))
			if err != nil || u.Scheme == "" || u.Host == "" {
				return errNotAbsoluteURL
			}
			return nil
		})),
		validation.Field(&r.Cron, validation.Required, validation.By(func(value any) error {
			_, err := cron.ParseStandard(value.(string))
			return err
		})),
	)
}

// SaveRepo creates or updates a repo.
func (d *Database) SaveRepo(ctx context.Context, repo *Repo) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("invalid repo %q: %w", repo.ID, err)
	}

	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(repo).Error
}

func (d *Database) GetRepo(ctx context.Context, id string) (*Repo, error) {
	repo := &Repo{}
	err := d.Cli.WithContext(ctx).Where("id = ?", id).First(repo).Error
	if err != nil {
		return nil, notFound(err)
	}
	return repo, nil
}

func (d *Database) ListRepos(ctx context.Context) ([]Repo, error) {
	repos := []Repo{}
	err := d.Cli.WithContext(ctx).Order("id").Find(&repos).Error
	return repos, err
}

// DeleteRepo removes the repo together with its packages.
func (d *Database) DeleteRepo(ctx context.Context, id string) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteRepo(tx, id)
	})
}

// ReconcileRepos makes the stored repo set equal to repos: listed repos are
// created or updated, the others are deleted with their packages.
func (d *Database) ReconcileRepos(ctx context.Context, repos []Repo) error {
	keep := make([]string, 0, len(repos))
	for i := range repos {
		if err := repos[i].Validate(); err != nil {
			return fmt.Errorf("invalid repo %q: %w", repos[i].ID, err)
		}
		keep = append(keep, repos[i].ID)
	}

	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := []string{}
		q := tx.Model(&Repo{})
		if len(keep) > 0 {
			q = q.Where("id NOT IN ?", keep)
		}
		if err := q.Pluck("id", &stale).Error; err != nil {
			return err
		}
		for _, id := range stale {
			if err := deleteRepo(tx, id); err != nil {
				return err
			}
			d.Logger.Info().Str("repo", id).Msg("removed repo")
		}

		for i := range repos {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&repos[i]).Error
			if err != nil {
				return fmt.Errorf("failed to save repo %q: %w", repos[i].ID, err)
			}
		}
		return nil
	})
}

func deleteRepo(tx *gorm.DB, id string) error {
	if err := tx.Where("repo_id = ?", id).Delete(&Package{}).Error; err != nil {
		return fmt.Errorf("failed to delete packages: %w", err)
	}
	res := tx.Where("id = ?", id).Delete(&Repo{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete repo: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
