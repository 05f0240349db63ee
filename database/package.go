package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 50

// GetPackage returns the package version regardless of which repo owns it.
func (d *Database) GetPackage(ctx context.Context, name, version string) (*Package, error) {
	pkg := &Package{}
	err := d.Cli.WithContext(ctx).
		Where("name = ? AND version = ?", name, version).
		First(pkg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return pkg, nil
}

// UpsertPackages writes every package in one transaction keyed by
// (name, version). Either all rows are written or none.
func (d *Database) UpsertPackages(ctx context.Context, pkgs []Package) error {
	if len(pkgs) == 0 {
		return nil
	}

	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(pkgs); start += upsertBatchSize {
			end := min(start+upsertBatchSize, len(pkgs))
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}, {Name: "version"}},
				UpdateAll: true,
			}).Create(pkgs[start:end]).Error
			if err != nil {
				return fmt.Errorf("failed to upsert packages: %w", err)
			}
		}
		return nil
	})
}

// ListPackages returns the packages of a repo, names ascending and versions
// newest first.
func (d *Database) ListPackages(ctx context.Context, repoID string) ([]Package, error) {
	pkgs := []Package{}
	err := d.Cli.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("name").
		Find(&pkgs).Error
	if err != nil {
		return nil, err
	}
	SortPackages(pkgs)
	return pkgs, nil
}

// PackageVersions returns the versions of one package in a repo, newest first.
func (d *Database) PackageVersions(ctx context.Context, repoID, name string) ([]Package, error) {
	pkgs := []Package{}
	err := d.Cli.WithContext(ctx).
		Where("repo_id = ? AND name = ?", repoID, name).
		Find(&pkgs).Error
	if err != nil {
		return nil, err
	}
	SortPackages(pkgs)
	return pkgs, nil
}

// CountPackages returns the number of package versions mirrored for a repo.
func (d *Database) CountPackages(ctx context.Context, repoID string) (int64, error) {
	var count int64
	err := d.Cli.WithContext(ctx).Model(&Package{}).Where("repo_id = ?", repoID).Count(&count).Error
	return count, err
}
