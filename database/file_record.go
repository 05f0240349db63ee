package database

import (
	"context"

	"gorm.io/gorm/clause"
)

// FindFileRecord returns the record indexing content with this hash.
func (d *Database) FindFileRecord(ctx context.Context, hash string) (*FileRecord, error) {
	rec := &FileRecord{}
	err := d.Cli.WithContext(ctx).Where("hash = ?", hash).First(rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// RecordFile indexes a stored blob. Recording a known hash again points its
// record at key, the blob confirmed to hold the content.
func (d *Database) RecordFile(ctx context.Context, hash, key string) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"key"}),
		}).
		Create(&FileRecord{Key: key, Hash: hash}).Error
}

// CountFileRecords returns the number of indexed blobs.
func (d *Database) CountFileRecords(ctx context.Context) (int64, error) {
	var count int64
	err := d.Cli.WithContext(ctx).Model(&FileRecord{}).Count(&count).Error
	return count, err
}
