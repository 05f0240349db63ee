package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

func (d *Database) CreateTask(ctx context.Context, task *SyncTask) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Create(task).Error
}

// CreateTaskWithLog inserts task and stores the log path derived from its new
// id in the same transaction, so a failure leaves no task behind.
func (d *Database) CreateTaskWithLog(ctx context.Context, task *SyncTask, logPath func(task *SyncTask) string) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	return d.Cli.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		task.LogPath = logPath(task)
		return tx.Model(&SyncTask{}).
			Where("id = ?", task.ID).
			Update("log_path", task.LogPath).Error
	})
}

// TransitionTask applies updates only while the task is in one of the from
// states. It reports whether the task was updated.
func (d *Database) TransitionTask(ctx context.Context, id int64, from []TaskStatus, updates map[string]any) (bool, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	res := d.Cli.WithContext(ctx).Model(&SyncTask{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// InterruptUnfinishedTasks moves every pending or running task to
// interrupted and returns how many were moved.
func (d *Database) InterruptUnfinishedTasks(ctx context.Context, now time.Time) (int64, error) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	res := d.Cli.WithContext(ctx).Model(&SyncTask{}).
		Where("status IN ?", []TaskStatus{TaskPending, TaskRunning}).
		Updates(map[string]any{
			"status":   TaskInterrupted,
			"end_time": now,
		})
	return res.RowsAffected, res.Error
}

func (d *Database) GetTask(ctx context.Context, id int64) (*SyncTask, error) {
	task := &SyncTask{}
	err := d.Cli.WithContext(ctx).Where("id = ?", id).First(task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

// LatestTask returns the most recently created task of a repo.
func (d *Database) LatestTask(ctx context.Context, repoID string) (*SyncTask, error) {
	task := &SyncTask{}
	err := d.Cli.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("id DESC").
		First(task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

// ListTasks returns tasks newest first.
func (d *Database) ListTasks(ctx context.Context, opts ...ListTasksOptions) ([]SyncTask, error) {
	o := listTasksOptions{limit: defaultTaskLimit, page: 1}
	for _, opt := range opts {
		opt(&o)
	}

	q := d.Cli.WithContext(ctx).Order("id DESC")
	if o.repoID != "" {
		q = q.Where("repo_id = ?", o.repoID)
	}
	if len(o.status) > 0 {
		q = q.Where("status IN ?", o.status)
	}
	if o.limit > 0 {
		q = q.Limit(o.limit)
		if o.page > 1 {
			q = q.Offset((o.page - 1) * o.limit)
		}
	}

	tasks := []SyncTask{}
	err := q.Find(&tasks).Error
	return tasks, err
}

// LatestTasks returns the most recent task of every repo that has one,
// ordered by repo id.
func (d *Database) LatestTasks(ctx context.Context) ([]SyncTask, error) {
	latest := d.Cli.Model(&SyncTask{}).Select("MAX(id)").Group("repo_id")

	tasks := []SyncTask{}
	err := d.Cli.WithContext(ctx).
		Where("id IN (?)", latest).
		Order("repo_id").
		Find(&tasks).Error
	return tasks, err
}
