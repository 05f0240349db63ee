package database

const defaultTaskLimit = 50

type listTasksOptions struct {
	repoID string
	status []TaskStatus
	limit  int
	page   int
}

type ListTasksOptions func(*listTasksOptions)

// Only return tasks of this repo.
func WithTaskRepo(repoID string) ListTasksOptions {
	return func(o *listTasksOptions) {
		o.repoID = repoID
	}
}

// Only return tasks in one of these states.
func WithTaskStatus(status ...TaskStatus) ListTasksOptions {
	return func(o *listTasksOptions) {
		o.status = status
	}
}

// Limit the number of tasks returned.
func WithTaskLimit(limit int) ListTasksOptions {
	return func(o *listTasksOptions) {
		o.limit = limit
	}
}

// Return the given page, starting at 1, of limit sized pages.
func WithTaskPage(page int) ListTasksOptions {
	return func(o *listTasksOptions) {
		o.page = page
	}
}
