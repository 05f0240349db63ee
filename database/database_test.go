package database_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/stupid-simple/pkgmirror/database"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func ptr[T any](v T) *T {
	return &v
}

func testRepo(id string) database.Repo {
	return database.Repo{
		ID:          id,
		Name:        "Repo " + id,
		UpstreamURL: "https://example.com/" + id + ".json",
		Cron:        "*/5 * * * *",
	}
}

func TestRepo_Validate(t *testing.T) {
	tests := []struct {
		name  string
		repo  database.Repo
		valid bool
	}{
		{name: "valid", repo: testRepo("a"), valid: true},
		{name: "missing id", repo: database.Repo{UpstreamURL: "https://e.com/i.json", Cron: "@daily"}},
		{name: "relative url", repo: database.Repo{ID: "a", UpstreamURL: "index.json", Cron: "@daily"}},
		{name: "bad cron", repo: database.Repo{ID: "a", UpstreamURL: "https://e.com/i.json", Cron: "* *"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.repo.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDatabase_SaveRepo(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	repo := testRepo("a")
	require.NoError(t, db.SaveRepo(ctx, &repo))

	repo.Cron = "@hourly"
	require.NoError(t, db.SaveRepo(ctx, &repo))

	got, err := db.GetRepo(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "@hourly", got.Cron)

	_, err = db.GetRepo(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	invalid := database.Repo{ID: "b", UpstreamURL: "nope", Cron: "@daily"}
	assert.Error(t, db.SaveRepo(ctx, &invalid))
}

func TestDatabase_DeleteRepoCascadesPackages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, b := testRepo("a"), testRepo("b")
	require.NoError(t, db.SaveRepo(ctx, &a))
	require.NoError(t, db.SaveRepo(ctx, &b))
	require.NoError(t, db.UpsertPackages(ctx, []database.Package{
		{Name: "pkg-a", Version: "1.0.0", RepoID: "a", FileID: "f1"},
		{Name: "pkg-b", Version: "1.0.0", RepoID: "b", FileID: "f2"},
	}))

	require.NoError(t, db.DeleteRepo(ctx, "a"))

	_, err := db.GetPackage(ctx, "pkg-a", "1.0.0")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = db.GetPackage(ctx, "pkg-b", "1.0.0")
	assert.NoError(t, err)

	assert.ErrorIs(t, db.DeleteRepo(ctx, "a"), database.ErrNotFound)
}

func TestDatabase_ReconcileRepos(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReconcileRepos(ctx, []database.Repo{testRepo("a"), testRepo("b")}))
	require.NoError(t, db.UpsertPackages(ctx, []database.Package{
		{Name: "pkg-a", Version: "1.0.0", RepoID: "a", FileID: "f1"},
	}))

	updated := testRepo("b")
	updated.Description = "changed"
	require.NoError(t, db.ReconcileRepos(ctx, []database.Repo{updated, testRepo("c")}))

	repos, err := db.ListRepos(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "b", repos[0].ID)
	assert.Equal(t, "changed", repos[0].Description)
	assert.Equal(t, "c", repos[1].ID)

	count, err := db.CountPackages(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, db.ReconcileRepos(ctx, nil))
	repos, err = db.ListRepos(ctx)
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestDatabase_UpsertPackages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := database.Package{
		Name:         "pkg-a",
		Version:      "1.0.0",
		RepoID:       "a",
		OriginRepoID: "origin",
		DisplayName:  ptr("Package A"),
		URL:          "https://example.com/a-1.0.0.zip",
		ContentHash:  ptr("h1"),
		FileID:       "f1",
		Dependencies: datatypes.JSON(`{"pkg-b":"1.x"}`),
	}
	require.NoError(t, db.UpsertPackages(ctx, []database.Package{first}))

	got, err := db.GetPackage(ctx, "pkg-a", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FileID)
	assert.Equal(t, "Package A", *got.DisplayName)
	assert.Nil(t, got.Description)
	assert.JSONEq(t, `{"pkg-b":"1.x"}`, string(got.Dependencies))
	createdAt := got.CreatedAt

	second := first
	second.ContentHash = ptr("h2")
	second.FileID = "f2"
	second.URL = "https://example.com/a-1.0.0-new.zip"
	require.NoError(t, db.UpsertPackages(ctx, []database.Package{second}))

	got, err = db.GetPackage(ctx, "pkg-a", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "f2", got.FileID)
	assert.Equal(t, "h2", *got.ContentHash)
	assert.Equal(t, "https://example.com/a-1.0.0-new.zip", got.URL)
	assert.True(t, createdAt.Equal(got.CreatedAt), "created at must survive an upsert")

	count, err := db.CountPackages(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDatabase_PackageVersionsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	pkgs := []database.Package{}
	for _, v := range []string{"1.2.0", "not-a-version", "1.10.0", "0.9.1", "2.0.0-beta.1"} {
		pkgs = append(pkgs, database.Package{Name: "pkg-a", Version: v, RepoID: "a", FileID: v})
	}
	pkgs = append(pkgs, database.Package{Name: "pkg-0", Version: "1.0.0", RepoID: "a"})
	require.NoError(t, db.UpsertPackages(ctx, pkgs))

	versions, err := db.PackageVersions(ctx, "a", "pkg-a")
	require.NoError(t, err)
	got := []string{}
	for _, p := range versions {
		got = append(got, p.Version)
	}
	assert.Equal(t, []string{"2.0.0-beta.1", "1.10.0", "1.2.0", "0.9.1", "not-a-version"}, got)

	all, err := db.ListPackages(ctx, "a")
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "pkg-0", all[0].Name)
	assert.Equal(t, "2.0.0-beta.1", all[1].Version)
}

func TestSortVersions(t *testing.T) {
	versions := []string{"v1.0.0", "b", "1.0.1", "a", "0.1"}
	database.SortVersions(versions)
	assert.Equal(t, []string{"1.0.1", "v1.0.0", "0.1", "b", "a"}, versions)
}

func TestDatabase_FileRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.FindFileRecord(ctx, "h1")
	assert.ErrorIs(t, err, database.ErrNotFound)

	require.NoError(t, db.RecordFile(ctx, "h1", "files/h1.zip"))
	require.NoError(t, db.RecordFile(ctx, "h1", "files/h1-other.zip"))

	rec, err := db.FindFileRecord(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "files/h1-other.zip", rec.Key, "a known hash is pointed at the new key")

	count, err := db.CountFileRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDatabase_TaskTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &database.SyncTask{RepoID: "a", Status: database.TaskPending, StartTime: time.Now().UTC()}
	require.NoError(t, db.CreateTask(ctx, task))
	assert.NotZero(t, task.ID)

	ok, err := db.TransitionTask(ctx, task.ID,
		[]database.TaskStatus{database.TaskPending},
		map[string]any{"status": database.TaskRunning})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.TransitionTask(ctx, task.ID,
		[]database.TaskStatus{database.TaskPending},
		map[string]any{"status": database.TaskFailed})
	require.NoError(t, err)
	assert.False(t, ok, "transition from a state the task is not in must not apply")

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, database.TaskRunning, got.Status)
	assert.Nil(t, got.EndTime)
}

func TestDatabase_InterruptUnfinishedTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	statuses := []database.TaskStatus{database.TaskPending, database.TaskRunning, database.TaskCompleted}
	ids := []int64{}
	for _, s := range statuses {
		task := &database.SyncTask{RepoID: "a", Status: s, StartTime: now}
		require.NoError(t, db.CreateTask(ctx, task))
		ids = append(ids, task.ID)
	}

	n, err := db.InterruptUnfinishedTasks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for i, id := range ids[:2] {
		got, err := db.GetTask(ctx, id)
		require.NoError(t, err, i)
		assert.Equal(t, database.TaskInterrupted, got.Status)
		assert.NotNil(t, got.EndTime)
	}
	got, err := db.GetTask(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, database.TaskCompleted, got.Status)
}

func TestDatabase_ListTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := range 5 {
		repo := "a"
		if i%2 == 1 {
			repo = "b"
		}
		require.NoError(t, db.CreateTask(ctx, &database.SyncTask{
			RepoID:    repo,
			Status:    database.TaskCompleted,
			StartTime: time.Now().UTC(),
		}))
	}

	tasks, err := db.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	assert.Greater(t, tasks[0].ID, tasks[4].ID)

	tasks, err = db.ListTasks(ctx, database.WithTaskRepo("a"))
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	tasks, err = db.ListTasks(ctx, database.WithTaskLimit(2), database.WithTaskPage(3))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(1), tasks[0].ID)

	latest, err := db.LatestTask(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.ID)

	_, err = db.LatestTask(ctx, "c")
	assert.ErrorIs(t, err, database.ErrNotFound)

	perRepo, err := db.LatestTasks(ctx)
	require.NoError(t, err)
	require.Len(t, perRepo, 2)
	assert.Equal(t, "a", perRepo[0].RepoID)
	assert.Equal(t, int64(5), perRepo[0].ID)
	assert.Equal(t, "b", perRepo[1].RepoID)
	assert.Equal(t, int64(4), perRepo[1].ID)
}
