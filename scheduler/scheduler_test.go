package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/scheduler"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, repoID string) error {
	args := m.Called(ctx, repoID)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Busy(ctx context.Context, repoID string) (bool, error) {
	args := m.Called(ctx, repoID)
	return args.Bool(0), args.Error(1)
}

type MockRepos struct {
	mock.Mock
}

func (m *MockRepos) ListRepos(ctx context.Context) ([]database.Repo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]database.Repo), args.Error(1)
}

func (m *MockRepos) GetRepo(ctx context.Context, id string) (*database.Repo, error) {
	args := m.Called(ctx, id)
	repo, _ := args.Get(0).(*database.Repo)
	return repo, args.Error(1)
}

func repo(id, schedule string) database.Repo {
	return database.Repo{ID: id, UpstreamURL: "https://example.com/" + id, Cron: schedule}
}

type mocks struct {
	dispatcher *MockDispatcher
	ledger     *MockLedger
	repos      *MockRepos
}

func newScheduler(t *testing.T) (*scheduler.Scheduler, mocks) {
	m := mocks{
		dispatcher: new(MockDispatcher),
		ledger:     new(MockLedger),
		repos:      new(MockRepos),
	}
	s := scheduler.NewScheduler(scheduler.SchedulerParams{
		Logger:     zerolog.New(zerolog.NewTestWriter(t)),
		Dispatcher: m.dispatcher,
		Ledger:     m.ledger,
		Repos:      m.repos,
	})
	return s, m
}

func TestNewScheduler(t *testing.T) {
	s, _ := newScheduler(t)
	assert.NotNil(t, s, "Scheduler should not be nil")
}

func TestScheduler_AddRepoJob(t *testing.T) {
	s, _ := newScheduler(t)

	err := s.AddRepoJob(repo("a", "* * * * *"))
	assert.NoError(t, err, "Should add job without error")

	err = s.AddRepoJob(repo("a", "*/5 * * * *"))
	assert.NoError(t, err, "Should replace the trigger of the same repo")
	assert.Equal(t, []string{"a"}, s.Scheduled())

	err = s.AddRepoJob(repo("b", "invalid-schedule"))
	assert.Error(t, err, "Should return error with invalid schedule")
	assert.Equal(t, []string{"a"}, s.Scheduled())
}

func TestScheduler_Rebuild(t *testing.T) {
	s, m := newScheduler(t)
	ctx := context.Background()

	m.repos.On("ListRepos", mock.Anything).Return([]database.Repo{
		repo("a", "@hourly"),
		repo("b", "@daily"),
	}, nil).Once()
	require.NoError(t, s.Rebuild(ctx))
	assert.ElementsMatch(t, []string{"a", "b"}, s.Scheduled())

	m.repos.On("ListRepos", mock.Anything).Return([]database.Repo{
		repo("b", "@daily"),
		repo("c", "not a cron"),
	}, nil).Once()
	assert.Error(t, s.Rebuild(ctx), "invalid schedules are reported")
	assert.Equal(t, []string{"b"}, s.Scheduled())

	m.repos.On("ListRepos", mock.Anything).Return([]database.Repo(nil), errors.New("db down")).Once()
	assert.Error(t, s.Rebuild(ctx))
	assert.Equal(t, []string{"b"}, s.Scheduled(), "a failed rebuild keeps the current triggers")

	s.RemoveJobs()
	assert.Empty(t, s.Scheduled())
	m.repos.AssertExpectations(t)
}

func TestScheduler_InvokeSyncTask_UnknownRepo(t *testing.T) {
	s, m := newScheduler(t)

	m.repos.On("GetRepo", mock.Anything, "missing").Return(nil, database.ErrNotFound)

	_, err := s.InvokeSyncTask(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
	m.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestScheduler_InvokeSyncTask_RejectedByLedger(t *testing.T) {
	s, m := newScheduler(t)
	r := repo("a", "@hourly")

	m.repos.On("GetRepo", mock.Anything, "a").Return(&r, nil)
	m.ledger.On("Busy", mock.Anything, "a").Return(true, nil)

	_, err := s.InvokeSyncTask(context.Background(), "a")
	assert.ErrorIs(t, err, scheduler.ErrConcurrentSync)
	m.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestScheduler_InvokeSyncTask_MutualExclusion(t *testing.T) {
	s, m := newScheduler(t)
	r := repo("a", "@hourly")
	require.NoError(t, s.AddRepoJob(r))

	release := make(chan struct{})
	m.repos.On("GetRepo", mock.Anything, "a").Return(&r, nil)
	m.ledger.On("Busy", mock.Anything, "a").Return(false, nil)
	m.dispatcher.On("Dispatch", mock.Anything, "a").Run(func(mock.Arguments) {
		<-release
	}).Return(nil)

	done, err := s.InvokeSyncTask(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, s.Paused("a"), "trigger is paused during a manual run")

	_, err = s.InvokeSyncTask(context.Background(), "a")
	assert.ErrorIs(t, err, scheduler.ErrConcurrentSync)

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manual sync did not finish")
	}
	assert.False(t, s.Paused("a"), "trigger resumes after the manual run")
	m.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)

	done, err = s.InvokeSyncTask(context.Background(), "a")
	require.NoError(t, err)
	<-done
	m.dispatcher.AssertNumberOfCalls(t, "Dispatch", 2)
}

func TestScheduler_InvokeSyncTask_ResumesAfterFailure(t *testing.T) {
	s, m := newScheduler(t)
	r := repo("a", "@hourly")
	require.NoError(t, s.AddRepoJob(r))

	m.repos.On("GetRepo", mock.Anything, "a").Return(&r, nil)
	m.ledger.On("Busy", mock.Anything, "a").Return(false, nil)
	m.dispatcher.On("Dispatch", mock.Anything, "a").Return(errors.New("boom"))

	done, err := s.InvokeSyncTask(context.Background(), "a")
	require.NoError(t, err)
	assert.Error(t, <-done)
	assert.False(t, s.Paused("a"))
}

func TestScheduler_CronSkipsWhileManualRunActive(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	s, m := newScheduler(t)
	r := repo("a", "@every 1s")
	require.NoError(t, s.AddRepoJob(r))

	var calls atomic.Int32
	release := make(chan struct{})
	m.repos.On("GetRepo", mock.Anything, "a").Return(&r, nil)
	m.ledger.On("Busy", mock.Anything, "a").Return(false, nil)
	m.dispatcher.On("Dispatch", mock.Anything, "a").Run(func(mock.Arguments) {
		if calls.Add(1) == 1 {
			<-release
		}
	}).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	done, err := s.InvokeSyncTask(ctx, "a")
	require.NoError(t, err)

	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "cron must not fire while the manual sync runs")

	close(release)
	<-done

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond,
		"cron fires again once resumed")

	stopped := s.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_AddFuncSurvivesRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	s, m := newScheduler(t)
	m.repos.On("ListRepos", mock.Anything).Return([]database.Repo{}, nil)

	var runs atomic.Int32
	require.NoError(t, s.AddFunc("@every 1s", "cleanup", func(ctx context.Context) {
		runs.Add(1)
	}))
	assert.Error(t, s.AddFunc("bogus", "broken", func(context.Context) {}))

	require.NoError(t, s.Rebuild(context.Background()))
	s.RemoveJobs()

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_CronSkipsWhenLedgerBusy(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	s, m := newScheduler(t)
	require.NoError(t, s.AddRepoJob(repo("a", "@every 1s")))

	var checks atomic.Int32
	m.ledger.On("Busy", mock.Anything, "a").Run(func(mock.Arguments) {
		checks.Add(1)
	}).Return(true, nil)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return checks.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()

	m.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestScheduler_RebuildDuringScheduledRun(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	s, m := newScheduler(t)
	r := repo("a", "@every 1s")
	require.NoError(t, s.AddRepoJob(r))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	m.repos.On("ListRepos", mock.Anything).Return([]database.Repo{r}, nil)
	m.ledger.On("Busy", mock.Anything, "a").Return(false, nil)
	m.dispatcher.On("Dispatch", mock.Anything, "a").Run(func(mock.Arguments) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
	}).Return(nil)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled sync did not start")
	}
	require.NoError(t, s.Rebuild(context.Background()))
	assert.False(t, s.Paused("a"), "a scheduled run does not pause the rebuilt trigger")
	close(release)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond,
		"trigger keeps firing after the rebuild")
	assert.False(t, s.Paused("a"))
}

func TestScheduler_InvokeSyncTask_LedgerCheckDoesNotBlockOtherRepos(t *testing.T) {
	s, m := newScheduler(t)
	a := repo("a", "@hourly")
	require.NoError(t, s.AddRepoJob(a))
	require.NoError(t, s.AddRepoJob(repo("b", "@hourly")))

	checking := make(chan struct{})
	release := make(chan struct{})
	m.repos.On("GetRepo", mock.Anything, "a").Return(&a, nil)
	m.ledger.On("Busy", mock.Anything, "a").Run(func(mock.Arguments) {
		close(checking)
		<-release
	}).Return(true, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.InvokeSyncTask(context.Background(), "a")
		errc <- err
	}()
	<-checking

	paused := make(chan bool, 1)
	go func() {
		paused <- s.Paused("b")
	}()
	select {
	case p := <-paused:
		assert.False(t, p)
	case <-time.After(time.Second):
		t.Fatal("scheduler locked during the ledger check")
	}

	close(release)
	assert.ErrorIs(t, <-errc, scheduler.ErrConcurrentSync)
}
