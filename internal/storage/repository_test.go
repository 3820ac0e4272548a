package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(context.Background(), filepath.Join(t.TempDir(), "bridge.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func int64Ptr(v int64) *int64 { return &v }

func TestUpsertJobInsertsAndUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertJob(ctx, PrintJob{
		JobID:     "00002A",
		Filename:  "benchy.gcode",
		State:     "in_progress",
		StartedAt: int64Ptr(1700000000),
	}))

	jobs, err := repo.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "in_progress", jobs[0].State)
	require.NotNil(t, jobs[0].StartedAt)
	require.Nil(t, jobs[0].EndedAt)

	require.NoError(t, repo.UpsertJob(ctx, PrintJob{
		JobID:     "00002A",
		Filename:  "benchy.gcode",
		State:     "completed",
		StartedAt: int64Ptr(1700000000),
		EndedAt:   int64Ptr(1700003600),
	}))

	jobs, err = repo.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "upsert must not duplicate the job")
	require.Equal(t, "completed", jobs[0].State)
	require.NotNil(t, jobs[0].EndedAt)
	require.Equal(t, int64(1700003600), *jobs[0].EndedAt)
	require.False(t, jobs[0].UpdatedAt.IsZero())
}

func TestCloseRejectsFurtherWritesAndIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertJob(ctx, PrintJob{JobID: "a", Filename: "a.gcode", State: "completed"}))
	require.NoError(t, repo.Close())

	require.Error(t, repo.UpsertJob(ctx, PrintJob{JobID: "b", Filename: "b.gcode", State: "completed"}))
	// the shutdown path closes once more after the fatal-error close
	require.NoError(t, repo.Close())
}

func TestListJobsOrdersNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertJob(ctx, PrintJob{JobID: "a", Filename: "a.gcode", State: "completed"}))
	require.NoError(t, repo.UpsertJob(ctx, PrintJob{JobID: "b", Filename: "b.gcode", State: "in_progress"}))

	jobs, err := repo.ListJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "b", jobs[0].JobID)
}

func TestLifecycleEventJournal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordLifecycleEvent(ctx, LifecycleEvent{
		Event:    "PrintStarted",
		Filename: "benchy.gcode",
		PrintTs:  1700000000,
	}))
	require.NoError(t, repo.RecordLifecycleEvent(ctx, LifecycleEvent{
		Event:   "PrintDone",
		PrintTs: 1700000000,
	}))

	events, err := repo.ListLifecycleEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "PrintDone", events[0].Event, "newest first")
	require.Equal(t, "PrintStarted", events[1].Event)
	require.Equal(t, "benchy.gcode", events[1].Filename)
	require.Equal(t, int64(1700000000), events[1].PrintTs)
	require.False(t, events[0].RecordedAt.IsZero())
}
