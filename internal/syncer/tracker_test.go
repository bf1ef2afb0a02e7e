package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/restockd/restockd/internal/db"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *db.Handle) {
	t.Helper()
	dbh, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, dbh.Migrate())
	return NewTracker(zerolog.Nop(), dbh.DB, 30*time.Minute), dbh
}

func TestTracker_SingleFlight(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Begin(ctx, db.RunTypeManual)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, db.RunStatusRunning, run.Status)

	_, err = tr.Begin(ctx, db.RunTypeManual)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, tr.Complete(ctx, run.ID, Counts{Processed: 3}, nil))

	// slot is free again
	run2, err := tr.Begin(ctx, db.RunTypeFull)
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, run2.ID)
}

func TestTracker_StaleRunSuperseded(t *testing.T) {
	tr, dbh := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Begin(ctx, db.RunTypeIncremental)
	require.NoError(t, err)

	// backdate past the staleness threshold, as if the process crashed
	old := time.Now().UTC().Add(-45 * time.Minute)
	require.NoError(t, dbh.DB.Model(&db.SyncRun{}).
		Where("id = ?", run.ID).
		Update("started_at", old).Error)

	run2, err := tr.Begin(ctx, db.RunTypeIncremental)
	require.NoError(t, err, "a stale running run must not block new syncs")

	var stale db.SyncRun
	require.NoError(t, dbh.DB.First(&stale, "id = ?", run.ID).Error)
	assert.Equal(t, db.RunStatusFailed, stale.Status)
	assert.Equal(t, "stuck, superseded", stale.LastError)
	require.NotNil(t, stale.FinishedAt)

	require.NoError(t, tr.Complete(ctx, run2.ID, Counts{}, nil))
}

func TestTracker_FinishIsIdempotent(t *testing.T) {
	tr, dbh := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Begin(ctx, db.RunTypeManual)
	require.NoError(t, err)

	require.NoError(t, tr.Complete(ctx, run.ID, Counts{Processed: 10, Updated: 4}, nil))

	// a late Fail must not overwrite the first terminal outcome
	require.NoError(t, tr.Fail(ctx, run.ID, Counts{}, []string{"late"}, "late failure"))

	var stored db.SyncRun
	require.NoError(t, dbh.DB.First(&stored, "id = ?", run.ID).Error)
	assert.Equal(t, db.RunStatusCompleted, stored.Status)
	assert.Equal(t, 10, stored.Processed)
	assert.Empty(t, stored.LastError)
}

func TestTracker_Checkpoint(t *testing.T) {
	tr, dbh := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Begin(ctx, db.RunTypeFull)
	require.NoError(t, err)

	require.NoError(t, tr.Checkpoint(ctx, run.ID, Counts{Processed: 50, Created: 5, Updated: 10, Skipped: 35}))

	var stored db.SyncRun
	require.NoError(t, dbh.DB.First(&stored, "id = ?", run.ID).Error)
	assert.Equal(t, 50, stored.Processed)
	assert.Equal(t, db.RunStatusRunning, stored.Status, "checkpoints never change the status")
}

func TestTracker_CleanupStuck(t *testing.T) {
	tr, dbh := newTestTracker(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	for _, id := range []string{"stuck-1", "stuck-2"} {
		require.NoError(t, dbh.DB.Create(&db.SyncRun{
			ID: id, Type: db.RunTypeFull, Status: db.RunStatusRunning, StartedAt: old,
		}).Error)
	}
	// a fresh run must survive the sweep
	fresh, err := tr.Begin(ctx, db.RunTypeManual)
	require.NoError(t, err)

	cleaned, err := tr.CleanupStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned, "Begin already superseded one of the two stale rows")

	var remaining []db.SyncRun
	require.NoError(t, dbh.DB.
		Where("status = ?", db.RunStatusRunning).Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)

	var swept db.SyncRun
	require.NoError(t, dbh.DB.First(&swept, "status = ? AND last_error = ?",
		db.RunStatusFailed, "stuck, cleaned up").Error)
	require.NotNil(t, swept.FinishedAt)
}

func TestTracker_Status(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	info, err := tr.Status(ctx)
	require.NoError(t, err)
	assert.False(t, info.HasRunningSync)
	assert.Nil(t, info.LastRun)

	run, err := tr.Begin(ctx, db.RunTypeManual)
	require.NoError(t, err)

	info, err = tr.Status(ctx)
	require.NoError(t, err)
	require.True(t, info.HasRunningSync)
	assert.Equal(t, run.ID, info.RunningRun.ID)

	require.NoError(t, tr.Complete(ctx, run.ID, Counts{Processed: 1}, nil))

	info, err = tr.Status(ctx)
	require.NoError(t, err)
	assert.False(t, info.HasRunningSync)
	require.NotNil(t, info.LastRun)
	assert.Equal(t, run.ID, info.LastRun.ID)
	assert.Equal(t, db.RunStatusCompleted, info.LastRun.Status)
}

func TestTracker_LastCompletedStart(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	ts, err := tr.LastCompletedStart(ctx)
	require.NoError(t, err)
	assert.Nil(t, ts, "no watermark before the first completed run")

	run, err := tr.Begin(ctx, db.RunTypeIncremental)
	require.NoError(t, err)
	require.NoError(t, tr.Complete(ctx, run.ID, Counts{}, nil))

	ts, err = tr.LastCompletedStart(ctx)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.WithinDuration(t, run.StartedAt, *ts, time.Second)
}
