package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/restockd/restockd/internal/db"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrAlreadyRunning means a fresh sync run holds the single-flight slot.
// Callers should poll status rather than retry.
var ErrAlreadyRunning = errors.New("syncer: a sync run is already in progress")

const maxStoredErrors = 20

// Counts is the per-run bookkeeping written at checkpoints and on
// completion.
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Tracker persists sync runs and enforces single-flight execution. The
// status column acts as the mutex: it has to, because the constraint
// must hold across process restarts.
type Tracker struct {
	log        zerolog.Logger
	gdb        *gorm.DB
	stuckAfter time.Duration
}

func NewTracker(log zerolog.Logger, gdb *gorm.DB, stuckAfter time.Duration) *Tracker {
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	return &Tracker{
		log:        log.With().Str("component", "tracker").Logger(),
		gdb:        gdb,
		stuckAfter: stuckAfter,
	}
}

// Begin creates a new running run, or fails with ErrAlreadyRunning if a
// fresh one exists. A running run older than the staleness threshold is
// presumed crashed: it is reclassified to failed in the same
// transaction before the new run starts.
func (t *Tracker) Begin(ctx context.Context, runType string) (*db.SyncRun, error) {
	run := &db.SyncRun{
		ID:        uuid.NewString(),
		Type:      runType,
		Status:    db.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	err := t.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.SyncRun
		err := tx.Where("status = ?", db.RunStatusRunning).
			Order("started_at desc").
			First(&existing).Error
		switch {
		case err == nil:
			if time.Since(existing.StartedAt) < t.stuckAfter {
				return ErrAlreadyRunning
			}
			if err := t.markStuck(tx, existing.ID); err != nil {
				return err
			}
			t.log.Warn().Str("run_id", existing.ID).
				Time("started_at", existing.StartedAt).
				Msg("stuck run superseded")
		case errors.Is(err, gorm.ErrRecordNotFound):
			// slot free
		default:
			return err
		}
		return tx.Create(run).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("begin sync run: %w", err)
	}

	t.log.Info().Str("run_id", run.ID).Str("type", runType).Msg("sync run started")
	return run, nil
}

// Checkpoint records incremental progress; the UI polls this.
func (t *Tracker) Checkpoint(ctx context.Context, runID string, c Counts) error {
	return t.gdb.WithContext(ctx).Model(&db.SyncRun{}).
		Where("id = ? AND status = ?", runID, db.RunStatusRunning).
		Updates(map[string]any{
			"processed": c.Processed,
			"created":   c.Created,
			"updated":   c.Updated,
			"skipped":   c.Skipped,
			"failed":    c.Failed,
		}).Error
}

// Complete transitions the run to completed. Idempotent: a run already
// terminal is left alone.
func (t *Tracker) Complete(ctx context.Context, runID string, c Counts, errs []string) error {
	return t.finish(ctx, runID, db.RunStatusCompleted, c, errs, "")
}

// Fail transitions the run to failed. Idempotent like Complete.
func (t *Tracker) Fail(ctx context.Context, runID string, c Counts, errs []string, lastErr string) error {
	return t.finish(ctx, runID, db.RunStatusFailed, c, errs, lastErr)
}

func (t *Tracker) finish(ctx context.Context, runID, status string, c Counts, errs []string, lastErr string) error {
	now := time.Now().UTC()
	res := t.gdb.WithContext(ctx).Model(&db.SyncRun{}).
		Where("id = ? AND status = ?", runID, db.RunStatusRunning).
		Updates(map[string]any{
			"status":      status,
			"finished_at": &now,
			"processed":   c.Processed,
			"created":     c.Created,
			"updated":     c.Updated,
			"skipped":     c.Skipped,
			"failed":      c.Failed,
			"errors":      encodeErrors(errs),
			"last_error":  lastErr,
		})
	if res.Error != nil {
		return fmt.Errorf("finish sync run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// already terminal, keep the first outcome
		t.log.Debug().Str("run_id", runID).Str("status", status).Msg("finish on terminal run ignored")
	}
	return nil
}

func (t *Tracker) markStuck(tx *gorm.DB, runID string) error {
	now := time.Now().UTC()
	return tx.Model(&db.SyncRun{}).
		Where("id = ? AND status = ?", runID, db.RunStatusRunning).
		Updates(map[string]any{
			"status":      db.RunStatusFailed,
			"finished_at": &now,
			"last_error":  "stuck, superseded",
		}).Error
}

// CleanupStuck reclassifies every stale running run without starting a
// new one. Maintenance operation exposed over the API.
func (t *Tracker) CleanupStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-t.stuckAfter)
	now := time.Now().UTC()
	res := t.gdb.WithContext(ctx).Model(&db.SyncRun{}).
		Where("status = ? AND started_at < ?", db.RunStatusRunning, cutoff).
		Updates(map[string]any{
			"status":      db.RunStatusFailed,
			"finished_at": &now,
			"last_error":  "stuck, cleaned up",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup stuck runs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		t.log.Info().Int64("cleaned", res.RowsAffected).Msg("stuck runs reclassified")
	}
	return int(res.RowsAffected), nil
}

// StatusInfo is the poll target for UIs.
type StatusInfo struct {
	HasRunningSync bool        `json:"has_running_sync"`
	RunningRun     *db.SyncRun `json:"running_run,omitempty"`
	LastRun        *db.SyncRun `json:"last_run,omitempty"`
}

func (t *Tracker) Status(ctx context.Context) (*StatusInfo, error) {
	info := &StatusInfo{}
	gdb := t.gdb.WithContext(ctx)

	var running db.SyncRun
	err := gdb.Where("status = ?", db.RunStatusRunning).
		Order("started_at desc").First(&running).Error
	if err == nil {
		info.HasRunningSync = true
		info.RunningRun = &running
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query running run: %w", err)
	}

	var last db.SyncRun
	err = gdb.Where("status <> ?", db.RunStatusRunning).
		Order("started_at desc").First(&last).Error
	if err == nil {
		info.LastRun = &last
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query last run: %w", err)
	}

	return info, nil
}

// LastCompletedStart returns when the most recent completed run began,
// the watermark incremental syncs filter against.
func (t *Tracker) LastCompletedStart(ctx context.Context) (*time.Time, error) {
	var last db.SyncRun
	err := t.gdb.WithContext(ctx).
		Where("status = ?", db.RunStatusCompleted).
		Order("started_at desc").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last completed run: %w", err)
	}
	started := last.StartedAt
	return &started, nil
}

func encodeErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) > maxStoredErrors {
		errs = errs[:maxStoredErrors]
	}
	b, _ := json.Marshal(errs)
	return string(b)
}
