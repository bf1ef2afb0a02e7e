package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	conf "github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/events"
	"github.com/restockd/restockd/internal/extapi"
	"github.com/restockd/restockd/internal/ratelimit"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// OrchestratorConfig bounds a sync pass: page ceiling against
// misbehaving cursors, retry budget for transient page failures.
type OrchestratorConfig struct {
	PageSize   int
	MaxPages   int
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

func OrchestratorConfigFrom(api conf.APIConfig) OrchestratorConfig {
	cfg := OrchestratorConfig{
		PageSize:   api.PageSize,
		MaxPages:   api.MaxPages,
		MaxRetries: api.MaxRetries,
		RetryBase:  time.Duration(api.RetryBaseMs) * time.Millisecond,
		RetryMax:   time.Duration(api.RetryMaxMs) * time.Millisecond,
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 8 * time.Second
	}
	return cfg
}

// Options select what one run does.
type Options struct {
	Strategy      Strategy
	ModifiedSince *time.Time // explicit override of the smart watermark
	DryRun        bool
}

// Result summarizes a finished run. EfficiencyGain is the share of
// fetched records change detection saved us from rewriting.
type Result struct {
	RunID          string   `json:"run_id"`
	Status         string   `json:"status"`
	Strategy       string   `json:"strategy"`
	DryRun         bool     `json:"dry_run"`
	Processed      int      `json:"processed"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	Errors         []string `json:"errors,omitempty"`
	ChangeRate     float64  `json:"change_rate"`
	EfficiencyGain float64  `json:"efficiency_gain"`
	DurationMs     int64    `json:"duration_ms"`
}

// Orchestrator drives one synchronization pass: paginated fetch →
// change detection → upsert → run bookkeeping. Page-level transient
// failures retry with capped exponential backoff and then fail just
// that page; a single bad page must not lose the rest of the catalog.
type Orchestrator struct {
	log     zerolog.Logger
	gdb     *gorm.DB
	client  *extapi.Client
	tracker *Tracker
	events  events.Publisher
	cfg     OrchestratorConfig
}

func NewOrchestrator(log zerolog.Logger, gdb *gorm.DB, client *extapi.Client, tracker *Tracker, pub events.Publisher, cfg OrchestratorConfig) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		log:     log.With().Str("component", "orchestrator").Logger(),
		gdb:     gdb,
		client:  client,
		tracker: tracker,
		events:  pub,
		cfg:     cfg,
	}
}

// Run executes a pass synchronously. Interactive callers should prefer
// Start and poll the tracker; a full catalog walk can take minutes.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	run, err := o.tracker.Begin(ctx, opts.Strategy.RunType())
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, run, opts), nil
}

// Start begins a run and finishes it on a background goroutine. The
// returned run id is the poll handle.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (string, error) {
	run, err := o.tracker.Begin(ctx, opts.Strategy.RunType())
	if err != nil {
		return "", err
	}
	go o.execute(ctx, run, opts)
	return run.ID, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *db.SyncRun, opts Options) *Result {
	start := time.Now()
	log := o.log.With().Str("run_id", run.ID).Str("strategy", opts.Strategy.String()).Logger()

	var counts Counts
	var errs []string

	res := func(status string) *Result {
		changed := counts.Created + counts.Updated
		r := &Result{
			RunID:      run.ID,
			Status:     status,
			Strategy:   opts.Strategy.String(),
			DryRun:     opts.DryRun,
			Processed:  counts.Processed,
			Created:    counts.Created,
			Updated:    counts.Updated,
			Skipped:    counts.Skipped,
			Failed:     counts.Failed,
			Errors:     errs,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if counts.Processed > 0 {
			r.ChangeRate = float64(changed) / float64(counts.Processed)
			r.EfficiencyGain = 1 - r.ChangeRate
		}
		return r
	}

	fail := func(reason error) *Result {
		errs = append(errs, reason.Error())
		if err := o.tracker.Fail(ctx, run.ID, counts, errs, reason.Error()); err != nil {
			log.Error().Err(err).Msg("cannot mark run failed")
		}
		r := res(db.RunStatusFailed)
		_ = o.events.Publish(ctx, events.TypeSyncFailed, run.ID, r)
		log.Error().Err(reason).Msg("sync run failed")
		return r
	}

	filters := o.resolveFilters(ctx, opts)

	if opts.Strategy.SyncsVendors() && !opts.DryRun {
		if err := o.syncVendors(ctx); err != nil {
			if extapi.IsAuth(err) {
				return fail(err)
			}
			// vendors are non-fatal: grouping degrades, the catalog sync still runs
			errs = append(errs, fmt.Sprintf("vendor sync: %v", err))
			log.Warn().Err(err).Msg("vendor sync failed, continuing")
		}
	}

	stockOnly := opts.Strategy.StockOnly()
	pagesCeilingHit := true

	for page := 1; page <= o.cfg.MaxPages; page++ {
		records, err := o.fetchPageWithRetry(ctx, page, filters)
		if err != nil {
			if extapi.IsAuth(err) {
				return fail(err)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fail(err)
			}
			if page == 1 && errors.Is(err, ratelimit.ErrQueueOverflow) {
				// can't even start fetching: shed the whole run
				return fail(err)
			}
			// partial-failure policy: this page's items are lost for this
			// run, the rest of the catalog still syncs
			counts.Failed += o.cfg.PageSize
			errs = append(errs, fmt.Sprintf("page %d: %v", page, err))
			log.Warn().Int("page", page).Err(err).Msg("page failed after retries, skipping")
			continue
		}

		if len(records) == 0 {
			pagesCeilingHit = false
			break
		}

		o.processPage(ctx, records, stockOnly, opts.DryRun, &counts, &errs, log)

		if err := o.tracker.Checkpoint(ctx, run.ID, counts); err != nil {
			log.Warn().Err(err).Msg("checkpoint failed")
		}

		if len(records) < o.cfg.PageSize {
			pagesCeilingHit = false
			break
		}
	}

	if pagesCeilingHit {
		errs = append(errs, fmt.Sprintf("page ceiling (%d) reached, catalog may be truncated", o.cfg.MaxPages))
		log.Warn().Int("max_pages", o.cfg.MaxPages).Msg("page ceiling reached")
	}

	if err := o.tracker.Complete(ctx, run.ID, counts, errs); err != nil {
		log.Error().Err(err).Msg("cannot mark run completed")
	}

	r := res(db.RunStatusCompleted)
	_ = o.events.Publish(ctx, events.TypeSyncCompleted, run.ID, r)

	log.Info().
		Int("processed", r.Processed).
		Int("created", r.Created).
		Int("updated", r.Updated).
		Int("skipped", r.Skipped).
		Int("failed", r.Failed).
		Float64("efficiency_gain", r.EfficiencyGain).
		Bool("dry_run", r.DryRun).
		Msg("sync run completed")

	return r
}

func (o *Orchestrator) resolveFilters(ctx context.Context, opts Options) extapi.Filters {
	var watermark *time.Time
	if opts.ModifiedSince != nil {
		watermark = opts.ModifiedSince
	} else if opts.Strategy == Smart {
		w, err := o.tracker.LastCompletedStart(ctx)
		if err != nil {
			o.log.Warn().Err(err).Msg("no incremental watermark, falling back to full fetch")
		} else {
			watermark = w
		}
	}
	filters := opts.Strategy.Filters(watermark)
	if opts.ModifiedSince != nil {
		filters.ModifiedSince = opts.ModifiedSince
	}
	return filters
}

func (o *Orchestrator) processPage(ctx context.Context, records []extapi.Record, stockOnly, dryRun bool, counts *Counts, errs *[]string, log zerolog.Logger) {
	gdb := o.gdb.WithContext(ctx)

	skus := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.SKU != "" {
			skus = append(skus, rec.SKU)
		}
	}
	previous, err := db.FindItemsBySKUs(gdb, skus)
	if err != nil {
		counts.Processed += len(records)
		counts.Failed += len(records)
		*errs = append(*errs, fmt.Sprintf("local lookup: %v", err))
		return
	}

	var rows []db.InventoryItem
	pageCreated, pageUpdated := 0, 0

	for _, rec := range records {
		counts.Processed++

		if rec.SKU == "" {
			counts.Failed++
			*errs = append(*errs, fmt.Sprintf("record %d: missing sku", rec.ID))
			continue
		}

		var prev *db.InventoryItem
		if p, ok := previous[rec.SKU]; ok {
			prev = &p
		}

		var change ChangeRecord
		if stockOnly {
			change = StockDiff(prev, rec)
		} else {
			change = Diff(prev, rec)
		}

		if !change.HasChanges {
			counts.Skipped++
			continue
		}
		if change.IsNew {
			pageCreated++
		} else {
			pageUpdated++
		}
		if !dryRun {
			rows = append(rows, recordToItem(rec))
		}
	}

	if len(rows) > 0 {
		var upErr error
		if stockOnly {
			upErr = db.UpsertItemsStock(gdb, rows)
		} else {
			upErr = db.UpsertItems(gdb, rows)
		}
		if upErr != nil {
			counts.Failed += len(rows)
			*errs = append(*errs, fmt.Sprintf("upsert: %v", upErr))
			log.Error().Err(upErr).Int("rows", len(rows)).Msg("page upsert failed")
			return
		}
	}

	counts.Created += pageCreated
	counts.Updated += pageUpdated
}

func (o *Orchestrator) syncVendors(ctx context.Context) error {
	vendors, err := o.client.FetchVendors(ctx)
	if err != nil {
		return err
	}
	rows := make([]db.Vendor, 0, len(vendors))
	for _, v := range vendors {
		rows = append(rows, db.Vendor{
			ID:           v.ID,
			Name:         v.Name,
			Email:        v.Email,
			LeadTimeDays: v.LeadTimeDays,
		})
	}
	if err := db.UpsertVendors(o.gdb.WithContext(ctx), rows); err != nil {
		return err
	}
	o.log.Info().Int("vendors", len(rows)).Msg("vendors refreshed")
	return nil
}

// fetchPageWithRetry retries transient page failures with capped
// exponential backoff. Auth failures bubble up immediately.
func (o *Orchestrator) fetchPageWithRetry(ctx context.Context, page int, f extapi.Filters) ([]extapi.Record, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := o.backoff(attempt - 1)
			var rl *extapi.RateLimitedError
			if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
				delay = rl.RetryAfter
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		records, err := o.client.FetchInventoryPage(ctx, page, f)
		if err == nil {
			return records, nil
		}
		lastErr = err

		if extapi.IsAuth(err) || !extapi.IsRetryable(err) {
			return nil, err
		}
		o.log.Warn().Int("page", page).Int("attempt", attempt+1).Err(err).Msg("page fetch retrying")
	}
	return nil, lastErr
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.RetryBase << uint(attempt)
	if d > o.cfg.RetryMax || d <= 0 {
		d = o.cfg.RetryMax
	}
	return d
}
