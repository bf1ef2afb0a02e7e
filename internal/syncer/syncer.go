// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	conf "github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/events"
	"github.com/restockd/restockd/internal/reorder"
	"github.com/rs/zerolog"
)

// Manager owns the background sync schedule. It is an explicitly
// constructed instance with a start/stop lifecycle, so tests can run
// independent managers instead of sharing process-wide state.
type Manager struct {
	log    zerolog.Logger
	orch   *Orchestrator
	agg    *reorder.Aggregator
	events events.Publisher

	mu      sync.Mutex
	cfg     *conf.Config
	running bool
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
	ticks   uint64
}

func NewManager(log zerolog.Logger, cfg *conf.Config, orch *Orchestrator, agg *reorder.Aggregator, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		log:    log.With().Str("component", "syncer").Logger(),
		cfg:    cfg,
		orch:   orch,
		agg:    agg,
		events: pub,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.ctx = ctx
	m.cancel = cancel
	m.running = true
	m.ticks = 0
	m.wg.Add(1)
	autoSync := m.cfg.AutoSync
	m.mu.Unlock()

	m.log.Info().Bool("auto_sync", autoSync).Msg("syncer start")
	go m.loop(ctx, autoSync)
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.log.Info().Msg("syncer stop")
}

// UpdateConfig swaps the config and restarts the schedule so the new
// interval takes effect.
func (m *Manager) UpdateConfig(cfg *conf.Config) {
	m.mu.Lock()
	m.cfg = cfg
	isRunning := m.running
	m.mu.Unlock()

	m.log.Info().Msg("config updated")

	if isRunning {
		m.Stop()
		_ = m.Start(context.Background())
	}
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Trigger starts a run in the background and returns its id
// immediately. The run inherits the manager's lifetime, not the
// caller's request context; interactive callers poll the tracker.
func (m *Manager) Trigger(opts Options) (string, error) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return m.orch.Start(ctx, opts)
}

func (m *Manager) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg != nil && m.cfg.SyncIntervalMinutes > 0 {
		return time.Duration(m.cfg.SyncIntervalMinutes) * time.Minute
	}
	return time.Hour
}

func (m *Manager) loop(ctx context.Context, autoSync bool) {
	defer m.wg.Done()

	if !autoSync {
		// manual mode: stay alive for Trigger, no schedule
		<-ctx.Done()
		return
	}

	// first pass right away
	m.tickOnce(ctx)

	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("sync loop done")
			return
		case <-ticker.C:
			m.tickOnce(ctx)
			ticker.Reset(m.interval())
		}
	}
}

func (m *Manager) tickOnce(ctx context.Context) {
	m.mu.Lock()
	m.ticks++
	n := m.ticks
	m.mu.Unlock()

	log := m.log.With().Uint64("tick", n).Logger()

	res, err := m.orch.Run(ctx, Options{Strategy: Smart})
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			log.Debug().Msg("sync already in progress, skipping tick")
			return
		}
		log.Error().Err(err).Msg("scheduled sync failed to start")
		return
	}

	if res.Status == db.RunStatusCompleted {
		m.alertCritical(ctx)
	}
}

// alertCritical emits a reorder.alert event when the fresh data shows
// vendors with critical stockout exposure. Emission only; delivery is
// an external notifier's job.
func (m *Manager) alertCritical(ctx context.Context) {
	if m.agg == nil {
		return
	}
	suggestions, err := m.agg.GenerateSuggestions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("reorder alert generation failed")
		return
	}
	for _, s := range suggestions {
		if s.Urgency != reorder.Critical {
			break // sorted critical-first
		}
		payload := map[string]any{
			"vendor_name":             s.VendorName,
			"known_vendor":            s.KnownVendor,
			"total_items":             s.TotalItems,
			"total_amount":            s.Total.String(),
			"estimated_stockout_days": s.EstimatedStockoutDays,
		}
		if err := m.events.Publish(ctx, events.TypeReorderAlert, s.VendorName, payload); err != nil {
			m.log.Warn().Err(err).Str("vendor", s.VendorName).Msg("reorder alert publish failed")
		}
	}
}
