// Package ratelimit serializes all outbound calls to the external
// inventory API behind a single FIFO queue dispatched at a fixed rate.
// It is the only thing standing between the sync machinery and the
// provider's quota, so every HTTP call must go through Schedule.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrQueueOverflow is the backpressure signal: the queue is at its
	// configured depth and the caller should shed load, not block.
	ErrQueueOverflow = errors.New("ratelimit: queue overflow")
	// ErrStopped is returned for calls scheduled after Stop.
	ErrStopped = errors.New("ratelimit: limiter stopped")
)

const recentCallWindow = 50

// Call is one dispatched request, kept in a bounded ring for the
// status endpoint.
type Call struct {
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed"`
}

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	RatePerSec    float64 `json:"rate_per_sec"`
	QueueDepth    int     `json:"queue_depth"`
	QueueMaxDepth int     `json:"queue_max_depth"`
	TotalRequests uint64  `json:"total_requests"`
	TotalFailed   uint64  `json:"total_failed"`
	Recent        []Call  `json:"recent_calls"`
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Limiter dispatches queued request functions one at a time, no two
// closer together than 1/rate seconds.
type Limiter struct {
	log     zerolog.Logger
	pacer   *rate.Limiter
	perSec  float64
	maxDeep int
	queue   chan *task

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	total     uint64
	failed    uint64
	recent    []Call
	recentPos int
}

func New(log zerolog.Logger, perSec float64, maxDepth int) *Limiter {
	if perSec <= 0 {
		perSec = 2
	}
	if maxDepth <= 0 {
		maxDepth = 100
	}
	return &Limiter{
		log: log.With().Str("component", "ratelimit").Logger(),
		// burst 1: tokens refill at 1/perSec intervals, so dispatches
		// are spaced by at least that interval.
		pacer:   rate.NewLimiter(rate.Limit(perSec), 1),
		perSec:  perSec,
		maxDeep: maxDepth,
		queue:   make(chan *task, maxDepth),
		recent:  make([]Call, 0, recentCallWindow),
	}
}

func (l *Limiter) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.wg.Add(1)
	l.mu.Unlock()

	l.log.Info().Float64("rate_per_sec", l.perSec).Int("max_depth", l.maxDeep).Msg("dispatcher start")
	go l.dispatch(ctx)
	return nil
}

func (l *Limiter) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	l.log.Info().Msg("dispatcher stop")
}

// Schedule enqueues fn and blocks until it has been dispatched and
// returned, or the caller's context is done. Fails fast with
// ErrQueueOverflow when the queue is full.
func (l *Limiter) Schedule(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return ErrStopped
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.queue <- t:
	default:
		l.log.Warn().Int("depth", len(l.queue)).Msg("queue overflow, shedding request")
		return ErrQueueOverflow
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) dispatch(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case t := <-l.queue:
			if err := l.pacer.Wait(ctx); err != nil {
				t.done <- ErrStopped
				l.drain()
				return
			}
			if t.ctx.Err() != nil {
				// caller gave up while queued
				t.done <- t.ctx.Err()
				continue
			}
			start := time.Now()
			err := t.fn(t.ctx)
			l.record(start, time.Since(start), err)
			t.done <- err
		}
	}
}

func (l *Limiter) drain() {
	for {
		select {
		case t := <-l.queue:
			t.done <- ErrStopped
		default:
			return
		}
	}
}

func (l *Limiter) record(at time.Time, d time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if err != nil {
		l.failed++
	}
	c := Call{At: at, Duration: d, Failed: err != nil}
	if len(l.recent) < recentCallWindow {
		l.recent = append(l.recent, c)
	} else {
		l.recent[l.recentPos] = c
	}
	l.recentPos = (l.recentPos + 1) % recentCallWindow
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := make([]Call, len(l.recent))
	copy(recent, l.recent)
	return Stats{
		RatePerSec:    l.perSec,
		QueueDepth:    len(l.queue),
		QueueMaxDepth: l.maxDeep,
		TotalRequests: l.total,
		TotalFailed:   l.failed,
		Recent:        recent,
	}
}
