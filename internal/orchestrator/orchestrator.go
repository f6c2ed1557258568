// Package orchestrator drives the collection loop: it fans out to the
// source adapters on a fixed interval, persists cumulative totals, and
// enforces the safety circuit breaker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"blockchain-collector/internal/collector"
	"blockchain-collector/internal/observability"
	"blockchain-collector/internal/storage"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("collection already running")
	ErrNotRunning     = errors.New("collection not running")
	ErrStopping       = errors.New("collection stop in progress")
)

// Default safety limits.
const (
	DefaultInterval          = 5 * time.Second
	DefaultMaxCollectionTime = 10 * time.Minute
	DefaultMaxDataSize       = 5 << 30 // 5 GiB
	DefaultStopGrace         = 10 * time.Second
)

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
)

// Options configures the Orchestrator.
type Options struct {
	Collectors []collector.Collector
	StateStore storage.StateStore
	Totals     storage.TotalsReader

	// Interval between poll cycles.
	Interval time.Duration
	// MaxCollectionTime trips the breaker once a session runs this long.
	MaxCollectionTime time.Duration
	// MaxDataSize trips the breaker once the sink holds this many bytes.
	MaxDataSize uint64
	// StopGrace is how long Stop lets the in-flight cycle drain before
	// canceling its fetches.
	StopGrace time.Duration

	Logger *log.Logger
}

// Orchestrator owns the collection lifecycle. Start and Stop are safe for
// concurrent use.
type Orchestrator struct {
	collectors []collector.Collector
	stateStore storage.StateStore
	totals     storage.TotalsReader
	interval   time.Duration
	maxTime    time.Duration
	maxBytes   uint64
	stopGrace  time.Duration
	logger     *log.Logger

	mu     sync.Mutex
	state  runState
	stopCh chan struct{}
	doneCh chan struct{}
	cancel context.CancelFunc
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxCollectionTime <= 0 {
		opts.MaxCollectionTime = DefaultMaxCollectionTime
	}
	if opts.MaxDataSize == 0 {
		opts.MaxDataSize = DefaultMaxDataSize
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[orchestrator] ", log.LstdFlags)
	}

	return &Orchestrator{
		collectors: opts.Collectors,
		stateStore: opts.StateStore,
		totals:     opts.Totals,
		interval:   opts.Interval,
		maxTime:    opts.MaxCollectionTime,
		maxBytes:   opts.MaxDataSize,
		stopGrace:  opts.StopGrace,
		logger:     opts.Logger,
	}
}

// Running reports whether a collection session is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == stateRunning
}

// Start begins a collection session. Returns ErrAlreadyRunning when one is
// active and ErrStopping while a stop is still draining.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case stateRunning:
		return ErrAlreadyRunning
	case stateStopping:
		return ErrStopping
	}

	if err := o.stateStore.SetRunning(ctx, time.Now()); err != nil {
		return fmt.Errorf("persist running state: %w", err)
	}

	// Cycles run on a session context so a draining Stop can cancel
	// fetches that are stuck in retry waits.
	sessionCtx, cancel := context.WithCancel(context.Background())

	o.state = stateRunning
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.cancel = cancel
	go func(stopCh, doneCh chan struct{}) {
		defer cancel()
		o.run(sessionCtx, stopCh, doneCh)
	}(o.stopCh, o.doneCh)

	o.logger.Printf("collection started (%d collectors, interval %v)", len(o.collectors), o.interval)
	return nil
}

// Stop ends the collection session. The in-flight cycle is allowed to
// finish; Stop blocks until the loop has drained, then persists the stop
// marker. Returns ErrNotRunning when no session is active.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state != stateRunning {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.state = stateStopping
	stopCh, doneCh, cancel := o.stopCh, o.doneCh, o.cancel
	o.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(o.stopGrace):
		o.logger.Printf("cycle still draining after %v, canceling in-flight fetches", o.stopGrace)
		cancel()
		<-doneCh
	}

	o.mu.Lock()
	o.state = stateIdle
	o.mu.Unlock()

	if err := o.stateStore.SetStopped(ctx, time.Now()); err != nil {
		return fmt.Errorf("persist stopped state: %w", err)
	}

	o.logger.Println("collection stopped")
	return nil
}

// run is the poll loop. It exits when stopCh closes or the breaker trips.
func (o *Orchestrator) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		if tripped := o.cycle(ctx); tripped {
			// One-way breaker: end the session without restart.
			o.mu.Lock()
			wasRunning := o.state == stateRunning
			if wasRunning {
				o.state = stateIdle
			}
			o.mu.Unlock()

			if wasRunning {
				if err := o.stateStore.SetStopped(context.Background(), time.Now()); err != nil {
					o.logger.Printf("persist stopped state after breaker trip: %v", err)
				}
			}
			return
		}

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one poll cycle. Returns true when the safety breaker tripped.
func (o *Orchestrator) cycle(ctx context.Context) (tripped bool) {
	start := time.Now()

	if reason := o.limitExceeded(ctx); reason != "" {
		o.logger.Printf("safety limit exceeded: %s - stopping collection", reason)
		observability.RecordBreakerTrip(reason)
		return true
	}

	var wg sync.WaitGroup
	for _, c := range o.collectors {
		if !c.Enabled() {
			continue
		}
		wg.Add(1)
		go func(c collector.Collector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Printf("collector %s panicked: %v", c.Name(), r)
				}
			}()
			if err := c.Collect(ctx); err != nil {
				// Failures are isolated per collector; the loop goes on.
				o.logger.Printf("collector %s: %v", c.Name(), err)
			}
		}(c)
	}
	wg.Wait()

	o.updateTotals(ctx)
	observability.RecordCycle(time.Since(start).Seconds())
	return false
}

// limitExceeded checks the safety limits against the persisted state.
// Returns the trip reason, or empty when collection may continue. Fails
// open: an unreadable state store never blocks collection.
func (o *Orchestrator) limitExceeded(ctx context.Context) string {
	st, err := o.stateStore.Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.logger.Printf("read collection state: %v", err)
		}
		return ""
	}

	if !st.StartedAt.IsZero() {
		if elapsed := time.Since(st.StartedAt); elapsed > o.maxTime {
			return fmt.Sprintf("collection time %v over limit %v", elapsed.Round(time.Second), o.maxTime)
		}
	}
	if st.TotalSizeBytes >= o.maxBytes {
		return fmt.Sprintf("data size %d bytes over limit %d", st.TotalSizeBytes, o.maxBytes)
	}
	return ""
}

// updateTotals recomputes cumulative totals from the sink and persists them.
func (o *Orchestrator) updateTotals(ctx context.Context) {
	records, sizeBytes, err := o.totals.RecordTotals(ctx)
	if err != nil {
		o.logger.Printf("read record totals: %v", err)
		return
	}
	if err := o.stateStore.UpdateTotals(ctx, records, sizeBytes); err != nil {
		o.logger.Printf("persist record totals: %v", err)
		return
	}
	observability.UpdateStorageTotals(records, sizeBytes)
}
