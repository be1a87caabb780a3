package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/metrics"
	"github.com/jonathan/content-runs/internal/stages"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
	"golang.org/x/sync/errgroup"
)

// Fetcher reads an execution from the engine.
type Fetcher interface {
	FetchExecution(ctx context.Context, executionID string) (*Execution, error)
}

// Reporter ingests stage reports.
type Reporter interface {
	ReportStage(ctx context.Context, in tracking.StageInput) (*types.Stage, error)
}

// RunReader reads the current run record.
type RunReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
}

// Options bounds polling.
type Options struct {
	Interval      time.Duration
	MaxAttempts   int
	MaxFailures   int
	ReportRetries int
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 360
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.ReportRetries < 0 {
		o.ReportRetries = 0
	}
}

// Manager runs at most one poller per run. It implements tracking.PollerControl.
type Manager struct {
	fetcher  Fetcher
	reporter Reporter
	runs     RunReader
	catalog  *stages.Catalog
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu      sync.Mutex
	active  map[uuid.UUID]context.CancelFunc
	stopped bool
}

// NewManager creates a Manager. Pollers it starts run until their run ends,
// the execution finishes, a bound is hit, or Shutdown is called.
func NewManager(fetcher Fetcher, reporter Reporter, runs RunReader, catalog *stages.Catalog, opts Options) *Manager {
	opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher:  fetcher,
		reporter: reporter,
		runs:     runs,
		catalog:  catalog,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start begins polling executionID on behalf of runID in the background.
// A run that already has a poller keeps it.
func (m *Manager) Start(executionID string, runID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		log.Printf("[poller] run %s: manager is shut down, not polling execution %s", runID, executionID)
		return
	}
	if _, ok := m.active[runID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.active[runID] = cancel
	metrics.ActivePollers.Inc()

	m.group.Go(func() error {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.active, runID)
			m.mu.Unlock()
			metrics.ActivePollers.Dec()
		}()
		reason := m.poll(ctx, executionID, runID)
		log.Printf("[poller] run %s: stopped polling execution %s: %s", runID, executionID, reason)
		return nil
	})
}

// Stop cancels the poller of runID, if any.
func (m *Manager) Stop(runID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.active[runID]; ok {
		cancel()
	}
}

// Active reports whether runID has a running poller.
func (m *Manager) Active(runID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[runID]
	return ok
}

// Shutdown cancels every poller and waits for them to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll runs the polling loop and returns why it ended.
func (m *Manager) poll(ctx context.Context, executionID string, runID uuid.UUID) string {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	reported := make(map[string]types.StageStatus)
	failures := 0

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return "cancelled"
		case <-ticker.C:
		}

		run, err := m.runs.GetRun(ctx, runID)
		switch {
		case err != nil:
			log.Printf("[poller] run %s: failed to load run: %v", runID, err)
		case run == nil:
			return "run no longer exists"
		case run.Status.IsTerminal():
			return "run is " + string(run.Status)
		}

		exec, err := m.fetcher.FetchExecution(ctx, executionID)
		if err != nil {
			if ctx.Err() != nil {
				return "cancelled"
			}
			failures++
			metrics.PollerPolls.WithLabelValues("error").Inc()
			log.Printf("[poller] run %s: fetch execution %s failed (%d/%d): %v",
				runID, executionID, failures, m.opts.MaxFailures, err)
			if failures >= m.opts.MaxFailures {
				return "too many consecutive fetch failures, run left in last-known status"
			}
			if attempt >= m.opts.MaxAttempts {
				return "max attempts reached"
			}
			continue
		}
		failures = 0
		metrics.PollerPolls.WithLabelValues("ok").Inc()

		// Retryable report failures are picked up again on the next poll.
		pending := 0
		for _, in := range Translate(exec, runID, m.catalog) {
			if reported[in.StageName] == in.Status {
				continue
			}
			if err := m.report(ctx, in); err != nil {
				if ctx.Err() != nil {
					return "cancelled"
				}
				if tracking.IsRetryable(err) {
					pending++
				}
				log.Printf("[poller] run %s: failed to report stage %q: %v", runID, in.StageName, err)
				continue
			}
			reported[in.StageName] = in.Status
		}

		if exec.Finished && pending > 0 {
			if attempt >= m.opts.MaxAttempts {
				return fmt.Sprintf("max attempts reached with %d stage reports undelivered", pending)
			}
			log.Printf("[poller] run %s: execution finished with %d stage reports undelivered, polling again",
				runID, pending)
			continue
		}
		if exec.Finished {
			if exec.Status == StatusSuccess && len(reported) < m.catalog.Total() {
				log.Printf("[poller] run %s: execution succeeded with %d/%d stages observed",
					runID, len(reported), m.catalog.Total())
			}
			return "execution finished with status " + exec.Status
		}
		if attempt >= m.opts.MaxAttempts {
			return "max attempts reached"
		}
	}
}

// report ingests one stage, retrying retryable failures with doubling backoff.
func (m *Manager) report(ctx context.Context, in tracking.StageInput) error {
	backoff := m.opts.Interval / 10
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	var err error
	for try := 0; try <= m.opts.ReportRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if _, err = m.reporter.ReportStage(ctx, in); err == nil {
			return nil
		}
		if !tracking.IsRetryable(err) {
			return err
		}
	}
	return errors.Join(errors.New("retries exhausted"), err)
}
