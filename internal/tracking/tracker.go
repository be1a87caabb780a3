package tracking

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/metrics"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/types"
)

// defaultPublishTimeout bounds how long a broadcast may hold up the write path.
const defaultPublishTimeout = 2 * time.Second

// Tracker owns run lifecycle control and stage ingestion. It keeps no mutable
// state of its own; everything derived is recomputed from the store.
type Tracker struct {
	store          Store
	notifier       Notifier
	pollers        PollerControl
	now            func() time.Time
	totalStages    int
	publishTimeout time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNotifier sets the realtime relay used for broadcasts.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// WithPollers sets the poller registry started on run creation.
func WithPollers(p PollerControl) Option {
	return func(t *Tracker) { t.pollers = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTotalStages overrides the stage count recorded on new runs.
func WithTotalStages(n int) Option {
	return func(t *Tracker) { t.totalStages = n }
}

// WithPublishTimeout bounds each realtime broadcast.
func WithPublishTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.publishTimeout = d
		}
	}
}

// New creates a Tracker over store.
func New(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:          store,
		notifier:       noopNotifier{},
		pollers:        noopPollers{},
		now:            time.Now,
		totalStages:    types.TotalStages,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPollers attaches the poller registry after construction. The poller
// itself depends on the tracker, so it cannot be passed to New.
func (t *Tracker) SetPollers(p PollerControl) {
	if p == nil {
		p = noopPollers{}
	}
	t.pollers = p
}

// authorize checks that caller owns req or holds the admin role.
func (t *Tracker) authorize(ctx context.Context, caller uuid.UUID, req *types.ContentRequest) error {
	if caller == uuid.Nil {
		return &ErrUnauthorized{}
	}
	if req.UserID == caller {
		return nil
	}
	user, err := t.store.GetUser(ctx, caller)
	if err != nil {
		return storageErr("load caller profile", err)
	}
	if user.IsAdmin() {
		return nil
	}
	return &ErrForbidden{UserID: caller}
}

// loadOwnedRun loads a run and its request and checks caller's access.
func (t *Tracker) loadOwnedRun(ctx context.Context, caller, runID uuid.UUID) (*types.Run, *types.ContentRequest, error) {
	if caller == uuid.Nil {
		return nil, nil, &ErrUnauthorized{}
	}
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, storageErr("load run", err)
	}
	if run == nil {
		return nil, nil, &ErrNotFound{Kind: "run", ID: runID}
	}
	req, err := t.store.GetContentRequest(ctx, run.ContentRequestID)
	if err != nil {
		return nil, nil, storageErr("load content request", err)
	}
	if req == nil {
		return nil, nil, &ErrNotFound{Kind: "content request", ID: run.ContentRequestID}
	}
	if err := t.authorize(ctx, caller, req); err != nil {
		return nil, nil, err
	}
	return run, req, nil
}

// publish is best-effort: failures are logged and counted, never returned.
func (t *Tracker) publish(ctx context.Context, channel, event string, payload any) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.publishTimeout)
	defer cancel()
	if err := t.notifier.Publish(pctx, channel, event, payload); err != nil {
		metrics.RelayPublishFailures.Inc()
		log.Printf("[relay] failed to publish %s on %s: %v", event, channel, err)
	}
}

// activity is the global-channel payload announcing a request status change.
type activity struct {
	ID     uuid.UUID           `json:"id"`
	RunID  uuid.UUID           `json:"run_id"`
	UserID uuid.UUID           `json:"user_id"`
	Status types.RequestStatus `json:"status"`
}

func (t *Tracker) publishActivity(ctx context.Context, requestID, runID, userID uuid.UUID, status types.RequestStatus) {
	t.publish(ctx, realtime.GlobalChannel, realtime.EventBriefStatus, activity{
		ID:     requestID,
		RunID:  runID,
		UserID: userID,
		Status: status,
	})
}
