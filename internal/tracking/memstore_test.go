package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/types"
)

// memStore is an in-memory Store for tests. failOn makes the named method
// fail once; a hook runs once, before the named method takes the lock.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*types.User
	requests map[uuid.UUID]*types.ContentRequest
	runs     map[uuid.UUID]*types.Run
	stages   map[uuid.UUID]map[string]*types.Stage
	failOn   map[string]int
	hooks    map[string]func()
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]*types.User),
		requests: make(map[uuid.UUID]*types.ContentRequest),
		runs:     make(map[uuid.UUID]*types.Run),
		stages:   make(map[uuid.UUID]map[string]*types.Stage),
		failOn:   make(map[string]int),
		hooks:    make(map[string]func()),
	}
}

func (m *memStore) onceBefore(op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[op] = fn
}

func (m *memStore) before(op string) {
	m.mu.Lock()
	fn := m.hooks[op]
	delete(m.hooks, op)
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

var errInjected = errors.New("injected storage failure")

func (m *memStore) fail(op string) error {
	if m.failOn[op] > 0 {
		m.failOn[op]--
		return errInjected
	}
	return nil
}

func (m *memStore) addUser(role types.Role) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.users[id] = &types.User{ID: id, Name: "user", Email: id.String() + "@example.com", Role: role}
	return id
}

func (m *memStore) addRequest(owner uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.requests[id] = &types.ContentRequest{ID: id, UserID: owner, ArticleTitle: "Title", Status: types.RequestPending}
	return id
}

func (m *memStore) request(id uuid.UUID) types.ContentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.requests[id]
}

func (m *memStore) run(id uuid.UUID) types.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}

func (m *memStore) runsFor(requestID uuid.UUID) []types.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Run
	for _, r := range m.runs {
		if r.ContentRequestID == requestID {
			out = append(out, *r)
		}
	}
	return out
}

func (m *memStore) stageCount(runID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stages[runID])
}

func (m *memStore) GetUser(_ context.Context, id uuid.UUID) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetContentRequest(_ context.Context, id uuid.UUID) (*types.ContentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetContentRequest"); err != nil {
		return nil, err
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) AttachRun(_ context.Context, requestID, runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AttachRun"); err != nil {
		return err
	}
	r := m.requests[requestID]
	id := runID
	r.CurrentRunID = &id
	r.Status = types.RequestInProgress
	return nil
}

func (m *memStore) CreateRun(_ context.Context, requestID uuid.UUID, executionID *string, total int) (*types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateRun"); err != nil {
		return nil, err
	}
	run := &types.Run{
		ID:                  uuid.New(),
		ContentRequestID:    requestID,
		ExternalExecutionID: executionID,
		Status:              types.RunRunning,
		CurrentStage:        types.InitialStage,
		TotalStages:         total,
		CreatedAt:           time.Now().UTC(),
	}
	m.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (m *memStore) GetRun(_ context.Context, id uuid.UUID) (*types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetRun"); err != nil {
		return nil, err
	}
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, id uuid.UUID, status types.RunStatus) (bool, error) {
	m.before("UpdateRunStatus")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateRunStatus"); err != nil {
		return false, err
	}
	r, ok := m.runs[id]
	if !ok || r.Status.IsTerminal() {
		return false, nil
	}
	r.Status = status
	return true, nil
}

func (m *memStore) FinishRun(_ context.Context, id uuid.UUID, status types.RunStatus, completedAt time.Time, requestStatus types.RequestStatus) (bool, error) {
	m.before("FinishRun")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FinishRun"); err != nil {
		return false, err
	}
	r, ok := m.runs[id]
	if !ok || r.Status.IsTerminal() {
		return false, nil
	}
	r.Status = status
	r.CompletedAt = &completedAt
	if req, ok := m.requests[r.ContentRequestID]; ok {
		req.Status = requestStatus
	}
	return true, nil
}

func (m *memStore) UpdateRunProgress(_ context.Context, id uuid.UUID, currentStage string) (int, error) {
	m.before("UpdateRunProgress")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateRunProgress"); err != nil {
		return 0, err
	}
	r, ok := m.runs[id]
	if !ok {
		return 0, errors.New("run not found")
	}
	completed := 0
	for _, s := range m.stages[id] {
		if s.Status == types.StageCompleted {
			completed++
		}
	}
	r.CurrentStage = currentStage
	r.CompletedStages = completed
	return completed, nil
}

func (m *memStore) GetStage(_ context.Context, runID uuid.UUID, name string) (*types.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetStage"); err != nil {
		return nil, err
	}
	s, ok := m.stages[runID][name]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) UpsertStage(_ context.Context, stage *types.Stage) (*types.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertStage"); err != nil {
		return nil, err
	}
	byName, ok := m.stages[stage.RunID]
	if !ok {
		byName = make(map[string]*types.Stage)
		m.stages[stage.RunID] = byName
	}
	cp := *stage
	if existing, ok := byName[stage.StageName]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = uuid.New()
	}
	byName[stage.StageName] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) ListStages(_ context.Context, runID uuid.UUID) ([]types.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListStages"); err != nil {
		return nil, err
	}
	var out []types.Stage
	for _, s := range m.stages[runID] {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageOrder < out[j].StageOrder })
	return out, nil
}

func (m *memStore) SummarizeStages(_ context.Context, runID uuid.UUID) (types.StageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SummarizeStages"); err != nil {
		return types.StageSummary{}, err
	}
	var sum types.StageSummary
	for _, s := range m.stages[runID] {
		switch s.Status {
		case types.StageCompleted:
			sum.Completed++
		case types.StageFailed:
			sum.HasFailed = true
		}
	}
	return sum, nil
}

// recordingNotifier captures published events; err makes every publish fail.
type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

type publishedEvent struct {
	Channel string
	Event   string
	Payload any
}

func (n *recordingNotifier) Publish(_ context.Context, channel, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, publishedEvent{Channel: channel, Event: event, Payload: payload})
	return nil
}

func (n *recordingNotifier) count(channel, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Channel == channel && e.Event == event {
			c++
		}
	}
	return c
}

// recordingPollers records Start/Stop calls.
type recordingPollers struct {
	mu      sync.Mutex
	started map[uuid.UUID]string
	stopped []uuid.UUID
}

func newRecordingPollers() *recordingPollers {
	return &recordingPollers{started: make(map[uuid.UUID]string)}
}

func (p *recordingPollers) Start(executionID string, runID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started[runID] = executionID
}

func (p *recordingPollers) Stop(runID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, runID)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
