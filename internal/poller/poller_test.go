package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/stages"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ tracking.PollerControl = (*Manager)(nil)

const startMs = 1767225600000 // 2026-01-01T00:00:00Z

func nodeRun(start, dur float64) []NodeRun {
	return []NodeRun{{StartTime: start, ExecutionTime: dur}}
}

func TestTranslate(t *testing.T) {
	catalog := stages.Default()
	runID := uuid.New()
	exec := &Execution{
		Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Merge6":         nodeRun(startMs+2000, 300),
			"Webhook1":       nodeRun(startMs, 15),
			"Some Code Node": nodeRun(startMs, 1),
		}}},
	}

	reports := Translate(exec, runID, catalog)

	require.Len(t, reports, 2)
	assert.Equal(t, "Webhook Received", reports[0].StageName)
	assert.Equal(t, 0, reports[0].StageOrder)
	assert.Equal(t, "EEAT Versions Merged", reports[1].StageName)
	assert.Equal(t, 10, reports[1].StageOrder)

	merged := reports[1]
	assert.Equal(t, types.StageCompleted, merged.Status)
	assert.Equal(t, runID, merged.RunID)
	assert.Equal(t, time.UnixMilli(startMs+2000).UTC(), *merged.StartedAt)
	assert.Equal(t, int64(300), merged.CompletedAt.Sub(*merged.StartedAt).Milliseconds())
	assert.Equal(t, "Merge6", merged.OutputMetadata["node"])
}

func TestTranslate_Output(t *testing.T) {
	exec := &Execution{}
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"resultData":{"runData":{"Webhook1":[{"startTime":1767225600000,"executionTime":5,"data":{"main":[[{"json":{"title":"Cold brew"}}]]}}]}}}}`), exec))

	reports := Translate(exec, uuid.New(), stages.Default())

	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].OutputText)
	assert.JSONEq(t, `{"title":"Cold brew"}`, *reports[0].OutputText)
}

func TestTranslate_NodeError(t *testing.T) {
	runs := nodeRun(startMs, 10)
	runs[0].Error = &EngineError{Message: "rate limited"}
	exec := &Execution{
		Finished: true,
		Status:   "error",
		Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1":                 nodeRun(startMs, 5),
			"OpenAI SEO Optimization1": runs,
		}}},
	}

	reports := Translate(exec, uuid.New(), stages.Default())

	require.Len(t, reports, 2)
	assert.Equal(t, types.StageFailed, reports[1].Status)
	assert.Equal(t, "SEO Optimization", reports[1].StageName)
	assert.Equal(t, "rate limited", *reports[1].ErrorMessage)
}

func TestTranslate_FailedExecutionWithoutNodeError(t *testing.T) {
	exec := &Execution{
		Finished: true,
		Status:   "crashed",
		Data: &ExecutionData{ResultData: ResultData{
			RunData: map[string][]NodeRun{
				"Webhook1":       nodeRun(startMs, 5),
				"Create folder1": nodeRun(startMs+5, 5),
			},
			Error: &EngineError{Message: "worker lost"},
		}},
	}

	reports := Translate(exec, uuid.New(), stages.Default())

	require.Len(t, reports, 3)
	last := reports[2]
	assert.Equal(t, types.StageFailed, last.Status)
	assert.Equal(t, 2, last.StageOrder)
	assert.Equal(t, "OpenAI Draft Generated", last.StageName)
	assert.Equal(t, "worker lost", *last.ErrorMessage)
}

func TestTranslate_NoRunData(t *testing.T) {
	assert.Empty(t, Translate(&Execution{}, uuid.New(), stages.Default()))

	failed := Translate(&Execution{Finished: true, Status: "error"}, uuid.New(), stages.Default())
	require.Len(t, failed, 1)
	assert.Equal(t, 0, failed[0].StageOrder)
}

func TestClient_FetchExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/executions/42", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("includeData"))
		if r.Header.Get("X-N8N-API-KEY") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"42","finished":true,"status":"success","data":{"resultData":{"runData":{"Webhook1":[{"startTime":1767225600000,"executionTime":12}]}}}}`)
	}))
	defer srv.Close()

	exec, err := NewClient(srv.URL+"/", "key", time.Second).FetchExecution(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, exec.Finished)
	assert.Equal(t, StatusSuccess, exec.Status)
	assert.Len(t, exec.runData(), 1)

	_, err = NewClient(srv.URL, "wrong", time.Second).FetchExecution(context.Background(), "42")
	var upstream *tracking.ErrUpstream
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.True(t, tracking.IsRetryable(err))
}

func TestClient_InvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"42","finished":"maybe"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "key", time.Second).FetchExecution(context.Background(), "42")
	var upstream *tracking.ErrUpstream
	require.ErrorAs(t, err, &upstream)
	assert.Zero(t, upstream.StatusCode)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, "key", 50*time.Millisecond).FetchExecution(context.Background(), "42")
	var timeout *tracking.ErrTimeout
	assert.ErrorAs(t, err, &timeout)
}

// scriptedFetcher returns executions (or errors) in order, repeating the last.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls int
}

type fetchStep struct {
	exec *Execution
	err  error
}

func (f *scriptedFetcher) FetchExecution(context.Context, string) (*Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	return f.steps[i].exec, f.steps[i].err
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []tracking.StageInput
	errs    []error
}

func (r *recordingReporter) ReportStage(_ context.Context, in tracking.StageInput) (*types.Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, in)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.Stage{RunID: in.RunID, StageName: in.StageName, Status: in.Status}, nil
}

func (r *recordingReporter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, in := range r.reports {
		out = append(out, in.StageName)
	}
	return out
}

type staticRuns struct {
	mu     sync.Mutex
	status types.RunStatus
}

func (s *staticRuns) GetRun(_ context.Context, id uuid.UUID) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Run{ID: id, Status: s.status}, nil
}

func (s *staticRuns) set(status types.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func testOptions() Options {
	return Options{Interval: 5 * time.Millisecond, MaxAttempts: 50, MaxFailures: 3, ReportRetries: 3}
}

func TestManager_ReportsUntilFinished(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{exec: &Execution{Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1": nodeRun(startMs, 5),
		}}}}},
		{exec: &Execution{Finished: true, Status: StatusSuccess, Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1":       nodeRun(startMs, 5),
			"Create folder1": nodeRun(startMs+5, 5),
		}}}}},
	}}
	reporter := &recordingReporter{}
	m := NewManager(fetcher, reporter, &staticRuns{status: types.RunRunning}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Webhook Received", "Google Drive Folder Created"}, reporter.names())
	assert.Equal(t, 2, fetcher.count())
}

func TestManager_GivesUpAfterConsecutiveFailures(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{{err: &tracking.ErrUpstream{StatusCode: 503}}}}
	reporter := &recordingReporter{}
	m := NewManager(fetcher, reporter, &staticRuns{status: types.RunRunning}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, fetcher.count())
	assert.Empty(t, reporter.names())
}

func TestManager_StopsWhenRunTerminal(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{{exec: &Execution{}}}}
	m := NewManager(fetcher, &recordingReporter{}, &staticRuns{status: types.RunStopped}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, fetcher.count())
}

func TestManager_StopsWhenRunStoppedMidway(t *testing.T) {
	runID := uuid.New()
	runs := &staticRuns{status: types.RunRunning}
	fetcher := &scriptedFetcher{steps: []fetchStep{{exec: &Execution{}}}}
	opts := testOptions()
	opts.MaxAttempts = 1000
	m := NewManager(fetcher, &recordingReporter{}, runs, stages.Default(), opts)

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return fetcher.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	runs.set(types.RunStopped)

	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)
	assert.Less(t, fetcher.count(), 1000)
}

func TestManager_StopAndDuplicateStart(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{{exec: &Execution{}}}}
	m := NewManager(fetcher, &recordingReporter{}, &staticRuns{status: types.RunRunning}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	m.Start("exec-1", runID)
	assert.True(t, m.Active(runID))

	m.Stop(runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	m.Stop(uuid.New())
}

func TestManager_RetriesRetryableReports(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{exec: &Execution{Finished: true, Status: StatusSuccess, Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1": nodeRun(startMs, 5),
		}}}}},
	}}
	storageErr := &tracking.ErrStorage{Op: "upsert stage", Cause: errors.New("conn reset")}
	reporter := &recordingReporter{errs: []error{storageErr, storageErr, nil}}
	m := NewManager(fetcher, reporter, &staticRuns{status: types.RunRunning}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, reporter.names(), 3)
}

func TestManager_FinishedExecutionRedeliversFailedReports(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{exec: &Execution{Finished: true, Status: StatusSuccess, Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1": nodeRun(startMs, 5),
		}}}}},
	}}
	storageErr := &tracking.ErrStorage{Op: "upsert stage", Cause: errors.New("conn reset")}
	// Exhausts every retry of the first poll and one of the second.
	reporter := &recordingReporter{errs: []error{storageErr, storageErr, storageErr, storageErr, storageErr, nil}}
	m := NewManager(fetcher, reporter, &staticRuns{status: types.RunRunning}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, fetcher.count())
	assert.Len(t, reporter.names(), 6)
	reporter.mu.Lock()
	assert.Empty(t, reporter.errs)
	reporter.mu.Unlock()
}

func TestManager_FinishedExecutionStopsAtMaxAttemptsWhileUndelivered(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{exec: &Execution{Finished: true, Status: StatusSuccess, Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1": nodeRun(startMs, 5),
		}}}}},
	}}
	storageErr := &tracking.ErrStorage{Op: "upsert stage", Cause: errors.New("conn reset")}
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = storageErr
	}
	opts := testOptions()
	opts.MaxAttempts = 3
	opts.ReportRetries = 0
	m := NewManager(fetcher, &recordingReporter{errs: errs}, &staticRuns{status: types.RunRunning}, stages.Default(), opts)

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, fetcher.count())
}

func TestManager_DoesNotRetryInvalidReports(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{exec: &Execution{Finished: true, Status: StatusSuccess, Data: &ExecutionData{ResultData: ResultData{RunData: map[string][]NodeRun{
			"Webhook1": nodeRun(startMs, 5),
		}}}}},
	}}
	reporter := &recordingReporter{errs: []error{&tracking.ErrNotFound{Kind: "run", ID: runID}}}
	m := NewManager(fetcher, reporter, &staticRuns{status: types.RunRunning}, stages.Default(), testOptions())

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, reporter.names(), 1)
}

func TestManager_Shutdown(t *testing.T) {
	runs := &staticRuns{status: types.RunRunning}
	fetcher := &scriptedFetcher{steps: []fetchStep{{exec: &Execution{}}}}
	m := NewManager(fetcher, &recordingReporter{}, runs, stages.Default(), testOptions())

	a, b := uuid.New(), uuid.New()
	m.Start("exec-a", a)
	m.Start("exec-b", b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.False(t, m.Active(a))
	assert.False(t, m.Active(b))

	m.Start("exec-c", uuid.New())
	assert.Empty(t, m.active)
}

func TestManager_StopsAtMaxAttempts(t *testing.T) {
	runID := uuid.New()
	fetcher := &scriptedFetcher{steps: []fetchStep{{exec: &Execution{}}}}
	opts := testOptions()
	opts.MaxAttempts = 4
	m := NewManager(fetcher, &recordingReporter{}, &staticRuns{status: types.RunRunning}, stages.Default(), opts)

	m.Start("exec-1", runID)
	require.Eventually(t, func() bool { return !m.Active(runID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 4, fetcher.count())
}
