package poller

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/stages"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
)

// StatusSuccess is the engine status of an execution that finished cleanly.
const StatusSuccess = "success"

// Execution is the subset of an engine execution the poller reads.
type Execution struct {
	Finished bool           `json:"finished"`
	Status   string         `json:"status"`
	Data     *ExecutionData `json:"data"`
}

// ExecutionData wraps the engine's result data.
type ExecutionData struct {
	ResultData ResultData `json:"resultData"`
}

// ResultData holds per-node runs keyed by node name.
type ResultData struct {
	RunData          map[string][]NodeRun `json:"runData"`
	LastNodeExecuted string               `json:"lastNodeExecuted"`
	Error            *EngineError         `json:"error"`
}

// EngineError is an error reported by the engine for a node or the execution.
type EngineError struct {
	Message string `json:"message"`
}

// NodeRun is one run of a node. Times are milliseconds.
type NodeRun struct {
	StartTime     float64      `json:"startTime"`
	ExecutionTime float64      `json:"executionTime"`
	Error         *EngineError `json:"error"`
	Data          struct {
		Main [][]struct {
			JSON json.RawMessage `json:"json"`
		} `json:"main"`
	} `json:"data"`
}

func (e *Execution) runData() map[string][]NodeRun {
	if e.Data == nil {
		return nil
	}
	return e.Data.ResultData.RunData
}

// Failed reports whether the execution finished without success.
func (e *Execution) Failed() bool {
	return e.Finished && e.Status != StatusSuccess
}

// output returns the first item of the node's main output, indented.
func (n *NodeRun) output() *string {
	if len(n.Data.Main) == 0 || len(n.Data.Main[0]) == 0 {
		return nil
	}
	raw := n.Data.Main[0][0].JSON
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func msToTime(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// Translate turns an execution into stage reports in catalog order. Nodes the
// catalog does not know are skipped. A node that errored yields a failed stage.
// When the execution finished unsuccessfully and no tracked node carries the
// error, the stage after the last one seen is reported failed.
func Translate(exec *Execution, runID uuid.UUID, catalog *stages.Catalog) []tracking.StageInput {
	var reports []tracking.StageInput
	anyFailed := false
	lastOrder := -1

	for node, runs := range exec.runData() {
		def, ok := catalog.ByNode(node)
		if !ok || len(runs) == 0 {
			continue
		}
		run := runs[0]
		started := msToTime(run.StartTime)
		completed := msToTime(run.StartTime + run.ExecutionTime)

		in := tracking.StageInput{
			RunID:       runID,
			StageName:   def.Name,
			StageOrder:  def.Order,
			Status:      types.StageCompleted,
			OutputText:  run.output(),
			StartedAt:   &started,
			CompletedAt: &completed,
			OutputMetadata: map[string]any{
				"node":              node,
				"execution_time_ms": run.ExecutionTime,
			},
		}
		if run.Error != nil {
			in.Status = types.StageFailed
			msg := run.Error.Message
			if msg == "" {
				msg = fmt.Sprintf("node %s failed", node)
			}
			in.ErrorMessage = &msg
			anyFailed = true
		}
		if def.Order > lastOrder {
			lastOrder = def.Order
		}
		reports = append(reports, in)
	}

	if exec.Failed() && !anyFailed {
		def, ok := catalog.At(lastOrder + 1)
		if !ok {
			def, _ = catalog.At(catalog.Total() - 1)
		}
		msg := fmt.Sprintf("execution finished with status %q", exec.Status)
		if exec.Data != nil && exec.Data.ResultData.Error != nil && exec.Data.ResultData.Error.Message != "" {
			msg = exec.Data.ResultData.Error.Message
		}
		reports = append(reports, tracking.StageInput{
			RunID:        runID,
			StageName:    def.Name,
			StageOrder:   def.Order,
			Status:       types.StageFailed,
			ErrorMessage: &msg,
		})
	}

	sort.SliceStable(reports, func(i, j int) bool { return reports[i].StageOrder < reports[j].StageOrder })
	return reports
}
