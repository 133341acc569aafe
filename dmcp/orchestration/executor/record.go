package executor

import (
	"encoding/json"
	"time"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/resolve"
)

// Record is the audit entry for one attempted step.
type Record struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id"`
	StepIndex   int                  `json:"step_index"`
	ToolName    string               `json:"tool_name"`
	Parameters  map[string]any       `json:"parameters_used,omitempty"`
	Result      any                  `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	Elapsed     time.Duration        `json:"elapsed"`
	Timestamp   time.Time            `json:"timestamp"`
	Resolutions []resolve.Resolution `json:"resolutions,omitempty"`
	Degraded    bool                 `json:"degraded,omitempty"` // a parameter came from the fallback table
	Skipped     bool                 `json:"skipped,omitempty"`  // optional step failed and the chain went on
}

// Failed reports whether the step did not produce a result.
func (r Record) Failed() bool { return r.Error != "" }

// DegradedTokens returns the placeholders resolved from the fallback table.
func (r Record) DegradedTokens() []string {
	var out []string
	for _, res := range r.Resolutions {
		if res.Degraded {
			out = append(out, res.Token)
		}
	}
	return out
}

func (r Record) stored() (ports.StoredRecord, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return ports.StoredRecord{}, err
	}
	return ports.StoredRecord{
		ID:        r.ID,
		SessionID: r.SessionID,
		StepIndex: r.StepIndex,
		ToolName:  r.ToolName,
		Failed:    r.Failed(),
		Payload:   payload,
		CreatedAt: r.Timestamp,
	}, nil
}

// DecodeRecord restores a record persisted by a ports.RecordStore.
func DecodeRecord(rec ports.StoredRecord) (Record, error) {
	var r Record
	if err := json.Unmarshal(rec.Payload, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Result is the outcome of a completed execution.
type Result struct {
	SessionID     string
	Plan          *plan.ExecutionPlan
	Output        any // output of the last step that succeeded
	Records       []Record
	Clarification *plan.Clarification
	Degraded      bool           // degraded plan or a fallback-table resolution
	Context       map[string]any // final context store snapshot
}

// NeedsClarification reports whether the plan asked the user a question instead of running tools.
func (r *Result) NeedsClarification() bool { return r.Clarification != nil }
