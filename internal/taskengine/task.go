// Package taskengine runs asynchronous analysis tasks on a fixed worker pool
// backed by a persistent task table. Three execution modes keep the caller
// experience uniform: fresh runs invoke the analysis runner, cached runs play
// back a stored daily result, and waiting runs piggyback on a sibling task
// already computing the same analysis.
package taskengine

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Task types.
const (
	TypeStockAnalysis          = "stock_analysis"
	TypeOptionAnalysis         = "option_analysis"
	TypeEnhancedOptionAnalysis = "enhanced_option_analysis"
)

// Cache modes carried on the queue descriptor. The HTTP layer decides the
// dispatch outcome at creation; the worker only follows it.
const (
	CacheModeNone    = ""
	CacheModeCached  = "cached"
	CacheModeWaiting = "waiting"
)

// Bounds applied before any task-row write.
const (
	maxStepLen  = 1000
	maxErrorLen = 5000
)

// Task is one row of the task table.
type Task struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	TaskType           string          `json:"task_type"`
	Status             Status          `json:"status"`
	Priority           int             `json:"priority"`
	InputParams        map[string]any  `json:"input_params"`
	ProgressPercent    int             `json:"progress_percent"`
	CurrentStep        string          `json:"current_step"`
	ResultData         json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	RelatedHistoryID   *int64          `json:"related_history_id,omitempty"`
	RelatedHistoryType string          `json:"related_history_type,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// Param returns a string input parameter, "" when absent.
func (t *Task) Param(key string) string {
	if v, ok := t.InputParams[key].(string); ok {
		return v
	}
	return ""
}

// descriptor is the in-memory queue entry for one pending task.
type descriptor struct {
	TaskID       string
	TaskType     string
	Priority     int
	CacheMode    string
	CachedData   json.RawMessage
	SourceTaskID string
	EnqueuedAt   time.Time
}

// truncate bounds a string written to the task row.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
