package job

import "time"

// State names the lifecycle phase of the orchestrator.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// RecordSummary describes the record a run is currently processing.
type RecordSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	MediaURL string `json:"media_url,omitempty"`
}

// Status is the live snapshot of an in-progress or just-finished run.
// It is mutated only by the orchestrator's run loop and always read by
// value, so readers never observe a partially updated snapshot.
//
// TotalCount is the number of records the paginator has yielded so far
// this run; CurrentIndex counts the eligible (not yet ledgered) records
// that have entered the loop body. SuccessCount+FailureCount never
// exceeds CurrentIndex; extraction misses advance CurrentIndex without
// touching either counter.
type Status struct {
	State         State          `json:"state"`
	IsRunning     bool           `json:"is_running"`
	CurrentIndex  int            `json:"current_index"`
	TotalCount    int            `json:"total_count"`
	SuccessCount  int            `json:"success_count"`
	FailureCount  int            `json:"failure_count"`
	SkippedCount  int            `json:"skipped_count"`
	CurrentRecord *RecordSummary `json:"current_record,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}
