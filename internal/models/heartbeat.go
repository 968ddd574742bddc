package models

import "time"

// HeartbeatStatus is the state of one heartbeat attempt.
type HeartbeatStatus string

const (
	HeartbeatTriggered           HeartbeatStatus = "triggered"
	HeartbeatInProgress          HeartbeatStatus = "in_progress"
	HeartbeatSkippedOutsideHours HeartbeatStatus = "skipped_outside_hours"
	HeartbeatSkippedNoIntervals  HeartbeatStatus = "skipped_no_intervals"
	HeartbeatSkippedNoReaders    HeartbeatStatus = "skipped_no_readers"
	HeartbeatCompleted           HeartbeatStatus = "completed"
	HeartbeatFailed              HeartbeatStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s HeartbeatStatus) IsTerminal() bool {
	switch s {
	case HeartbeatSkippedOutsideHours, HeartbeatSkippedNoIntervals, HeartbeatSkippedNoReaders,
		HeartbeatCompleted, HeartbeatFailed:
		return true
	default:
		return false
	}
}

// IsSkip reports whether the status is one of the skip outcomes.
func (s HeartbeatStatus) IsSkip() bool {
	switch s {
	case HeartbeatSkippedOutsideHours, HeartbeatSkippedNoIntervals, HeartbeatSkippedNoReaders:
		return true
	default:
		return false
	}
}

// ReaderExecution records one reader call made during a heartbeat.
type ReaderExecution struct {
	ReaderID   string    `json:"reader_id"`
	Timeframe  string    `json:"timeframe"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ExecutionResult is the outcome of dispatching a comprehensive decision.
// Action is "none" for hold.
type ExecutionResult struct {
	Action            string  `json:"action"`
	Success           bool    `json:"success"`
	PositionID        string  `json:"position_id,omitempty"`
	RequestedLeverage float64 `json:"requested_leverage,omitempty"`
	AppliedLeverage   float64 `json:"applied_leverage,omitempty"`
	LeverageClamped   bool    `json:"leverage_clamped,omitempty"`
	PositionSize      float64 `json:"position_size,omitempty"`
	EntryPrice        float64 `json:"entry_price,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// ExecutionActionNone marks a dispatch that intentionally did nothing.
const ExecutionActionNone = "none"

// HeartbeatRecord is the append-only audit record of one trigger attempt.
type HeartbeatRecord struct {
	ID                    string                 `json:"id"`
	TraderID              string                 `json:"trader_id"`
	Status                HeartbeatStatus        `json:"status"`
	TriggeredBy           TriggerSource          `json:"triggered_by"`
	TriggeredAt           time.Time              `json:"triggered_at"`
	StartedAt             *time.Time             `json:"started_at,omitempty"`
	CompletedAt           *time.Time             `json:"completed_at,omitempty"`
	DurationMs            int64                  `json:"duration_ms"`
	WithinActiveHours     bool                   `json:"within_active_hours"`
	MicroDecisions        []MicroDecision        `json:"micro_decisions"`
	ComprehensiveDecision *ComprehensiveDecision `json:"comprehensive_decision,omitempty"`
	Execution             *ExecutionResult       `json:"execution,omitempty"`
	ReaderExecutions      []ReaderExecution      `json:"reader_executions"`
	Error                 string                 `json:"error,omitempty"`
}

// Finish moves the record into a terminal state and stamps completion time.
func (r *HeartbeatRecord) Finish(status HeartbeatStatus, now time.Time, err error) {
	r.Status = status
	r.CompletedAt = &now
	start := r.TriggeredAt
	if r.StartedAt != nil {
		start = *r.StartedAt
	}
	r.DurationMs = now.Sub(start).Milliseconds()
	if err != nil {
		r.Error = err.Error()
	}
}
