package model

// Telemetry events are produced by trusted pipeline stages and fanned out to
// the run's subscriber room after contract validation. None of them are
// persisted by the gateway.

// ThoughtEvent is a free-text progress note from a pipeline node.
type ThoughtEvent struct {
	RunID     string `json:"run_id"`
	Node      string `json:"node"`
	Message   string `json:"message"`
	StepIndex int    `json:"step_index"`
	Timestamp string `json:"timestamp"`
}

// FixAppliedEvent reports one fix attempt.
type FixAppliedEvent struct {
	RunID      string  `json:"run_id"`
	File       string  `json:"file"`
	BugType    BugType `json:"bug_type"`
	Line       int     `json:"line"`
	Status     string  `json:"status"` // applied, failed, rolled_back, skipped
	Confidence float64 `json:"confidence"`
	CommitSHA  *string `json:"commit_sha,omitempty"`
}

// CIUpdateEvent reports the state of a CI iteration.
type CIUpdateEvent struct {
	RunID      string   `json:"run_id"`
	Iteration  int      `json:"iteration"`
	Status     CIStatus `json:"status"`
	Regression bool     `json:"regression"`
	Timestamp  string   `json:"timestamp"`
}

// ResourceTickEvent is a container resource sample.
type ResourceTickEvent struct {
	RunID       string  `json:"run_id"`
	ContainerID string  `json:"container_id"`
	CPUPct      float64 `json:"cpu_pct"`
	MemMB       float64 `json:"mem_mb"`
	Timestamp   string  `json:"timestamp"`
}

// RunCompleteEvent announces a terminal verdict to subscribers.
type RunCompleteEvent struct {
	RunID         string         `json:"run_id"`
	FinalStatus   FinalStatus    `json:"final_status"`
	Score         ScoreBreakdown `json:"score"`
	TotalTimeSecs float64        `json:"total_time_secs"`
	PDFURL        string         `json:"pdf_url"`
}
