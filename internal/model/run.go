// Package model defines the core domain types for the RIFT run gateway.
//
// Types mirror the wire contracts in internal/contract one-to-one: a value
// that marshals from these structs is expected to satisfy the corresponding
// schema, and outbound payloads are re-checked against the schema before
// they leave the process.
package model

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusRunning     RunStatus = "running"
	RunStatusPassed      RunStatus = "passed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusQuarantined RunStatus = "quarantined"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusPassed, RunStatusFailed, RunStatusQuarantined:
		return true
	}
	return false
}

// Run is one in-flight execution of the healing pipeline.
//
// The registry holds runs only while they are queued or running; once a
// terminal artifact exists the run is dropped from the registry and the
// artifact (or the relational store) becomes the system of record.
type Run struct {
	ID            string    `json:"run_id"`
	RepoURL       string    `json:"repo_url"`
	TeamName      string    `json:"team_name"`
	LeaderName    string    `json:"leader_name"`
	BranchName    string    `json:"branch_name"`
	Fingerprint   string    `json:"fingerprint"`
	Status        RunStatus `json:"status"`
	CurrentNode   string    `json:"current_node"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"max_iterations"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunStatusView is the tier-independent answer to a status query.
// Source names which resolver tier produced it.
type RunStatusView struct {
	RunID         string    `json:"run_id"`
	Status        RunStatus `json:"status"`
	CurrentNode   string    `json:"current_node"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"max_iterations"`
	ProgressPct   float64   `json:"progress_pct"`
	Source        string    `json:"-"`
}

// RunRow is a run as reconstructed from the relational store. Terminal
// bookkeeping columns are pointers because a queued or running row has not
// populated them yet.
type RunRow struct {
	RunID             string
	RepoURL           string
	TeamName          string
	LeaderName        string
	BranchName        string
	Status            RunStatus
	StartTime         time.Time
	EndTime           *time.Time
	TotalTimeSecs     *float64
	BaseScore         *int
	SpeedBonus        *int
	EfficiencyPenalty *int
	FinalScore        *int
	TotalFailures     *int
	TotalFixes        *int
	TotalIterations   *int
	QuarantineReason  *string
}
