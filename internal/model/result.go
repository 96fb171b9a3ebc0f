package model

// FinalStatus is the terminal verdict recorded in a result artifact.
// Distinct from RunStatus: artifacts use the uppercase historical spelling.
type FinalStatus string

const (
	FinalStatusPassed      FinalStatus = "PASSED"
	FinalStatusFailed      FinalStatus = "FAILED"
	FinalStatusQuarantined FinalStatus = "QUARANTINED"
)

// RunStatusFor maps a terminal artifact verdict to the lifecycle status
// reported by status queries.
func RunStatusFor(fs FinalStatus) RunStatus {
	switch fs {
	case FinalStatusPassed:
		return RunStatusPassed
	case FinalStatusFailed:
		return RunStatusFailed
	default:
		return RunStatusQuarantined
	}
}

// BugType classifies the defect a fix addressed.
type BugType string

const (
	BugTypeLinting     BugType = "LINTING"
	BugTypeSyntax      BugType = "SYNTAX"
	BugTypeLogic       BugType = "LOGIC"
	BugTypeTypeError   BugType = "TYPE_ERROR"
	BugTypeImport      BugType = "IMPORT"
	BugTypeIndentation BugType = "INDENTATION"
)

// CIStatus is the state of one CI iteration.
type CIStatus string

const (
	CIStatusPending CIStatus = "pending"
	CIStatusRunning CIStatus = "running"
	CIStatusPassed  CIStatus = "passed"
	CIStatusFailed  CIStatus = "failed"
)

// ScoreBreakdown decomposes a run's final score.
// Invariant: Total == Base + SpeedBonus - EfficiencyPenalty.
type ScoreBreakdown struct {
	Base              float64 `json:"base"`
	SpeedBonus        float64 `json:"speed_bonus"`
	EfficiencyPenalty float64 `json:"efficiency_penalty"`
	Total             float64 `json:"total"`
}

// FixRow is one applied (or attempted) fix in a result artifact.
type FixRow struct {
	File          string  `json:"file"`
	BugType       BugType `json:"bug_type"`
	LineNumber    int     `json:"line_number"`
	CommitMessage string  `json:"commit_message"`
	Status        string  `json:"status"` // FIXED or FAILED
}

// CIRow is one CI iteration in a result artifact.
type CIRow struct {
	Iteration  int      `json:"iteration"`
	Status     CIStatus `json:"status"`
	Timestamp  string   `json:"timestamp"`
	Regression bool     `json:"regression"`
}

// RunResult is the terminal artifact for a finished run. Written exactly
// once by the job processor when the run reaches a terminal status, read
// many times by status and result queries.
type RunResult struct {
	RunID         string         `json:"run_id"`
	RepoURL       string         `json:"repo_url"`
	TeamName      string         `json:"team_name"`
	LeaderName    string         `json:"leader_name"`
	BranchName    string         `json:"branch_name"`
	FinalStatus   FinalStatus    `json:"final_status"`
	TotalFailures int            `json:"total_failures"`
	TotalFixes    int            `json:"total_fixes"`
	TotalTimeSecs float64        `json:"total_time_secs"`
	Score         ScoreBreakdown `json:"score"`
	Fixes         []FixRow       `json:"fixes"`
	CILog         []CIRow        `json:"ci_log"`
}

// ResolvedResult is a result query answer. Legacy marks an artifact that no
// longer satisfies the current schema: its raw bytes are surfaced instead of
// being discarded, and Result is nil.
type ResolvedResult struct {
	Result *RunResult `json:"result,omitempty"`
	Raw    []byte     `json:"-"`
	Legacy bool       `json:"legacy"`
	Source string     `json:"-"`
}
