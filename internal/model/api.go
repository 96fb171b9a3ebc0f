package model

import "encoding/json"

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeDuplicateRun  = "DUPLICATE_RUN"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// SubmitRunRequest is the request body for POST /api/run.
type SubmitRunRequest struct {
	RepoURL      string `json:"repo_url"`
	TeamName     string `json:"team_name"`
	LeaderName   string `json:"leader_name"`
	RequestedRef string `json:"requested_ref,omitempty"`
}

// SubmitRunResponse is the success response for POST /api/run.
type SubmitRunResponse struct {
	RunID       string `json:"run_id"`
	BranchName  string `json:"branch_name"`
	Status      string `json:"status"` // always "queued"
	SocketRoom  string `json:"socket_room"`
	Fingerprint string `json:"fingerprint"`
}

// DuplicateMessage is the fixed human-readable text returned when a
// submission collides with an already-active fingerprint.
const DuplicateMessage = "A run for this submission is already active"

// DuplicateRunResponse is the 409 response for a deduplicated submission.
// RunID and Status describe the run that is already active.
type DuplicateRunResponse struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`
}

// IngestEventRequest is the envelope for POST /internal/run/{run_id}/events.
// Kind selects one of the five telemetry event contracts; Payload is the
// raw event, validated before fan-out.
type IngestEventRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// HealthResponse is the response for GET /health.
// Each dependency reports its own sub-status; only gateway-required
// dependencies (postgres, cache) can fail the overall status.
type HealthResponse struct {
	Status       string `json:"status"` // healthy, degraded, unhealthy
	Version      string `json:"version"`
	Gateway      string `json:"gateway"`
	Postgres     string `json:"postgres"`
	Cache        string `json:"cache"`
	AgentService string `json:"agent_service"`
	ActiveRuns   int    `json:"active_runs"`
	Uptime       int64  `json:"uptime_seconds"`
}
