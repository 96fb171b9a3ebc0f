package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rift-hq/gateway/internal/agent"
	"github.com/rift-hq/gateway/internal/artifact"
	"github.com/rift-hq/gateway/internal/contract"
	"github.com/rift-hq/gateway/internal/identity"
	"github.com/rift-hq/gateway/internal/model"
	"github.com/rift-hq/gateway/internal/registry"
	"github.com/rift-hq/gateway/internal/resolver"
	"github.com/rift-hq/gateway/internal/resultcache"
	"github.com/rift-hq/gateway/internal/storage"
)

// runIDPattern rejects path identifiers before they reach any tier.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ReportStore is the slice of the relational store the handlers need:
// connectivity probing and the stored-report fallback. *storage.DB
// satisfies it.
type ReportStore interface {
	Ping(ctx context.Context) error
	GetReportPDF(ctx context.Context, runID string) ([]byte, error)
}

// PipelineClient dispatches runs to the healing pipeline. *agent.Client
// satisfies it.
type PipelineClient interface {
	StartRun(ctx context.Context, req agent.StartRequest) (*agent.StartResponse, error)
	Healthy(ctx context.Context) error
}

// HandlersDeps holds all dependencies for the HTTP handlers.
type HandlersDeps struct {
	Registry    *registry.Registry
	Artifacts   *artifact.Store
	DB          ReportStore
	Resolver    *resolver.Resolver
	Broker      *Broker
	Broadcaster *Broadcaster
	Cache       *resultcache.Cache
	Agent       PipelineClient
	Logger      *slog.Logger

	Version            string
	MaxIterations      int
	DispatchTimeout    time.Duration
	HealthProbeTimeout time.Duration
}

// Handlers carries shared dependencies for all HTTP handlers.
type Handlers struct {
	registry    *registry.Registry
	artifacts   *artifact.Store
	db          ReportStore
	resolver    *resolver.Resolver
	broker      *Broker
	broadcaster *Broadcaster
	cache       *resultcache.Cache
	agent       PipelineClient
	logger      *slog.Logger

	version            string
	maxIterations      int
	dispatchTimeout    time.Duration
	healthProbeTimeout time.Duration
	startTime          time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		registry:           d.Registry,
		artifacts:          d.Artifacts,
		db:                 d.DB,
		resolver:           d.Resolver,
		broker:             d.Broker,
		broadcaster:        d.Broadcaster,
		cache:              d.Cache,
		agent:              d.Agent,
		logger:             d.Logger,
		version:            d.Version,
		maxIterations:      d.MaxIterations,
		dispatchTimeout:    d.DispatchTimeout,
		healthProbeTimeout: d.HealthProbeTimeout,
		startTime:          time.Now(),
	}
}

// HandleSubmitRun handles POST /api/run.
//
// The body is validated against the submission contract before any decode,
// so unknown fields and type mismatches are rejected rather than silently
// dropped. Identity derivation failures are input errors; the dedupe check
// and registration happen as one registry operation.
func (h *Handlers) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "unable to read request body")
		return
	}

	res, err := contract.ValidateBytes(contract.KindSubmissionRequest, body)
	if err != nil {
		h.logger.Error("submission validation fault", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	if !res.Valid {
		writeErrorDetails(w, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"submission does not satisfy the request contract", res.Errors)
		return
	}

	var req model.SubmitRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body")
		return
	}

	branchName, err := identity.BranchName(req.TeamName, req.LeaderName)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidIdentity) {
			writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"team_name and leader_name must each contain at least one alphanumeric character")
			return
		}
		h.logger.Error("branch derivation failed", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	fingerprint := identity.Fingerprint(req.RepoURL, req.TeamName, req.LeaderName, req.RequestedRef)

	// Reuse policy: a completed run cached under the same fingerprint is
	// replayed instead of queueing a fresh run.
	if cached, ok := h.cache.Get(fingerprint); ok {
		h.logger.Info("replaying completed run for identical submission",
			"run_id", cached.RunID, "fingerprint", fingerprint)
		h.respondAccepted(w, model.SubmitRunResponse{
			RunID:       cached.RunID,
			BranchName:  cached.BranchName,
			Status:      string(model.RunStatusQueued),
			SocketRoom:  RoomForRun(cached.RunID),
			Fingerprint: fingerprint,
		})
		return
	}

	now := time.Now().UTC()
	run := model.Run{
		ID:            uuid.New().String(),
		RepoURL:       req.RepoURL,
		TeamName:      req.TeamName,
		LeaderName:    req.LeaderName,
		BranchName:    branchName,
		Fingerprint:   fingerprint,
		Status:        model.RunStatusQueued,
		CurrentNode:   "queued",
		MaxIterations: h.maxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	existing, created := h.registry.RegisterOrExisting(run)
	if !created {
		dup := model.DuplicateRunResponse{
			RunID:   existing.ID,
			Status:  existing.Status,
			Message: model.DuplicateMessage,
		}
		if err := contract.MustConform(contract.KindDuplicateSubmission, dup); err != nil {
			h.logger.Error("duplicate response failed own contract", "error", err)
			writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
			return
		}
		writeJSON(w, http.StatusConflict, dup)
		return
	}

	h.logger.Info("run registered",
		"run_id", run.ID,
		"fingerprint", fingerprint,
		"branch_name", branchName,
	)

	h.dispatch(run)

	h.respondAccepted(w, model.SubmitRunResponse{
		RunID:       run.ID,
		BranchName:  branchName,
		Status:      string(model.RunStatusQueued),
		SocketRoom:  RoomForRun(run.ID),
		Fingerprint: fingerprint,
	})
}

// respondAccepted validates the acceptance payload against its contract and
// writes it. A rejection here is the gateway's own bug, never the client's.
func (h *Handlers) respondAccepted(w http.ResponseWriter, resp model.SubmitRunResponse) {
	if err := contract.MustConform(contract.KindSubmissionAccepted, resp); err != nil {
		h.logger.Error("acceptance response failed own contract", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// dispatch hands an accepted run to the pipeline asynchronously. Dispatch
// failure leaves the run queued; the pipeline is the source of all
// subsequent state, so the gateway does not speculate about the failure.
func (h *Handlers) dispatch(run model.Run) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.dispatchTimeout)
		defer cancel()

		_, err := h.agent.StartRun(ctx, agent.StartRequest{
			RunID:         run.ID,
			RepoURL:       run.RepoURL,
			TeamName:      run.TeamName,
			LeaderName:    run.LeaderName,
			BranchName:    run.BranchName,
			MaxIterations: run.MaxIterations,
			FeatureFlags:  agent.DefaultFeatureFlags(),
		})
		if err != nil {
			h.logger.Error("pipeline dispatch failed", "run_id", run.ID, "error", err)
			return
		}
		h.logger.Info("run dispatched to pipeline", "run_id", run.ID)
	}()
}

// pathRunID extracts and validates the run_id path segment. Writes a 400 and
// returns false when the identifier is malformed.
func pathRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := r.PathValue("run_id")
	if !runIDPattern.MatchString(runID) {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed run identifier")
		return "", false
	}
	return runID, true
}

// HandleRunStatus handles GET /api/run/{run_id}/status.
func (h *Handlers) HandleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	view, err := h.resolver.Status(r.Context(), runID)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.logger.Error("status resolution failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// legacyResult wraps a pre-schema artifact for the wire: the stored bytes
// are surfaced verbatim, tagged so clients know the payload predates the
// current contract.
type legacyResult struct {
	Legacy bool            `json:"legacy"`
	Result json.RawMessage `json:"result"`
}

// HandleRunResult handles GET /api/run/{run_id}/result.
func (h *Handlers) HandleRunResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	resolved, err := h.resolver.Result(r.Context(), runID)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "no result for run")
			return
		}
		h.logger.Error("result resolution failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	if resolved.Legacy {
		writeJSON(w, http.StatusOK, legacyResult{Legacy: true, Result: resolved.Raw})
		return
	}
	writeJSON(w, http.StatusOK, resolved.Result)
}

// HandleRunReport handles GET /api/run/{run_id}/report. The filesystem side
// channel is tried first, then the report bytes stored in the run row.
func (h *Handlers) HandleRunReport(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	rc, size, err := h.artifacts.OpenReport(runID)
	if err == nil {
		defer rc.Close()
		writeReportHeaders(w, runID, size)
		_, _ = io.Copy(w, rc)
		return
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		h.logger.Error("report open failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	pdf, err := h.db.GetReportPDF(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "no report for run")
			return
		}
		h.logger.Error("report fallback failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeReportHeaders(w, runID, int64(len(pdf)))
	_, _ = w.Write(pdf)
}

func writeReportHeaders(w http.ResponseWriter, runID string, size int64) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="report_`+runID+`.pdf"`)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

// HandleRunEvents handles GET /api/run/{run_id}/events (SSE).
func (h *Handlers) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	room := RoomForRun(runID)
	ch := h.broker.Subscribe(room)
	defer h.broker.Unsubscribe(room, ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleIngestEvent handles POST /internal/run/{run_id}/events.
//
// The producer is the trusted pipeline, so every rejection on this path is
// an internal contract violation reported as a 5xx — there is no client to
// blame for bad input here.
func (h *Handlers) HandleIngestEvent(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	var req model.IngestEventRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Error("unreadable ingest envelope", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError,
			"event envelope violates internal contract")
		return
	}

	kind, ok := contract.EventKind(req.Kind)
	if !ok {
		h.logger.Error("unknown event kind from pipeline", "run_id", runID, "kind", req.Kind)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError,
			"event kind violates internal contract")
		return
	}

	// The event's embedded run_id must match the path it arrived on.
	var probe struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(req.Payload, &probe); err != nil || probe.RunID != runID {
		h.logger.Error("event run_id does not match ingest path",
			"run_id", runID, "payload_run_id", probe.RunID, "kind", kind)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError,
			"event payload violates internal contract")
		return
	}

	if err := h.broadcaster.PublishRaw(kind, runID, req.Payload); err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError,
			"event payload violates internal contract")
		return
	}

	h.mirrorProgress(kind, runID, req.Payload)
	w.WriteHeader(http.StatusNoContent)
}

// mirrorProgress reflects telemetry into the registry so status queries see
// pipeline progress without a database round trip. Best-effort: the payload
// already passed contract validation, so decode failures are impossible in
// practice and ignored if they happen.
func (h *Handlers) mirrorProgress(kind contract.Kind, runID string, payload []byte) {
	switch kind {
	case contract.KindThoughtEvent:
		var ev model.ThoughtEvent
		if json.Unmarshal(payload, &ev) == nil {
			h.registry.MarkRunning(runID)
			h.registry.UpdateProgress(runID, ev.Node, 0)
		}
	case contract.KindCIUpdateEvent:
		var ev model.CIUpdateEvent
		if json.Unmarshal(payload, &ev) == nil {
			h.registry.MarkRunning(runID)
			h.registry.UpdateProgress(runID, "", ev.Iteration)
		}
	}
}

// HandleCompleteRun handles POST /internal/run/{run_id}/complete.
//
// Ordering matters: the artifact is durably written before the registry
// entry is removed, so there is no window where a run is neither active nor
// resolvable.
func (h *Handlers) HandleCompleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	var result model.RunResult
	if err := decodeJSON(r, &result); err != nil {
		h.logger.Error("unreadable completion payload", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError,
			"completion payload violates internal contract")
		return
	}

	if err := h.artifacts.Write(runID, result); err != nil {
		h.logger.Error("artifact write rejected", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError,
			"completion payload violates internal contract")
		return
	}

	// Fingerprint is only known to the registry; capture it before the
	// entry disappears.
	if run, tracked := h.registry.LookupByRunID(runID); tracked {
		h.cache.Set(run.Fingerprint, result)
	}
	h.registry.MarkComplete(runID)

	if err := h.broadcaster.RunComplete(model.RunCompleteEvent{
		RunID:         runID,
		FinalStatus:   result.FinalStatus,
		Score:         result.Score,
		TotalTimeSecs: result.TotalTimeSecs,
		PDFURL:        "/api/run/" + runID + "/report",
	}); err != nil {
		// The artifact is already durable; a broadcast contract failure
		// is logged by the broadcaster and must not undo completion.
		h.logger.Warn("completion broadcast skipped", "run_id", runID, "error", err)
	}

	h.logger.Info("run completed",
		"run_id", runID,
		"final_status", result.FinalStatus,
		"score_total", result.Score.Total,
	)
	w.WriteHeader(http.StatusNoContent)
}
