package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rift-hq/gateway/internal/model"
)

// HandleHealth handles GET /health.
//
// Each dependency is probed concurrently under its own deadline so one slow
// check never holds up the rest. Postgres is a required dependency: down
// means 503. The pipeline service is not — the gateway can still answer
// status, result and report queries without it — so an unreachable pipeline
// only degrades the report.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Gateway:    "ok",
		Cache:      "ok",
		ActiveRuns: h.registry.Len(),
		Uptime:     int64(time.Since(h.startTime).Seconds()),
	}
	if !h.cache.Enabled() {
		resp.Cache = "disabled"
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(r.Context(), h.healthProbeTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health: postgres probe failed", "error", err)
			resp.Postgres = "disconnected"
			return
		}
		resp.Postgres = "connected"
	}()

	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(r.Context(), h.healthProbeTimeout)
		defer cancel()
		if err := h.agent.Healthy(ctx); err != nil {
			h.logger.Warn("health: pipeline probe failed", "error", err)
			resp.AgentService = "unreachable"
			return
		}
		resp.AgentService = "ok"
	}()

	wg.Wait()

	httpStatus := http.StatusOK
	switch {
	case resp.Postgres != "connected":
		resp.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case resp.AgentService != "ok":
		resp.Status = "degraded"
	}

	writeJSON(w, httpStatus, resp)
}
