// Package registry tracks in-flight runs for the lifetime of the process.
//
// The registry is a cache of in-flight state, never the system of record:
// a restart loses it, and anything already persisted is still answerable
// through the lower resolver tiers. Entries are indexed twice — by
// submission fingerprint for deduplication and by run identifier for
// status lookups — and removed from both indexes exactly when a terminal
// artifact exists.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rift-hq/gateway/internal/model"
)

// ErrFingerprintActive is returned when a registration collides with an
// already-active fingerprint.
var ErrFingerprintActive = errors.New("registry: fingerprint already active")

// Registry is safe for concurrent use. Construct with New; instances are
// independent so tests can build isolated registries.
type Registry struct {
	mu            sync.Mutex
	byFingerprint map[string]*model.Run
	byRunID       map[string]*model.Run
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byFingerprint: make(map[string]*model.Run),
		byRunID:       make(map[string]*model.Run),
	}
}

// RegisterQueued inserts run under both indexes. Fails with
// ErrFingerprintActive when the fingerprint key is occupied.
func (r *Registry) RegisterQueued(run model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byFingerprint[run.Fingerprint]; ok {
		return ErrFingerprintActive
	}
	r.insertLocked(run)
	return nil
}

// RegisterOrExisting is the dedupe protocol for the submission path: the
// fingerprint lookup and the registration happen under one lock acquisition
// so two near-simultaneous identical submissions can never both register.
// Returns (existing, false) when the fingerprint is already active, or
// (run, true) after registering the new run.
func (r *Registry) RegisterOrExisting(run model.Run) (model.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byFingerprint[run.Fingerprint]; ok {
		return *existing, false
	}
	r.insertLocked(run)
	return run, true
}

func (r *Registry) insertLocked(run model.Run) {
	stored := run // copy; callers never share the stored pointer
	r.byFingerprint[stored.Fingerprint] = &stored
	r.byRunID[stored.ID] = &stored
}

// MarkRunning transitions a queued run to running. No-op if the run is
// not tracked.
func (r *Registry) MarkRunning(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.byRunID[runID]; ok && run.Status == model.RunStatusQueued {
		run.Status = model.RunStatusRunning
		run.UpdatedAt = time.Now().UTC()
	}
}

// UpdateProgress records the pipeline node and iteration most recently
// reported for a tracked run. No-op if the run is not tracked.
func (r *Registry) UpdateProgress(runID, currentNode string, iteration int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.byRunID[runID]
	if !ok {
		return
	}
	if currentNode != "" {
		run.CurrentNode = currentNode
	}
	if iteration > run.Iteration {
		run.Iteration = iteration
	}
	run.UpdatedAt = time.Now().UTC()
}

// MarkComplete removes the run from both indexes. Call only after the
// terminal artifact (or equivalent store row) exists.
func (r *Registry) MarkComplete(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.byRunID[runID]
	if !ok {
		return
	}
	delete(r.byRunID, runID)
	delete(r.byFingerprint, run.Fingerprint)
}

// LookupByFingerprint returns the active run for a fingerprint, if any.
func (r *Registry) LookupByFingerprint(fingerprint string) (model.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.byFingerprint[fingerprint]; ok {
		return *run, true
	}
	return model.Run{}, false
}

// LookupByRunID returns the active run for a run identifier, if any.
func (r *Registry) LookupByRunID(runID string) (model.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.byRunID[runID]; ok {
		return *run, true
	}
	return model.Run{}, false
}

// Len reports the number of tracked runs. Used by the health endpoint.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byRunID)
}
