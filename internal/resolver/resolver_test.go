package resolver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rift-hq/gateway/internal/artifact"
	"github.com/rift-hq/gateway/internal/model"
	"github.com/rift-hq/gateway/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTier serves canned answers and counts calls.
type stubTier struct {
	name    string
	mu      sync.Mutex
	calls   int
	status  *model.RunStatusView
	result  *model.ResolvedResult
	failErr error
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) Status(context.Context, string) (*model.RunStatusView, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	return s.status, nil
}

func (s *stubTier) Result(context.Context, string) (*model.ResolvedResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	return s.result, nil
}

func (s *stubTier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestStatusFirstTierWins(t *testing.T) {
	first := &stubTier{name: "first", status: &model.RunStatusView{RunID: "run-1", Status: model.RunStatusRunning}}
	second := &stubTier{name: "second", status: &model.RunStatusView{RunID: "run-1", Status: model.RunStatusPassed}}
	r := New([]StatusTier{first, second}, nil, discardLogger())

	view, err := r.Status(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != model.RunStatusRunning || view.Source != "first" {
		t.Fatalf("view = %+v", view)
	}
	if second.callCount() != 0 {
		t.Fatal("lower tier consulted despite upper-tier hit")
	}
}

func TestStatusMissFallsThrough(t *testing.T) {
	first := &stubTier{name: "first"} // always misses
	second := &stubTier{name: "second", status: &model.RunStatusView{RunID: "run-1", Status: model.RunStatusPassed}}
	r := New([]StatusTier{first, second}, nil, discardLogger())

	view, err := r.Status(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Source != "second" {
		t.Fatalf("source = %s, want second", view.Source)
	}
}

func TestStatusDegradedTierIsSkippedNotFatal(t *testing.T) {
	broken := &stubTier{name: "broken", failErr: errors.New("connection refused")}
	healthy := &stubTier{name: "healthy", status: &model.RunStatusView{RunID: "run-1", Status: model.RunStatusPassed}}
	r := New([]StatusTier{broken, healthy}, nil, discardLogger())

	view, err := r.Status(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("degraded upper tier must not fail the query: %v", err)
	}
	if view.Source != "healthy" {
		t.Fatalf("source = %s", view.Source)
	}
}

func TestStatusExhaustionIsNotFound(t *testing.T) {
	r := New([]StatusTier{&stubTier{name: "a"}, &stubTier{name: "b"}}, nil, discardLogger())

	_, err := r.Status(context.Background(), "run-absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResultLegacyTagPreserved(t *testing.T) {
	legacy := &stubTier{name: "artifact", result: &model.ResolvedResult{Raw: []byte(`{"old":true}`), Legacy: true}}
	r := New(nil, []ResultTier{legacy}, discardLogger())

	got, err := r.Result(context.Background(), "run-old")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Legacy || got.Source != "artifact" {
		t.Fatalf("resolved = %+v", got)
	}
}

func TestResultAllTiersFailingIsNotFound(t *testing.T) {
	r := New(nil, []ResultTier{
		&stubTier{name: "a", failErr: errors.New("disk gone")},
		&stubTier{name: "b", failErr: errors.New("db gone")},
	}, discardLogger())

	_, err := r.Result(context.Background(), "run-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after exhaustion, got %v", err)
	}
}

func TestRegistryTierStatus(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterQueued(model.Run{
		ID: "run-1", Fingerprint: "fp-1", Status: model.RunStatusQueued,
		CurrentNode: "queued", MaxIterations: 7,
	}); err != nil {
		t.Fatal(err)
	}
	reg.MarkRunning("run-1")
	reg.UpdateProgress("run-1", "fix_generator", 3)

	tier := &RegistryTier{Registry: reg}
	view, err := tier.Status(context.Background(), "run-1")
	if err != nil || view == nil {
		t.Fatalf("Status = %+v, %v", view, err)
	}
	if view.Status != model.RunStatusRunning || view.Iteration != 3 {
		t.Fatalf("view = %+v", view)
	}
	if view.ProgressPct < 42 || view.ProgressPct > 43 {
		t.Fatalf("progress_pct = %g, want ~42.86", view.ProgressPct)
	}

	// In-flight runs never have a result.
	if res, err := tier.Result(context.Background(), "run-1"); res != nil || err != nil {
		t.Fatalf("Result = %+v, %v", res, err)
	}

	// Unknown run is a miss, not an error.
	if view, err := tier.Status(context.Background(), "ghost"); view != nil || err != nil {
		t.Fatalf("Status(ghost) = %+v, %v", view, err)
	}
}

func TestArtifactTierLegacySurfacing(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewStore(dir, discardLogger())
	tier := &ArtifactTier{Store: store}

	// Absent artifact: miss on both surfaces.
	if view, err := tier.Status(context.Background(), "run-old"); view != nil || err != nil {
		t.Fatalf("Status = %+v, %v", view, err)
	}
	if res, err := tier.Result(context.Background(), "run-old"); res != nil || err != nil {
		t.Fatalf("Result = %+v, %v", res, err)
	}

	// Pre-schema artifact written by an earlier deployment.
	legacy := []byte(`{"run_id":"run-old","status":"done","score":91}`)
	if err := os.MkdirAll(filepath.Join(dir, "run-old"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run-old", "results.json"), legacy, 0o644); err != nil {
		t.Fatal(err)
	}

	// Status cannot trust the verdict: still a miss.
	if view, err := tier.Status(context.Background(), "run-old"); view != nil || err != nil {
		t.Fatalf("Status = %+v, %v", view, err)
	}

	// Result surfaces the raw bytes, tagged legacy.
	res, err := tier.Result(context.Background(), "run-old")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || !res.Legacy || !bytes.Equal(res.Raw, legacy) {
		t.Fatalf("resolved = %+v", res)
	}
}
