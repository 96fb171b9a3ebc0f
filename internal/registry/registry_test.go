package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/rift-hq/gateway/internal/model"
)

func testRun(id, fingerprint string) model.Run {
	return model.Run{
		ID:            id,
		Fingerprint:   fingerprint,
		Status:        model.RunStatusQueued,
		CurrentNode:   "queued",
		MaxIterations: 7,
	}
}

func TestRegisterQueuedAndLookup(t *testing.T) {
	r := New()
	run := testRun("run-1", "fp-1")

	if err := r.RegisterQueued(run); err != nil {
		t.Fatalf("RegisterQueued: %v", err)
	}

	byFP, ok := r.LookupByFingerprint("fp-1")
	if !ok || byFP.ID != "run-1" {
		t.Fatalf("LookupByFingerprint = %+v, %v", byFP, ok)
	}
	byID, ok := r.LookupByRunID("run-1")
	if !ok || byID.Fingerprint != "fp-1" {
		t.Fatalf("LookupByRunID = %+v, %v", byID, ok)
	}

	if err := r.RegisterQueued(testRun("run-2", "fp-1")); !errors.Is(err, ErrFingerprintActive) {
		t.Fatalf("expected ErrFingerprintActive, got %v", err)
	}
}

func TestLookupMissIsNotAnError(t *testing.T) {
	r := New()
	if _, ok := r.LookupByFingerprint("absent"); ok {
		t.Fatal("expected miss")
	}
	if _, ok := r.LookupByRunID("absent"); ok {
		t.Fatal("expected miss")
	}
}

func TestMarkRunningAndProgress(t *testing.T) {
	r := New()
	if err := r.RegisterQueued(testRun("run-1", "fp-1")); err != nil {
		t.Fatal(err)
	}

	r.MarkRunning("run-1")
	run, _ := r.LookupByRunID("run-1")
	if run.Status != model.RunStatusRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}

	r.UpdateProgress("run-1", "fix_generator", 3)
	run, _ = r.LookupByRunID("run-1")
	if run.CurrentNode != "fix_generator" || run.Iteration != 3 {
		t.Fatalf("progress not recorded: %+v", run)
	}

	// Iteration never regresses.
	r.UpdateProgress("run-1", "test_runner", 2)
	run, _ = r.LookupByRunID("run-1")
	if run.Iteration != 3 {
		t.Fatalf("iteration regressed to %d", run.Iteration)
	}

	// Absent runs are a no-op, not a panic.
	r.MarkRunning("ghost")
	r.UpdateProgress("ghost", "node", 1)
}

func TestMarkCompleteFreesFingerprint(t *testing.T) {
	r := New()
	if err := r.RegisterQueued(testRun("run-1", "fp-1")); err != nil {
		t.Fatal(err)
	}

	r.MarkComplete("run-1")
	if _, ok := r.LookupByRunID("run-1"); ok {
		t.Fatal("run still tracked after MarkComplete")
	}
	if _, ok := r.LookupByFingerprint("fp-1"); ok {
		t.Fatal("fingerprint still occupied after MarkComplete")
	}

	// Identical resubmission is now accepted as a new run.
	if err := r.RegisterQueued(testRun("run-3", "fp-1")); err != nil {
		t.Fatalf("resubmission after completion rejected: %v", err)
	}

	// Completing twice is harmless.
	r.MarkComplete("run-1")
}

func TestRegisterOrExistingCollapsesConcurrentSubmissions(t *testing.T) {
	r := New()

	const goroutines = 32
	var wg sync.WaitGroup
	registered := make([]bool, goroutines)
	ids := make([]string, goroutines)

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, created := r.RegisterOrExisting(testRun("run-"+string(rune('a'+i)), "shared-fp"))
			registered[i] = created
			ids[i] = run.ID
		}()
	}
	wg.Wait()

	winners := 0
	for _, created := range registered {
		if created {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d submissions registered, want exactly 1", winners)
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d runs, want 1", r.Len())
	}

	// Every caller observed the same winning run identifier.
	for i := 1; i < goroutines; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d saw run %s, caller 0 saw %s", i, ids[i], ids[0])
		}
	}
}

func TestStoredRunIsACopy(t *testing.T) {
	r := New()
	run := testRun("run-1", "fp-1")
	if err := r.RegisterQueued(run); err != nil {
		t.Fatal(err)
	}

	run.Status = model.RunStatusFailed // mutate the caller's copy
	stored, _ := r.LookupByRunID("run-1")
	if stored.Status != model.RunStatusQueued {
		t.Fatal("registry shares memory with caller")
	}
}
