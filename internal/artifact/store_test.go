package artifact

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rift-hq/gateway/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validResult(runID string) model.RunResult {
	return model.RunResult{
		RunID:         runID,
		RepoURL:       "https://github.com/rift-hq/sample-repo",
		TeamName:      "RIFT ORGANISERS",
		LeaderName:    "Saiyam Kumar",
		BranchName:    "RIFT_ORGANISERS_SAIYAM_KUMAR_AI_Fix",
		FinalStatus:   model.FinalStatusPassed,
		TotalFailures: 3,
		TotalFixes:    3,
		TotalTimeSecs: 412.5,
		Score: model.ScoreBreakdown{
			Base:              70,
			SpeedBonus:        12.5,
			EfficiencyPenalty: 2.5,
			Total:             80,
		},
		Fixes: []model.FixRow{
			{
				File:          "src/app.py",
				BugType:       model.BugTypeSyntax,
				LineNumber:    42,
				CommitMessage: "[AI-AGENT] fix unbalanced parenthesis in app.py",
				Status:        "FIXED",
			},
		},
		CILog: []model.CIRow{
			{Iteration: 1, Status: model.CIStatusFailed, Timestamp: "2026-02-14T10:00:00Z", Regression: false},
			{Iteration: 2, Status: model.CIStatusPassed, Timestamp: "2026-02-14T10:04:30Z", Regression: false},
		},
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	s := testStore(t)
	want := validResult("run-abc123")

	if err := s.Write("run-abc123", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("run-abc123")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestWriteRunIDMismatchNeverTouchesDisk(t *testing.T) {
	s := testStore(t)
	result := validResult("run-other")

	err := s.Write("run-abc123", result)
	if !errors.Is(err, ErrRunIDMismatch) {
		t.Fatalf("expected ErrRunIDMismatch, got %v", err)
	}

	entries, rerr := os.ReadDir(s.root)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected write left %d entries on disk", len(entries))
	}
}

func TestWriteRejectsUnsafeRunID(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"../escape", "a/b", "", "run id", "run.id"} {
		r := validResult(id)
		if err := s.Write(id, r); !errors.Is(err, ErrUnsafeRunID) {
			t.Errorf("Write(%q): expected ErrUnsafeRunID, got %v", id, err)
		}
	}
}

func TestWriteRejectsBrokenScoreTotal(t *testing.T) {
	s := testStore(t)
	result := validResult("run-abc123")
	result.Score.Total = 99 // base + bonus - penalty is 80

	if err := s.Write("run-abc123", result); !errors.Is(err, ErrScoreMismatch) {
		t.Fatalf("expected ErrScoreMismatch, got %v", err)
	}
}

func TestWriteRejectsNonConformingPayload(t *testing.T) {
	s := testStore(t)
	result := validResult("run-abc123")
	result.FinalStatus = "passed" // artifacts carry the uppercase spelling

	err := s.Write("run-abc123", result)
	if err == nil {
		t.Fatal("expected contract rejection")
	}
	if _, rerr := s.Read("run-abc123"); !errors.Is(rerr, ErrNotFound) {
		t.Fatalf("rejected write left an artifact behind: %v", rerr)
	}
}

func TestWriteIsIdempotentOverwrite(t *testing.T) {
	s := testStore(t)
	first := validResult("run-abc123")
	if err := s.Write("run-abc123", first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.FinalStatus = model.FinalStatusFailed
	if err := s.Write("run-abc123", second); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.Read("run-abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got.FinalStatus != model.FinalStatusFailed {
		t.Fatalf("read stale artifact after overwrite: %s", got.FinalStatus)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Read("run-absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ReadRaw("run-absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadRaw: expected ErrNotFound, got %v", err)
	}
}

func TestReadLegacyArtifactIsInvalidNotMissing(t *testing.T) {
	s := testStore(t)

	// A pre-schema artifact written by an earlier deployment.
	legacy := []byte(`{"run_id":"run-old","status":"done","score":91}`)
	dir := filepath.Join(s.root, "run-old")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, resultFileName), legacy, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Read("run-old"); !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("expected ErrInvalidArtifact, got %v", err)
	}

	// The raw bytes are still reachable for legacy surfacing.
	raw, err := s.ReadRaw("run-old")
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if !bytes.Equal(raw, legacy) {
		t.Fatal("ReadRaw did not return the stored bytes verbatim")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := testStore(t)
	if err := s.Write("run-abc123", validResult("run-abc123")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "run-abc123"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file %s left behind", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("run dir holds %d entries, want only the artifact", len(entries))
	}
}

func TestReportSideChannel(t *testing.T) {
	s := testStore(t)
	pdf := []byte("%PDF-1.7\nfake report body")

	if s.HasReport("run-abc123") {
		t.Fatal("report reported present before write")
	}
	if _, _, err := s.OpenReport("run-abc123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.WriteReport("run-abc123", bytes.NewReader(pdf)); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if !s.HasReport("run-abc123") {
		t.Fatal("report missing after write")
	}

	rc, size, err := s.OpenReport("run-abc123")
	if err != nil {
		t.Fatalf("OpenReport: %v", err)
	}
	defer rc.Close()

	if size != int64(len(pdf)) {
		t.Fatalf("size = %d, want %d", size, len(pdf))
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pdf) {
		t.Fatal("report bytes mismatch")
	}
}

func TestReportDoesNotImplyResult(t *testing.T) {
	s := testStore(t)
	if err := s.WriteReport("run-abc123", strings.NewReader("pdf")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read("run-abc123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("report write must not create a result artifact: %v", err)
	}
}
