// Package artifact persists the terminal result of a run as a durable
// per-run file, plus an optional binary report as a side channel.
//
// Writes are atomic: content goes to a temporary file inside the run's
// directory, is fsynced, and is renamed into place. The rename is the only
// visible state transition, so a concurrent reader either sees the previous
// state or the complete new file, never a partial one.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rift-hq/gateway/internal/contract"
	"github.com/rift-hq/gateway/internal/model"
)

const (
	resultFileName = "results.json"
	reportFileName = "report.pdf"
)

// runIDPattern rejects identifiers that could escape the outputs root.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	// ErrNotFound is returned when no artifact exists for a run.
	ErrNotFound = errors.New("artifact: not found")

	// ErrInvalidArtifact is returned when an on-disk artifact exists but no
	// longer satisfies the result contract. Reported distinctly from
	// ErrNotFound so the resolver can surface the legacy payload.
	ErrInvalidArtifact = errors.New("artifact: stored payload fails result contract")

	// ErrUnsafeRunID is returned for identifiers outside [A-Za-z0-9_-].
	ErrUnsafeRunID = errors.New("artifact: unsafe run identifier")

	// ErrRunIDMismatch is returned when the payload's embedded run_id does
	// not match the identifier it is being stored under.
	ErrRunIDMismatch = errors.New("artifact: payload run_id does not match store path")

	// ErrScoreMismatch is returned when the score breakdown's total is not
	// base + speed_bonus - efficiency_penalty. The schema cannot express
	// arithmetic, so this is checked here.
	ErrScoreMismatch = errors.New("artifact: score total does not match breakdown")
)

// Store reads and writes run artifacts under a single outputs root.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir. The directory is created lazily
// on first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{root: dir, logger: logger}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// Write validates and durably persists the terminal result for runID.
// Validation failures happen before anything touches disk: an unsafe
// identifier, a path/payload run_id mismatch, a contract rejection or a
// broken score invariant all leave the filesystem untouched.
func (s *Store) Write(runID string, result model.RunResult) error {
	if !runIDPattern.MatchString(runID) {
		return fmt.Errorf("%w: %q", ErrUnsafeRunID, runID)
	}
	if result.RunID != runID {
		return fmt.Errorf("%w: payload %q, path %q", ErrRunIDMismatch, result.RunID, runID)
	}
	if !scoreTotalOK(result.Score) {
		return fmt.Errorf("%w: base=%g bonus=%g penalty=%g total=%g",
			ErrScoreMismatch, result.Score.Base, result.Score.SpeedBonus,
			result.Score.EfficiencyPenalty, result.Score.Total)
	}
	if err := contract.MustConform(contract.KindRunResult, result); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal result: %w", err)
	}

	if err := s.atomicWrite(runID, resultFileName, func(f *os.File) error {
		_, werr := f.Write(raw)
		return werr
	}); err != nil {
		return err
	}

	s.logger.Info("artifact written",
		"run_id", runID,
		"final_status", result.FinalStatus,
		"bytes", len(raw),
	)
	return nil
}

// Read loads the artifact for runID and re-validates it against the current
// result contract, guarding against on-disk corruption and schema drift.
// Absent file → ErrNotFound; present-but-nonconforming → ErrInvalidArtifact.
func (s *Store) Read(runID string) (model.RunResult, error) {
	raw, err := s.ReadRaw(runID)
	if err != nil {
		return model.RunResult{}, err
	}

	res, err := contract.ValidateBytes(contract.KindRunResult, raw)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("artifact: validate %s: %w", runID, err)
	}
	if !res.Valid {
		return model.RunResult{}, fmt.Errorf("%w: run %s", ErrInvalidArtifact, runID)
	}

	var result model.RunResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.RunResult{}, fmt.Errorf("%w: run %s: %v", ErrInvalidArtifact, runID, err)
	}
	return result, nil
}

// ReadRaw returns the stored artifact bytes without contract validation.
// The resolver uses this to surface legacy payloads that predate the
// current schema.
func (s *Store) ReadRaw(runID string) ([]byte, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeRunID, runID)
	}
	raw, err := os.ReadFile(filepath.Join(s.runDir(runID), resultFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: read %s: %w", runID, err)
	}
	return raw, nil
}

// WriteReport stores the binary report for runID with the same
// temp-then-rename discipline as the result artifact.
func (s *Store) WriteReport(runID string, r io.Reader) error {
	if !runIDPattern.MatchString(runID) {
		return fmt.Errorf("%w: %q", ErrUnsafeRunID, runID)
	}
	return s.atomicWrite(runID, reportFileName, func(f *os.File) error {
		_, err := io.Copy(f, r)
		return err
	})
}

// OpenReport opens the stored report for streaming and reports its size.
// The caller owns the returned ReadCloser.
func (s *Store) OpenReport(runID string) (io.ReadCloser, int64, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsafeRunID, runID)
	}
	f, err := os.Open(filepath.Join(s.runDir(runID), reportFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("artifact: open report %s: %w", runID, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("artifact: stat report %s: %w", runID, err)
	}
	return f, info.Size(), nil
}

// HasReport reports whether a report exists for runID without opening it.
func (s *Store) HasReport(runID string) bool {
	if !runIDPattern.MatchString(runID) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.runDir(runID), reportFileName))
	return err == nil
}

// atomicWrite writes a file via temp-create, fill, fsync, rename. The temp
// file lives in the run's own directory so the rename never crosses a
// filesystem boundary.
func (s *Store) atomicWrite(runID, name string, fill func(*os.File) error) error {
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: create run dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Best-effort cleanup on any failure path; harmless after rename.
		_ = os.Remove(tmpName)
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("artifact: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("artifact: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("artifact: rename into place: %w", err)
	}
	return nil
}

// scoreTotalOK checks total == base + speed_bonus - efficiency_penalty,
// tolerating float rounding.
func scoreTotalOK(s model.ScoreBreakdown) bool {
	expected := s.Base + s.SpeedBonus - s.EfficiencyPenalty
	return math.Abs(expected-s.Total) < 1e-6
}
