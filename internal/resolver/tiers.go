package resolver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rift-hq/gateway/internal/artifact"
	"github.com/rift-hq/gateway/internal/contract"
	"github.com/rift-hq/gateway/internal/model"
	"github.com/rift-hq/gateway/internal/registry"
	"github.com/rift-hq/gateway/internal/storage"
)

// RegistryTier answers for runs that are still in flight. It never answers
// result queries: the registry drops a run exactly when its terminal
// artifact exists, so a registry hit means there is no result yet.
type RegistryTier struct {
	Registry *registry.Registry
}

func (t *RegistryTier) Name() string { return "registry" }

func (t *RegistryTier) Status(_ context.Context, runID string) (*model.RunStatusView, error) {
	run, ok := t.Registry.LookupByRunID(runID)
	if !ok {
		return nil, nil
	}

	view := &model.RunStatusView{
		RunID:         run.ID,
		Status:        run.Status,
		CurrentNode:   run.CurrentNode,
		Iteration:     run.Iteration,
		MaxIterations: run.MaxIterations,
	}
	if run.MaxIterations > 0 {
		view.ProgressPct = float64(run.Iteration) / float64(run.MaxIterations) * 100
		if view.ProgressPct > 100 {
			view.ProgressPct = 100
		}
	}
	return view, nil
}

func (t *RegistryTier) Result(_ context.Context, _ string) (*model.ResolvedResult, error) {
	return nil, nil
}

// ArtifactTier answers from the filesystem artifact store. An artifact that
// fails the current result contract is surfaced as a legacy payload rather
// than discarded; for status queries such an artifact is a miss, since its
// verdict cannot be trusted.
type ArtifactTier struct {
	Store *artifact.Store
}

func (t *ArtifactTier) Name() string { return "artifact" }

func (t *ArtifactTier) Status(_ context.Context, runID string) (*model.RunStatusView, error) {
	result, err := t.Store.Read(runID)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidArtifact) {
			return nil, nil
		}
		return nil, err
	}

	return &model.RunStatusView{
		RunID:       result.RunID,
		Status:      model.RunStatusFor(result.FinalStatus),
		CurrentNode: "finished",
		ProgressPct: 100,
	}, nil
}

func (t *ArtifactTier) Result(_ context.Context, runID string) (*model.ResolvedResult, error) {
	result, err := t.Store.Read(runID)
	if err == nil {
		return &model.ResolvedResult{Result: &result}, nil
	}
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if !errors.Is(err, artifact.ErrInvalidArtifact) {
		return nil, err
	}

	raw, rawErr := t.Store.ReadRaw(runID)
	if rawErr != nil {
		return nil, rawErr
	}
	return &model.ResolvedResult{Raw: raw, Legacy: true}, nil
}

// DatabaseTier answers from the relational store, reconstructing results
// from run/fix/CI rows. The deepest tier: it survives both a gateway
// restart and a lost outputs volume.
type DatabaseTier struct {
	DB *storage.DB
}

func (t *DatabaseTier) Name() string { return "database" }

func (t *DatabaseTier) Status(ctx context.Context, runID string) (*model.RunStatusView, error) {
	row, err := t.DB.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	view := storage.StatusView(row)
	return &view, nil
}

func (t *DatabaseTier) Result(ctx context.Context, runID string) (*model.ResolvedResult, error) {
	result, err := t.DB.ReconstructResult(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Rows written by older pipeline versions can assemble into a view the
	// current contract rejects (a fix without a commit message, say). Same
	// treatment as an on-disk legacy artifact: tag it, don't hide it.
	if conformErr := contract.MustConform(contract.KindRunResult, result); conformErr != nil {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return nil, marshalErr
		}
		return &model.ResolvedResult{Raw: raw, Legacy: true}, nil
	}
	return &model.ResolvedResult{Result: &result}, nil
}
