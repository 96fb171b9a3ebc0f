// Package resolver answers status and result queries by consulting an
// ordered chain of sources: the in-memory registry first, the filesystem
// artifact store second, the relational store last.
//
// A tier that has no answer is a miss, not an error. A tier that fails —
// a dead database, an unreadable disk — is logged and skipped, so a
// degraded dependency narrows the answerable set instead of taking the
// whole query surface down. Only exhausting every tier yields ErrNotFound.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/rift-hq/gateway/internal/model"
)

// ErrNotFound is returned when no tier can answer for a run identifier.
var ErrNotFound = errors.New("resolver: run not found")

// StatusTier is one source of run status. A (nil, nil) return is a miss.
type StatusTier interface {
	Name() string
	Status(ctx context.Context, runID string) (*model.RunStatusView, error)
}

// ResultTier is one source of terminal results. A (nil, nil) return is a
// miss.
type ResultTier interface {
	Name() string
	Result(ctx context.Context, runID string) (*model.ResolvedResult, error)
}

// Resolver walks its tiers in construction order.
type Resolver struct {
	statusTiers []StatusTier
	resultTiers []ResultTier
	logger      *slog.Logger

	// Collapses concurrent result lookups for the same run: result
	// resolution can touch disk and the database, and finished runs are
	// exactly the ones dashboards poll hardest.
	group singleflight.Group
}

// New creates a resolver over the given tiers. Tier order is the resolution
// order.
func New(statusTiers []StatusTier, resultTiers []ResultTier, logger *slog.Logger) *Resolver {
	return &Resolver{
		statusTiers: statusTiers,
		resultTiers: resultTiers,
		logger:      logger,
	}
}

// Status resolves the current status of a run, annotated with the tier that
// answered.
func (r *Resolver) Status(ctx context.Context, runID string) (model.RunStatusView, error) {
	for _, tier := range r.statusTiers {
		view, err := tier.Status(ctx, runID)
		if err != nil {
			r.logger.Warn("status tier degraded, continuing",
				"tier", tier.Name(), "run_id", runID, "error", err)
			continue
		}
		if view == nil {
			continue
		}
		view.Source = tier.Name()
		return *view, nil
	}
	return model.RunStatusView{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
}

// Result resolves the terminal result of a run. Concurrent calls for the
// same run share one resolution.
func (r *Resolver) Result(ctx context.Context, runID string) (model.ResolvedResult, error) {
	v, err, _ := r.group.Do(runID, func() (any, error) {
		return r.resolveResult(ctx, runID)
	})
	if err != nil {
		return model.ResolvedResult{}, err
	}
	return v.(model.ResolvedResult), nil
}

func (r *Resolver) resolveResult(ctx context.Context, runID string) (model.ResolvedResult, error) {
	for _, tier := range r.resultTiers {
		resolved, err := tier.Result(ctx, runID)
		if err != nil {
			r.logger.Warn("result tier degraded, continuing",
				"tier", tier.Name(), "run_id", runID, "error", err)
			continue
		}
		if resolved == nil {
			continue
		}
		resolved.Source = tier.Name()
		if resolved.Legacy {
			r.logger.Info("serving legacy result", "tier", tier.Name(), "run_id", runID)
		}
		return *resolved, nil
	}
	return model.ResolvedResult{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
}
