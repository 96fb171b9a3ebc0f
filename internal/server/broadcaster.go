package server

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rift-hq/gateway/internal/contract"
	"github.com/rift-hq/gateway/internal/model"
)

// Broadcaster validates telemetry events against their contracts and fans
// them out to the run's room. Events come from trusted pipeline stages, so a
// validation failure here is an internal contract violation — a producer
// bug — never bad user input.
type Broadcaster struct {
	broker *Broker
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster over the given broker.
func NewBroadcaster(broker *Broker, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{broker: broker, logger: logger}
}

// Thought broadcasts a pipeline progress note.
func (bc *Broadcaster) Thought(ev model.ThoughtEvent) error {
	return bc.publish(contract.KindThoughtEvent, ev.RunID, ev)
}

// FixApplied broadcasts a fix attempt.
func (bc *Broadcaster) FixApplied(ev model.FixAppliedEvent) error {
	return bc.publish(contract.KindFixAppliedEvent, ev.RunID, ev)
}

// CIUpdate broadcasts a CI iteration state change.
func (bc *Broadcaster) CIUpdate(ev model.CIUpdateEvent) error {
	return bc.publish(contract.KindCIUpdateEvent, ev.RunID, ev)
}

// ResourceTick broadcasts a container resource sample.
func (bc *Broadcaster) ResourceTick(ev model.ResourceTickEvent) error {
	return bc.publish(contract.KindResourceTickEvent, ev.RunID, ev)
}

// RunComplete broadcasts a terminal verdict.
func (bc *Broadcaster) RunComplete(ev model.RunCompleteEvent) error {
	return bc.publish(contract.KindRunCompleteEvent, ev.RunID, ev)
}

// PublishRaw validates pre-marshaled event bytes against the contract for
// kind and fans them out. Used by the ingest endpoint, which receives events
// as raw JSON and must not lose unknown-field detection to an intermediate
// decode.
func (bc *Broadcaster) PublishRaw(kind contract.Kind, runID string, raw []byte) error {
	res, err := contract.ValidateBytes(kind, raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", contract.ErrInternalContract, kind, err)
	}
	if !res.Valid {
		bc.logger.Error("event rejected by contract",
			"kind", kind, "run_id", runID, "errors", res.Errors)
		return fmt.Errorf("%w: %s", contract.ErrInternalContract, kind)
	}

	bc.broker.Publish(RoomForRun(runID), string(kind), raw)
	return nil
}

// publish validates a typed event and fans it out.
func (bc *Broadcaster) publish(kind contract.Kind, runID string, ev any) error {
	if err := contract.MustConform(kind, ev); err != nil {
		bc.logger.Error("event rejected by contract", "kind", kind, "run_id", runID, "error", err)
		return err
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", contract.ErrInternalContract, kind, err)
	}
	bc.broker.Publish(RoomForRun(runID), string(kind), raw)
	return nil
}
