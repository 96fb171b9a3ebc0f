// Package contract validates every payload that crosses the gateway
// boundary against a fixed set of JSON Schemas.
//
// The schema set is closed: one schema per Kind, embedded at build time and
// compiled exactly once at process start. Validation is strict — unknown
// fields, wrong primitive types and out-of-range values are all rejected.
//
// Two failure surfaces are deliberately kept apart. A payload that does not
// match its schema is an ordinary outcome reported through Result. The
// gateway itself attempting to emit or persist a non-conforming payload is
// a bug, reported through MustConform as ErrInternalContract.
package contract

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Kind identifies one payload contract. The set is a closed enumeration;
// there is no registration mechanism at runtime.
type Kind string

const (
	KindSubmissionRequest   Kind = "submission_request"
	KindSubmissionAccepted  Kind = "submission_accepted"
	KindDuplicateSubmission Kind = "duplicate_submission"
	KindErrorEnvelope       Kind = "error_envelope"
	KindRunResult           Kind = "run_result"
	KindThoughtEvent        Kind = "thought_event"
	KindFixAppliedEvent     Kind = "fix_applied_event"
	KindCIUpdateEvent       Kind = "ci_update_event"
	KindResourceTickEvent   Kind = "resource_tick_event"
	KindRunCompleteEvent    Kind = "run_complete_event"
)

var kinds = []Kind{
	KindSubmissionRequest,
	KindSubmissionAccepted,
	KindDuplicateSubmission,
	KindErrorEnvelope,
	KindRunResult,
	KindThoughtEvent,
	KindFixAppliedEvent,
	KindCIUpdateEvent,
	KindResourceTickEvent,
	KindRunCompleteEvent,
}

// EventKind resolves an event kind name from the ingest envelope to its
// contract Kind. Returns false for anything that is not one of the five
// broadcast event kinds.
func EventKind(name string) (Kind, bool) {
	switch Kind(name) {
	case KindThoughtEvent, KindFixAppliedEvent, KindCIUpdateEvent,
		KindResourceTickEvent, KindRunCompleteEvent:
		return Kind(name), true
	}
	return "", false
}

// ErrInternalContract marks a payload the gateway itself produced that
// fails its own schema. Always a bug, never bad input.
var ErrInternalContract = errors.New("contract: internal contract violation")

// ErrUnknownKind is returned for a Kind outside the closed set.
var ErrUnknownKind = errors.New("contract: unknown payload kind")

//go:embed schemas/*.json
var schemaFS embed.FS

// compiled holds one schema per kind, built once at init.
var compiled = func() map[Kind]*gojsonschema.Schema {
	m := make(map[Kind]*gojsonschema.Schema, len(kinds))
	for _, k := range kinds {
		raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
		if err != nil {
			panic(fmt.Sprintf("contract: missing embedded schema for %s: %v", k, err))
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("contract: compile schema for %s: %v", k, err))
		}
		m[k] = s
	}
	return m
}()

// FieldError is one validation failure at a specific field path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating a payload.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Validate checks payload against the schema for kind. A data mismatch is
// reported through the Result, never as an error; the error return is
// reserved for unknown kinds and unmarshalable payloads.
func Validate(kind Kind, payload any) (*Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("contract: marshal payload for %s: %w", kind, err)
	}
	return ValidateBytes(kind, raw)
}

// ValidateBytes checks raw JSON against the schema for kind. Used on inbound
// request bodies so that unknown fields are caught before any decode into a
// Go struct can silently drop them.
func ValidateBytes(kind Kind, raw []byte) (*Result, error) {
	schema, ok := compiled[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// Not-JSON input is a data mismatch, not a validator fault.
		return &Result{Valid: false, Errors: []FieldError{
			{Field: "(root)", Message: "body is not valid JSON"},
		}}, nil
	}
	if res.Valid() {
		return &Result{Valid: true}, nil
	}

	out := &Result{Errors: make([]FieldError, 0, len(res.Errors()))}
	for _, desc := range res.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		out.Errors = append(out.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return out, nil
}

// MustConform validates an outbound or to-be-persisted payload and wraps any
// rejection in ErrInternalContract. Callers treat a non-nil return as a
// programming error and respond with a 5xx, never a 4xx.
func MustConform(kind Kind, payload any) error {
	res, err := Validate(kind, payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInternalContract, kind, err)
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s: %s", ErrInternalContract, kind, res.summary())
	}
	return nil
}

func (r *Result) summary() string {
	if len(r.Errors) == 0 {
		return "payload rejected"
	}
	first := r.Errors[0]
	if len(r.Errors) == 1 {
		return fmt.Sprintf("%s: %s", first.Field, first.Message)
	}
	return fmt.Sprintf("%s: %s (and %d more)", first.Field, first.Message, len(r.Errors)-1)
}
