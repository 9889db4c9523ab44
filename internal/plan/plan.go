// Package plan defines the structured edit-plan model and the normalizer
// that turns raw generated text into a validated, repaired plan.
package plan

import (
	"encoding/json"

	"github.com/starford/raido/internal/host"
)

// SchemaVersion is the only plan schema this build accepts. Gating is an
// exact string match; anything else is rejected before a job exists.
const SchemaVersion = "raido/v1"

// Reserved action keys that are never treated as operation parameters.
const (
	keyOp         = "op"
	keyID         = "id"
	keyTitle      = "title"
	keySkipped    = "skipped"
	keySkipReason = "skip_reason"
)

// Plan is a validated, ordered list of actions targeting one host kind.
type Plan struct {
	SchemaVersion string         `json:"schema_version"`
	HostKind      host.Kind      `json:"host_kind"`
	Meta          map[string]any `json:"meta,omitempty"`
	Actions       []Action       `json:"actions"`
}

// Action is one requested mutation. Operation parameters are carried inline
// in the JSON action object next to op/id/title; Params holds them here.
type Action struct {
	Op         string
	ID         string
	Title      string
	Params     map[string]any
	Skipped    bool
	SkipReason string
}

// UnmarshalJSON lifts op/id/title out of the flat action object and keeps
// every remaining field as a parameter.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Action{Params: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case keyOp:
			a.Op, _ = v.(string)
		case keyID:
			a.ID, _ = v.(string)
		case keyTitle:
			a.Title, _ = v.(string)
		case keySkipped:
			a.Skipped, _ = v.(bool)
		case keySkipReason:
			a.SkipReason, _ = v.(string)
		default:
			a.Params[k] = v
		}
	}
	return nil
}

// MarshalJSON flattens parameters back into the action object.
func (a Action) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Params)+4)
	for k, v := range a.Params {
		out[k] = v
	}
	out[keyOp] = a.Op
	if a.ID != "" {
		out[keyID] = a.ID
	}
	if a.Title != "" {
		out[keyTitle] = a.Title
	}
	if a.Skipped {
		out[keySkipped] = true
		out[keySkipReason] = a.SkipReason
	}
	return json.Marshal(out)
}

// Diagnostic levels.
const (
	LevelInfo   = "info"
	LevelRepair = "repair"
	LevelSkip   = "skip"
)

// Diagnostic records one normalizer observation: a soft repair, a skipped
// action, or an informational note. ActionIndex is -1 for plan-level entries.
type Diagnostic struct {
	Level       string `json:"level"`
	ActionIndex int    `json:"action_index"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// NormalizedPlan is a plan that passed gating, with the diagnostics the
// normalizer produced while repairing it.
type NormalizedPlan struct {
	Plan        Plan         `json:"plan"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Repairs counts diagnostics that changed the plan (repairs and skips).
// Zero repairs on a re-normalized plan is the idempotence fixed point.
func (n *NormalizedPlan) Repairs() int {
	c := 0
	for _, d := range n.Diagnostics {
		if d.Level == LevelRepair || d.Level == LevelSkip {
			c++
		}
	}
	return c
}
