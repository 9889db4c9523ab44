package api

import (
	"encoding/json"

	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/registry"
	"github.com/starford/raido/internal/scheduler"
)

// SubmitPlanRequest is the request body for submitting a plan. Either input
// (raw agent output, JSON extracted from surrounding prose) or plan (an
// explicit plan object) must be present.
type SubmitPlanRequest struct {
	Input    string          `json:"input,omitempty"`
	Plan     json.RawMessage `json:"plan,omitempty"`
	DocKey   string          `json:"doc_key" validate:"required"`
	SourceID string          `json:"source_id,omitempty"`
	Policy   string          `json:"policy,omitempty"`
}

// JobListResponse wraps job listings.
type JobListResponse struct {
	Jobs  []scheduler.JobView `json:"jobs" validate:"required"`
	Total int                 `json:"total" validate:"required"`
}

// CancelResponse reports how many queued jobs a cancellation removed.
type CancelResponse struct {
	Cancelled int `json:"cancelled" validate:"required"`
}

// BlockListResponse wraps the live blocks of one document.
type BlockListResponse struct {
	DocKey string             `json:"doc_key" validate:"required"`
	Blocks []journal.BlockRow `json:"blocks" validate:"required"`
}

// RollbackRequest asks for one block to be restored from its snapshot.
type RollbackRequest struct {
	DocKey   string `json:"doc_key" validate:"required"`
	BlockID  string `json:"block_id" validate:"required"`
	SourceID string `json:"source_id,omitempty"`
}

// SessionStatusRequest reports a session transition from the generation
// layer, which runs outside this service.
type SessionStatusRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	DocKey   string `json:"doc_key,omitempty"`
	Status   string `json:"status" validate:"required"`
}

// SessionListResponse wraps session states.
type SessionListResponse struct {
	Sessions []registry.SessionState `json:"sessions" validate:"required"`
}

// DocumentListResponse wraps document states.
type DocumentListResponse struct {
	Documents []registry.DocState `json:"documents" validate:"required"`
}
