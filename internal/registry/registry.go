// Package registry maintains the read-mostly status view over sessions and
// documents for external observers. It is derived from scheduler callbacks
// and the document watcher; it is never a source of truth.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/starford/raido/internal/host"
)

// Status values surfaced to observers.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusGenerating  Status = "generating"
	StatusQueued      Status = "queued"
	StatusWriteback   Status = "writeback"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusUnavailable Status = "unavailable"
)

// SessionState is the derived view of one conversational session.
type SessionState struct {
	SessionID string      `json:"session_id"`
	DocKey    host.DocKey `json:"doc_key,omitempty"`
	Status    Status      `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// DocState is the derived view of one document.
type DocState struct {
	DocKey    host.DocKey `json:"doc_key"`
	Status    Status      `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ChangeFunc observes registry updates, for SSE fan-out.
type ChangeFunc func(scope, id string, status Status)

// Registry guards the derived maps with a RWMutex; writers are the
// scheduler, the watcher, and the session-status endpoint.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]SessionState
	docs     map[host.DocKey]DocState
	onChange ChangeFunc
}

// New creates an empty registry. cb may be nil.
func New(cb ChangeFunc) *Registry {
	return &Registry{
		sessions: make(map[string]SessionState),
		docs:     make(map[host.DocKey]DocState),
		onChange: cb,
	}
}

// SetSession updates a session's derived state.
func (r *Registry) SetSession(sessionID string, docKey host.DocKey, status Status, detail string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	r.sessions[sessionID] = SessionState{
		SessionID: sessionID,
		DocKey:    docKey,
		Status:    status,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange("session", sessionID, status)
	}
}

// SetDocument updates a document's derived state.
func (r *Registry) SetDocument(docKey host.DocKey, status Status, detail string) {
	r.mu.Lock()
	r.docs[docKey] = DocState{
		DocKey:    docKey,
		Status:    status,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange("document", string(docKey), status)
	}
}

// Session returns a session's state.
func (r *Registry) Session(sessionID string) (SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Document returns a document's state.
func (r *Registry) Document(docKey host.DocKey) (DocState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[docKey]
	return d, ok
}

// Sessions returns every session state, ordered by id.
func (r *Registry) Sessions() []SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Documents returns every document state, ordered by key.
func (r *Registry) Documents() []DocState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DocState, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocKey < out[j].DocKey })
	return out
}
