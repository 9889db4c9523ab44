package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/blockstore"
	"github.com/starford/raido/internal/executor"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/plan"
	"github.com/starford/raido/internal/registry"
	"github.com/starford/raido/internal/scheduler"
)

// Service coordinates the normalizer, scheduler, and stores for the API
// layer. The MCP server drives the same service, so both surfaces share
// one set of semantics.
type Service struct {
	sched  *scheduler.Scheduler
	prober *host.Prober
	blocks *blockstore.Store
	reg    *registry.Registry
	j      journal.Store
}

// NewService creates a new API service.
func NewService(sched *scheduler.Scheduler, prober *host.Prober, blocks *blockstore.Store, reg *registry.Registry, j journal.Store) *Service {
	return &Service{sched: sched, prober: prober, blocks: blocks, reg: reg, j: j}
}

// SubmitResult is the outcome of a plan submission: the queued job plus the
// diagnostics the normalizer produced while repairing the plan.
type SubmitResult struct {
	Job         scheduler.JobView `json:"job"`
	Diagnostics []plan.Diagnostic `json:"diagnostics"`
}

// Submission is one plan submission. Exactly one of Input (free-form agent
// output) or Plan (an already-parsed plan object) must be set.
type Submission struct {
	Input    string
	Plan     json.RawMessage
	DocKey   host.DocKey
	SourceID string
	Policy   string
}

// SubmitPlan normalizes a submission and enqueues it. Gate failures come
// back as schema_error; validation of the target document happens at
// enqueue time.
func (s *Service) SubmitPlan(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if sub.DocKey == "" {
		return nil, apperr.New(apperr.KindSchema, "doc_key is required")
	}
	policy, err := executor.ParsePolicy(sub.Policy)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "failure policy", err)
	}

	var np *plan.NormalizedPlan
	switch {
	case len(sub.Plan) > 0:
		np, err = plan.NormalizeRaw(sub.Plan)
	case sub.Input != "":
		np, err = plan.NormalizeText(sub.Input)
	default:
		return nil, apperr.New(apperr.KindSchema, "either input or plan is required")
	}
	if err != nil {
		return nil, err
	}

	assignArtifactIDs(&np.Plan, sub.SourceID, sub.DocKey)

	job, err := s.sched.Enqueue(ctx, scheduler.EnqueueRequest{
		DocKey:   sub.DocKey,
		HostKind: np.Plan.HostKind,
		Plan:     np.Plan,
		SourceID: sub.SourceID,
		Policy:   policy,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Job: job, Diagnostics: np.Diagnostics}, nil
}

// assignArtifactIDs gives every writing action a stable identity derived
// from the submission source, so re-submitting the same agent message
// upserts the same blocks instead of duplicating content. Actions that
// already carry an id keep it; without a source there is nothing stable to
// derive from and the actions stay free-form appends.
func assignArtifactIDs(p *plan.Plan, sourceID string, docKey host.DocKey) {
	if sourceID == "" {
		return
	}
	for i := range p.Actions {
		a := &p.Actions[i]
		if a.ID != "" || a.Skipped {
			continue
		}
		seed := fmt.Sprintf("raido|%s|%s|%d|%s", sourceID, docKey, i, a.Op)
		a.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
	}
}

// Job returns one job's snapshot.
func (s *Service) Job(id string) (scheduler.JobView, bool) {
	return s.sched.Job(id)
}

// Jobs lists job snapshots filtered by doc key and status.
func (s *Service) Jobs(docKey host.DocKey, status string) []scheduler.JobView {
	return s.sched.Jobs(docKey, scheduler.Status(status))
}

// CancelQueued cancels queued jobs by doc key or source id; at least one
// filter must be given so a stray request cannot wipe the whole queue.
func (s *Service) CancelQueued(docKey host.DocKey, sourceID string) (int, error) {
	switch {
	case docKey != "":
		return s.sched.CancelQueued(docKey), nil
	case sourceID != "":
		return s.sched.CancelBySource(sourceID), nil
	}
	return 0, apperr.New(apperr.KindSchema, "doc_key or source_id is required")
}

// Capabilities probes (or returns the memoized report for) a host kind.
func (s *Service) Capabilities(kindName string) (*host.CapabilityReport, error) {
	kind, err := host.ParseKind(kindName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "host kind", err)
	}
	return s.prober.Probe(kind)
}

// Blocks lists the live (non-tombstoned) blocks recorded for a document.
func (s *Service) Blocks(docKey host.DocKey) ([]journal.BlockRow, error) {
	if _, _, _, err := host.ParseKey(docKey); err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "doc_key", err)
	}
	return s.blocks.List(docKey)
}

// RollbackBlock enqueues a rollback job so the document mutation runs under
// the scheduler's execution mutex like any other writeback.
func (s *Service) RollbackBlock(ctx context.Context, docKey host.DocKey, blockID, sourceID string) (scheduler.JobView, error) {
	kind, _, _, err := host.ParseKey(docKey)
	if err != nil {
		return scheduler.JobView{}, apperr.Wrap(apperr.KindSchema, "doc_key", err)
	}
	if blockID == "" {
		return scheduler.JobView{}, apperr.New(apperr.KindSchema, "block_id is required")
	}
	return s.sched.Enqueue(ctx, scheduler.EnqueueRequest{
		DocKey:   docKey,
		HostKind: kind,
		SourceID: sourceID,
		Plan: plan.Plan{
			SchemaVersion: plan.SchemaVersion,
			HostKind:      kind,
			Actions: []plan.Action{{
				Op:     "rollback_block",
				ID:     blockID,
				Params: map[string]any{"block_id": blockID},
			}},
		},
	})
}

// MarkSession records a session status reported by the generation layer.
// Generation happens outside this process, so only the pre-queue statuses
// may be set from outside; scheduler- and watcher-owned statuses are
// refused.
func (s *Service) MarkSession(sourceID string, docKey host.DocKey, status string) (registry.SessionState, error) {
	if sourceID == "" {
		return registry.SessionState{}, apperr.New(apperr.KindSchema, "source_id is required")
	}
	st := registry.Status(status)
	if st != registry.StatusGenerating && st != registry.StatusIdle {
		return registry.SessionState{}, apperr.Newf(apperr.KindSchema, "status %q cannot be reported externally", status)
	}
	if docKey != "" {
		if _, _, _, err := host.ParseKey(docKey); err != nil {
			return registry.SessionState{}, apperr.Wrap(apperr.KindSchema, "doc_key", err)
		}
	}
	s.reg.SetSession(sourceID, docKey, st, "")
	state, _ := s.reg.Session(sourceID)
	return state, nil
}

// Sessions returns every session state.
func (s *Service) Sessions() []registry.SessionState { return s.reg.Sessions() }

// Documents returns every document state.
func (s *Service) Documents() []registry.DocState { return s.reg.Documents() }
