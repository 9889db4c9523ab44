// Package scheduler serializes all document mutation. The underlying host
// exposes one process-wide active-document/selection surface, so a single
// global execution mutex guards the running job while each document keeps
// its own FIFO queue. Generation concurrency lives upstream; only the
// writeback path funnels through here.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/executor"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/plan"
	"github.com/starford/raido/internal/registry"
	"github.com/starford/raido/internal/telemetry"
)

// EventFunc observes job transitions, for SSE fan-out.
type EventFunc func(kind string, job JobView)

// Scheduler owns the global execution mutex and the per-document queues.
type Scheduler struct {
	hosts  map[host.Kind]host.Host
	exec   *executor.Executor
	j      journal.Store
	reg    *registry.Registry
	tel    *telemetry.Emitter
	events EventFunc
	logger *slog.Logger
	policy executor.Policy

	mu      sync.Mutex
	queues  map[host.DocKey][]*Job
	jobs    map[string]*Job
	seq     uint64
	running *Job

	// execMu is the single global execution mutex: at most one job is
	// running across all doc keys at any instant.
	execMu sync.Mutex

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config wires the scheduler's collaborators. Events and Telemetry may be
// nil; Policy defaults to continue.
type Config struct {
	Hosts     map[host.Kind]host.Host
	Executor  *executor.Executor
	Journal   journal.Store
	Registry  *registry.Registry
	Telemetry *telemetry.Emitter
	Events    EventFunc
	Logger    *slog.Logger
	Policy    executor.Policy
}

// New creates a stopped scheduler; call Start to begin draining queues.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = executor.PolicyContinue
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		hosts:  cfg.Hosts,
		exec:   cfg.Executor,
		j:      cfg.Journal,
		reg:    cfg.Registry,
		tel:    cfg.Telemetry,
		events: cfg.Events,
		logger: cfg.Logger,
		policy: cfg.Policy,
		queues: make(map[host.DocKey][]*Job),
		jobs:   make(map[string]*Job),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the single run-loop goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runLoop()
}

// Stop drains nothing: queued jobs stay queued, the running job finishes,
// and the loop exits.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// EnqueueRequest is one submission.
type EnqueueRequest struct {
	DocKey   host.DocKey
	HostKind host.Kind
	Plan     plan.Plan
	SourceID string
	// Policy overrides the scheduler default when non-empty.
	Policy executor.Policy
}

// Enqueue validates and queues a job. It rejects unresolvable doc keys,
// unknown hosts, and submissions whose context was already cancelled.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (JobView, error) {
	if err := ctx.Err(); err != nil {
		return JobView{}, fmt.Errorf("scheduler: submission already cancelled: %w", apperr.ErrCancelled)
	}
	kind, _, _, err := host.ParseKey(req.DocKey)
	if err != nil {
		return JobView{}, fmt.Errorf("scheduler: doc_key unresolvable: %w", err)
	}
	if req.HostKind == "" {
		req.HostKind = kind
	}
	if req.HostKind != kind {
		return JobView{}, fmt.Errorf("scheduler: doc_key %s does not belong to host %s", req.DocKey, req.HostKind)
	}
	if _, ok := s.hosts[req.HostKind]; !ok {
		return JobView{}, fmt.Errorf("scheduler: no host registered for kind %s", req.HostKind)
	}
	policy := req.Policy
	if policy == "" {
		policy = s.policy
	}

	job := &Job{
		ID:        uuid.NewString(),
		DocKey:    req.DocKey,
		HostKind:  req.HostKind,
		Plan:      req.Plan,
		SourceID:  req.SourceID,
		Policy:    policy,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.seq++
	job.seq = s.seq
	s.queues[req.DocKey] = append(s.queues[req.DocKey], job)
	s.jobs[job.ID] = job
	view := job.view()
	s.mu.Unlock()

	s.record(job)
	if s.reg != nil {
		s.reg.SetDocument(job.DocKey, registry.StatusQueued, "")
		s.reg.SetSession(job.SourceID, job.DocKey, registry.StatusQueued, "")
	}
	s.emit("job.enqueued", view)
	s.wake()
	return view, nil
}

// CancelQueued synchronously removes all queued (not running) jobs for a
// doc key and returns how many were cancelled. A running job is never
// preempted.
func (s *Scheduler) CancelQueued(docKey host.DocKey) int {
	return s.cancelWhere(func(j *Job) bool { return j.DocKey == docKey })
}

// CancelBySource cancels all queued jobs submitted by a session.
func (s *Scheduler) CancelBySource(sourceID string) int {
	return s.cancelWhere(func(j *Job) bool { return j.SourceID == sourceID })
}

func (s *Scheduler) cancelWhere(match func(*Job) bool) int {
	var cancelled []*Job
	s.mu.Lock()
	for key, q := range s.queues {
		kept := q[:0]
		for _, j := range q {
			if match(j) {
				j.Status = StatusCancelled
				j.Detail = "cancelled before start"
				j.FinishedAt = time.Now().UTC()
				cancelled = append(cancelled, j)
			} else {
				kept = append(kept, j)
			}
		}
		if len(kept) == 0 {
			delete(s.queues, key)
		} else {
			s.queues[key] = kept
		}
	}
	s.mu.Unlock()

	for _, j := range cancelled {
		s.record(j)
		s.emit("job.cancelled", j.view())
	}
	return len(cancelled)
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return j.view(), true
}

// Jobs returns snapshots of every known job, filtered by doc key and
// status when non-empty.
func (s *Scheduler) Jobs(docKey host.DocKey, status Status) []JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobView
	for _, j := range s.jobs {
		if docKey != "" && j.DocKey != docKey {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j.view())
	}
	return out
}

// QueueDepth reports the number of queued jobs for a doc key.
func (s *Scheduler) QueueDepth(docKey host.DocKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[docKey])
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		}
		for {
			job := s.next()
			if job == nil {
				break
			}
			s.runJob(job)
			if s.ctx.Err() != nil {
				return
			}
		}
	}
}

// next pops the globally oldest queued job. FIFO within a doc key follows
// from popping queue heads; total submission order decides between docs.
func (s *Scheduler) next() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best host.DocKey
	var bestSeq uint64
	for key, q := range s.queues {
		if len(q) == 0 {
			continue
		}
		if best == "" || q[0].seq < bestSeq {
			best = key
			bestSeq = q[0].seq
		}
	}
	if best == "" {
		return nil
	}
	q := s.queues[best]
	job := q[0]
	if len(q) == 1 {
		delete(s.queues, best)
	} else {
		s.queues[best] = q[1:]
	}
	return job
}

// runJob executes one job under the global execution mutex. Activation
// failure fails the job immediately with document_not_available and the
// loop advances without retry; one job's error never blocks the queue.
func (s *Scheduler) runJob(job *Job) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.transition(job, StatusRunning, "", "")
	s.emit("job.running", s.snapshot(job))
	if s.reg != nil {
		s.reg.SetDocument(job.DocKey, registry.StatusWriteback, "")
		s.reg.SetSession(job.SourceID, job.DocKey, registry.StatusWriteback, "")
	}
	if s.tel != nil {
		s.tel.Emit("job.started", job.ID, string(job.DocKey), nil)
	}

	h := s.hosts[job.HostKind]
	active, err := h.Activate(s.ctx, job.DocKey)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == "" {
			kind = apperr.KindActivation
		}
		s.finish(job, StatusError, fmt.Sprintf("document not available: %v", err), kind)
		return
	}

	results, failed := s.exec.ExecutePlan(s.ctx, active, job.Plan, job.Policy)
	if cerr := active.Close(); cerr != nil {
		s.logger.Warn("close active document",
			slog.String("job_id", job.ID),
			slog.String("error", cerr.Error()))
	}

	s.mu.Lock()
	job.Results = results
	s.mu.Unlock()

	if failed {
		s.finish(job, StatusError, failureSummary(results), apperr.KindExecution)
		return
	}
	s.finish(job, StatusSuccess, "", "")
}

func failureSummary(results []executor.ActionResult) string {
	n := 0
	last := ""
	for _, r := range results {
		if r.Failed() {
			n++
			last = r.Detail
		}
	}
	return fmt.Sprintf("%d action(s) failed; last: %s", n, last)
}

// transition applies a monotonic status change; regressions are refused.
func (s *Scheduler) transition(job *Job, to Status, detail string, kind apperr.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if statusRank[to] < statusRank[job.Status] {
		s.logger.Error("refusing status regression",
			slog.String("job_id", job.ID),
			slog.String("from", string(job.Status)),
			slog.String("to", string(to)))
		return
	}
	job.Status = to
	job.Detail = detail
	job.ErrorKind = kind
	switch to {
	case StatusRunning:
		job.StartedAt = time.Now().UTC()
		s.running = job
	case StatusSuccess, StatusError, StatusCancelled:
		job.FinishedAt = time.Now().UTC()
		if s.running == job {
			s.running = nil
		}
	}
}

func (s *Scheduler) finish(job *Job, to Status, detail string, kind apperr.Kind) {
	s.transition(job, to, detail, kind)
	view := s.snapshot(job)
	s.record(job)
	if s.reg != nil {
		regStatus := registry.StatusSuccess
		if to != StatusSuccess {
			regStatus = registry.StatusError
		}
		s.reg.SetDocument(job.DocKey, regStatus, detail)
		s.reg.SetSession(job.SourceID, job.DocKey, regStatus, detail)
	}
	if s.tel != nil {
		s.tel.Emit("job.finished", job.ID, string(job.DocKey), map[string]any{
			"status": string(to),
			"detail": detail,
		})
	}
	s.emit("job.finished", view)
	s.logger.Info("job finished",
		slog.String("job_id", job.ID),
		slog.String("doc_key", string(job.DocKey)),
		slog.String("status", string(to)))
}

func (s *Scheduler) snapshot(job *Job) JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return job.view()
}

func (s *Scheduler) record(job *Job) {
	if s.j == nil {
		return
	}
	s.mu.Lock()
	row := journal.JobRow{
		JobID:      job.ID,
		DocKey:     string(job.DocKey),
		HostKind:   string(job.HostKind),
		SourceID:   job.SourceID,
		Status:     string(job.Status),
		Detail:     job.Detail,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	s.mu.Unlock()
	if err := s.j.RecordJob(row); err != nil {
		s.logger.Warn("journal job record", slog.String("job_id", row.JobID), slog.String("error", err.Error()))
	}
	if s.tel != nil && row.Status == string(StatusQueued) {
		s.tel.Emit("job.enqueued", row.JobID, row.DocKey, map[string]any{"source_id": row.SourceID})
	}
}

func (s *Scheduler) emit(kind string, view JobView) {
	if s.events != nil {
		s.events(kind, view)
	}
}
