// Package executor runs validated actions against an activated document.
// Dispatch is a static table keyed by (host kind, op); ops with a fallback
// chain are attempted strategy by strategy, and the winning strategy is
// always recorded for observability.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/raido/internal/blockstore"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/plan"
)

// Action result statuses.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// ActionResult is the structured per-action outcome.
type ActionResult struct {
	Op           string        `json:"op"`
	ID           string        `json:"id,omitempty"`
	Status       Status        `json:"status"`
	Detail       string        `json:"detail,omitempty"`
	StrategyUsed host.Strategy `json:"strategy_used,omitempty"`
}

// Failed reports whether the action failed fatally. A degraded action
// succeeded through a fallback and does not fail its job.
func (r ActionResult) Failed() bool { return r.Status == StatusError }

// Policy is the per-job partial-failure policy.
type Policy string

const (
	// PolicyContinue runs remaining actions after a failure and
	// aggregates per-action outcomes. This is the default.
	PolicyContinue Policy = "continue"
	// PolicyAbortAll stops at the first fatal action failure.
	PolicyAbortAll Policy = "abort_all"
)

// ParsePolicy validates a policy string, defaulting empty to continue.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicyContinue, nil
	case PolicyContinue, PolicyAbortAll:
		return Policy(s), nil
	}
	return "", fmt.Errorf("executor: unknown failure policy %q", s)
}

// handler executes one strategy attempt for an action. It reports whether
// the outcome is degraded (the strategy stood in for the real thing).
type handler func(ctx context.Context, e *Executor, active host.ActiveDocument, a plan.Action, strategy host.Strategy) (degraded bool, err error)

type dispatchKey struct {
	kind host.Kind
	op   string
}

// Executor holds the dependencies handlers need.
type Executor struct {
	prober         *host.Prober
	blocks         *blockstore.Store
	client         *http.Client
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// Config tunes executor behavior.
type Config struct {
	// AttemptTimeout bounds a single fallback-chain attempt (it is the
	// network budget of a download strategy, not a whole-job timeout).
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// New creates an Executor.
func New(prober *host.Prober, blocks *blockstore.Store, cfg Config) *Executor {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		prober:         prober,
		blocks:         blocks,
		client:         cfg.HTTPClient,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         cfg.Logger,
	}
}

// Blocks exposes the block store for handlers and the scheduler.
func (e *Executor) Blocks() *blockstore.Store { return e.blocks }

// ExecuteAction dispatches a single action. It never panics on unknown
// input: an op absent from the table yields an unsupported_op error result.
func (e *Executor) ExecuteAction(ctx context.Context, active host.ActiveDocument, a plan.Action) ActionResult {
	res := ActionResult{Op: a.Op, ID: a.ID}

	if a.Skipped {
		res.Status = StatusSkipped
		res.Detail = a.SkipReason
		return res
	}

	kind := active.Document().Kind
	h, ok := handlers[dispatchKey{kind, a.Op}]
	if !ok {
		res.Status = StatusError
		res.Detail = fmt.Sprintf("unsupported_op: %q is not executable on host %s", a.Op, kind)
		return res
	}

	chain := e.chainFor(kind, a.Op)
	if len(chain) == 0 {
		// Capability gap: reported, never silently dropped.
		res.Status = StatusError
		res.Detail = fmt.Sprintf("degraded: no supported strategy for op %q on host %s", a.Op, kind)
		return res
	}

	var lastErr error
	for _, strategy := range chain {
		attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
		degraded, err := h(attemptCtx, e, active, a, strategy)
		cancel()
		if errors.Is(err, errNothingToRollback) {
			// A definitive no-op outcome, not a strategy failure.
			res.Status = StatusSkipped
			res.Detail = "nothing to roll back"
			return res
		}
		if err == nil {
			res.StrategyUsed = strategy
			if degraded {
				res.Status = StatusDegraded
				res.Detail = fmt.Sprintf("strategy %q stood in after earlier strategies failed", strategy)
			} else {
				res.Status = StatusSuccess
			}
			return res
		}
		lastErr = err
		e.logger.Debug("strategy attempt failed",
			slog.String("op", a.Op),
			slog.String("strategy", string(strategy)),
			slog.String("error", err.Error()))
	}

	// An exhausted chain means the memoized report no longer matches what
	// the host actually does; the next probe starts fresh.
	if plan.Feature(kind, a.Op) != "" {
		e.prober.Invalidate(kind)
	}

	res.Status = StatusError
	res.Detail = fmt.Sprintf("all %d strategies failed; last: %v", len(chain), lastErr)
	return res
}

// chainFor resolves the fallback chain for an op. The capability report is
// advisory; when probing fails or the op carries no feature, a single
// native attempt is the chain.
func (e *Executor) chainFor(kind host.Kind, op string) []host.Strategy {
	feature := plan.Feature(kind, op)
	if feature == "" {
		return []host.Strategy{"native"}
	}
	report, err := e.prober.Probe(kind)
	if err != nil {
		e.logger.Warn("capability probe failed, assuming native",
			slog.String("host_kind", string(kind)),
			slog.String("error", err.Error()))
		return []host.Strategy{"native"}
	}
	return report.Chain(feature)
}

// ExecutePlan runs a plan's actions in order under the given policy and
// returns per-action results plus whether the job as a whole failed.
func (e *Executor) ExecutePlan(ctx context.Context, active host.ActiveDocument, p plan.Plan, policy Policy) ([]ActionResult, bool) {
	results := make([]ActionResult, 0, len(p.Actions))
	failed := false
	for _, a := range p.Actions {
		r := e.ExecuteAction(ctx, active, a)
		results = append(results, r)
		if r.Failed() {
			failed = true
			if policy == PolicyAbortAll {
				break
			}
		}
	}
	return results, failed
}
