package host

import (
	"fmt"
	"sync"
	"time"
)

// CapabilityReport is the memoized description of what a host supports.
// Reports are advisory: the executor's attempt/advance loop over the
// fallback chain is the actual source of truth when a report is stale.
type CapabilityReport struct {
	HostKind Kind                  `json:"host_kind"`
	Features map[string]Capability `json:"features"`
	ProbedAt time.Time             `json:"probed_at"`
}

// Chain returns the fallback chain for a feature. A missing feature or an
// empty chain means "degraded: no supported strategy"; callers must surface
// that, never drop it.
func (r *CapabilityReport) Chain(feature string) []Strategy {
	if r == nil {
		return nil
	}
	cap, ok := r.Features[feature]
	if !ok || !cap.Supported {
		return nil
	}
	return cap.FallbackChain
}

// Prober memoizes one CapabilityReport per host kind. Probing is safe to
// repeat; Invalidate forces a fresh probe after an unexpected failure.
type Prober struct {
	mu      sync.Mutex
	hosts   map[Kind]Host
	reports map[Kind]*CapabilityReport
}

// NewProber creates a prober over the given hosts.
func NewProber(hosts map[Kind]Host) *Prober {
	return &Prober{
		hosts:   hosts,
		reports: make(map[Kind]*CapabilityReport),
	}
}

// Probe returns the memoized report for kind, probing the host on first use.
// A transient probe failure is returned to the caller and leaves nothing
// memoized, so the next call probes again.
func (p *Prober) Probe(kind Kind) (*CapabilityReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reports[kind]; ok {
		return r, nil
	}
	h, ok := p.hosts[kind]
	if !ok {
		return nil, fmt.Errorf("host: no host registered for kind %s", kind)
	}
	feats, err := h.Capabilities()
	if err != nil {
		return nil, fmt.Errorf("host: probe %s: %w", kind, err)
	}
	r := &CapabilityReport{HostKind: kind, Features: feats, ProbedAt: time.Now()}
	p.reports[kind] = r
	return r, nil
}

// Invalidate discards the memoized report for kind.
func (p *Prober) Invalidate(kind Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reports, kind)
}
