package missingmoney

import (
	"context"

	"github.com/hazyhaar/missingmoney/slots"
	"github.com/hazyhaar/missingmoney/solver"
)

// Health is a point-in-time view of the service's capacity.
type Health struct {
	Status string      `json:"status"`
	Slots  slots.Stats `json:"slots"`
	Memory *Usage      `json:"memory,omitempty"`
	// Solver is the solver circuit state: closed, open or half-open.
	Solver string `json:"solver,omitempty"`
}

// Health reports "ok", or "degraded" when the probe refuses new sessions
// or the solver circuit is open.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Slots: s.opts.Slots.Stats()}

	if mp, ok := s.opts.Probe.(*MemoryProbe); ok {
		if u, err := mp.Usage(ctx); err == nil {
			h.Memory = &u
		}
	}
	if s.opts.Probe != nil && s.opts.Probe.Check(ctx) != nil {
		h.Status = "degraded"
	}
	if s.opts.breaker != nil {
		st := s.opts.breaker.State()
		h.Solver = st.String()
		if st == solver.BreakerOpen {
			h.Status = "degraded"
		}
	}
	return h
}
