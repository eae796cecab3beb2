package synthetic

import (
	"fmt"
	"time"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/solver"
)

// FromConfig builds the variant named by sc.Kind on g. Identifier and
// overset interval in sc override the variant's own when set.
func FromConfig(g comm.Group, sc config.SolverConfig, opts ...Option) (*Solver, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	work := make(map[Stage]time.Duration, len(sc.Work))
	for name, d := range sc.Work {
		st, ok := ParseStage(name)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q in work", name)
		}
		work[st] = d
	}
	opts = append([]Option{WithWorkMap(work)}, opts...)

	var s *Solver
	switch sc.Kind {
	case config.KindUnstructured:
		s = NewUnstructured(g, opts...)
	case config.KindAMR:
		s = NewAMR(g, opts...)
	default:
		s = New(g, opts...)
	}

	caps := s.caps
	if sc.Identifier != "" {
		caps.Identifier = sc.Identifier
	}
	if sc.OversetInterval > 0 {
		caps.OversetInterval = sc.OversetInterval
	}
	s.caps = caps
	return s, nil
}

// Instrument wraps each configured solver for g with the given options.
func Instrument(g comm.Group, configs []config.SolverConfig, opts ...solver.Option) ([]*solver.Solver, error) {
	out := make([]*solver.Solver, 0, len(configs))
	for i, sc := range configs {
		s, err := FromConfig(g, sc)
		if err != nil {
			return nil, fmt.Errorf("solvers[%d]: %w", i, err)
		}
		out = append(out, solver.New(s, opts...))
	}
	return out, nil
}
