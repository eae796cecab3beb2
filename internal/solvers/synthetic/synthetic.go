// Package synthetic provides stand-in solvers that spend configurable wall
// time in each stage. They exercise the driver and the diagnostics without a
// physics code behind them.
package synthetic

import (
	"sync"
	"time"

	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/solver"
)

// Stage names one solver-supplied operation.
type Stage string

const (
	InitPrologue          Stage = "init_prologue"
	InitEpilogue          Stage = "init_epilogue"
	PrepareSolverPrologue Stage = "prepare_solver_prologue"
	PrepareSolverEpilogue Stage = "prepare_solver_epilogue"
	PreAdvanceStage1      Stage = "pre_advance_stage1"
	PreAdvanceStage2      Stage = "pre_advance_stage2"
	AdvanceTimestep       Stage = "advance_timestep"
	PostAdvance           Stage = "post_advance"
	PreOversetConnWork    Stage = "pre_overset_conn_work"
	PostOversetConnWork   Stage = "post_overset_conn_work"
	RegisterSolution      Stage = "register_solution"
	UpdateSolution        Stage = "update_solution"
)

// Stages lists every stage in contract order.
var Stages = []Stage{
	InitPrologue, InitEpilogue, PrepareSolverPrologue, PrepareSolverEpilogue,
	PreAdvanceStage1, PreOversetConnWork, PostOversetConnWork, PreAdvanceStage2,
	RegisterSolution, UpdateSolution, AdvanceTimestep, PostAdvance,
}

var (
	_ solver.Stages             = (*Solver)(nil)
	_ solver.CapabilityProvider = (*Solver)(nil)
)

// Solver implements solver.Stages by sleeping for the configured duration
// of each stage and recording the call.
type Solver struct {
	group comm.Group
	caps  solver.Capabilities
	work  map[Stage]time.Duration
	fail  map[Stage]error
	sleep func(time.Duration)

	mu          sync.Mutex
	calls       []Stage
	multiSolver bool
}

type Option func(*Solver)

// WithWork makes stage take d of wall time.
func WithWork(stage Stage, d time.Duration) Option {
	return func(s *Solver) { s.work[stage] = d }
}

// WithWorkMap applies WithWork for every entry.
func WithWorkMap(work map[Stage]time.Duration) Option {
	return func(s *Solver) {
		for st, d := range work {
			s.work[st] = d
		}
	}
}

// WithFailure makes stage return err.
func WithFailure(stage Stage, err error) Option {
	return func(s *Solver) { s.fail[stage] = err }
}

func WithCapabilities(c solver.Capabilities) Option {
	return func(s *Solver) { s.caps = c }
}

// WithSleep replaces time.Sleep.
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Solver) { s.sleep = sleep }
}

func New(g comm.Group, opts ...Option) *Solver {
	s := &Solver{
		group: g,
		caps:  solver.DefaultCapabilities(),
		work:  make(map[Stage]time.Duration),
		fail:  make(map[Stage]error),
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewUnstructured is an overset-capable unstructured-mesh variant that
// refreshes connectivity every step.
func NewUnstructured(g comm.Group, opts ...Option) *Solver {
	caps := solver.Capabilities{Unstructured: true, OversetInterval: 1, Identifier: "Nalu-Wind"}
	return New(g, append([]Option{WithCapabilities(caps)}, opts...)...)
}

// NewAMR is a block-structured adaptive-mesh variant.
func NewAMR(g comm.Group, opts ...Option) *Solver {
	caps := solver.Capabilities{AMR: true, OversetInterval: solver.DefaultOversetInterval, Identifier: "AMR-Wind"}
	return New(g, append([]Option{WithCapabilities(caps)}, opts...)...)
}

func (s *Solver) Capabilities() solver.Capabilities { return s.caps }

func (s *Solver) Comm() comm.Group { return s.group }

// Calls returns the stages run so far, in order.
func (s *Solver) Calls() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stage, len(s.calls))
	copy(out, s.calls)
	return out
}

// MultiSolverMode reports the flag passed to InitPrologue.
func (s *Solver) MultiSolverMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multiSolver
}

func (s *Solver) run(stage Stage) error {
	s.mu.Lock()
	s.calls = append(s.calls, stage)
	d := s.work[stage]
	err := s.fail[stage]
	s.mu.Unlock()

	if d > 0 {
		s.sleep(d)
	}
	return err
}

func (s *Solver) InitPrologue(multiSolverMode bool) error {
	s.mu.Lock()
	s.multiSolver = multiSolverMode
	s.mu.Unlock()
	return s.run(InitPrologue)
}

func (s *Solver) InitEpilogue() error          { return s.run(InitEpilogue) }
func (s *Solver) PrepareSolverPrologue() error { return s.run(PrepareSolverPrologue) }
func (s *Solver) PrepareSolverEpilogue() error { return s.run(PrepareSolverEpilogue) }
func (s *Solver) PreAdvanceStage1() error      { return s.run(PreAdvanceStage1) }
func (s *Solver) PreAdvanceStage2() error      { return s.run(PreAdvanceStage2) }
func (s *Solver) AdvanceTimestep() error       { return s.run(AdvanceTimestep) }
func (s *Solver) PostAdvance() error           { return s.run(PostAdvance) }
func (s *Solver) PreOversetConnWork() error    { return s.run(PreOversetConnWork) }
func (s *Solver) PostOversetConnWork() error   { return s.run(PostOversetConnWork) }
func (s *Solver) RegisterSolution() error      { return s.run(RegisterSolution) }
func (s *Solver) UpdateSolution() error        { return s.run(UpdateSolution) }

// ParseStage maps a configuration key onto a Stage.
func ParseStage(name string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == name {
			return st, true
		}
	}
	return "", false
}
