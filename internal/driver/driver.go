// Package driver advances a set of coupled solvers through the lifecycle,
// in the order an overset multi-solver run expects.
package driver

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/diag"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/core/solver"
)

// Connectivity recomputes overset connectivity between the pre/post
// connectivity stages.
type Connectivity interface {
	UpdateConnectivity(step int) error
}

// Exchanger moves registered fields between solvers before they update.
type Exchanger interface {
	ExchangeSolution(step int) error
}

// Recorder receives per-step and memory observations.
type Recorder interface {
	ObserveStep(identifier string)
	ObserveMemory(identifier string, mb int64)
}

type noop struct{}

func (noop) UpdateConnectivity(int) error { return nil }
func (noop) ExchangeSolution(int) error   { return nil }
func (noop) ObserveStep(string)           {}
func (noop) ObserveMemory(string, int64)  {}

var ErrNoSolvers = errors.New("driver needs at least one solver")

// Simulation runs solvers that share one process group. Every member of
// the group runs its own Simulation with the same configuration; the
// diagnostics it triggers are collective.
type Simulation struct {
	solvers  []*solver.Solver
	run      config.RunConfig
	conn     Connectivity
	exchange Exchanger
	recorder Recorder
	logger   log.Log
	runID    uuid.UUID

	oversetInterval int
	step            int
}

type Option func(*Simulation)

func WithConnectivity(c Connectivity) Option {
	return func(s *Simulation) { s.conn = c }
}

func WithExchanger(e Exchanger) Option {
	return func(s *Simulation) { s.exchange = e }
}

func WithRecorder(r Recorder) Option {
	return func(s *Simulation) { s.recorder = r }
}

func WithLogger(l log.Log) Option {
	return func(s *Simulation) { s.logger = l }
}

// WithRunID pins the run identifier, which otherwise is a fresh UUID.
func WithRunID(id uuid.UUID) Option {
	return func(s *Simulation) { s.runID = id }
}

func New(solvers []*solver.Solver, run config.RunConfig, opts ...Option) (*Simulation, error) {
	if len(solvers) == 0 {
		return nil, ErrNoSolvers
	}
	s := &Simulation{
		solvers:  solvers,
		run:      run,
		conn:     noop{},
		exchange: noop{},
		recorder: noop{},
		logger:   log.Provide(),
		runID:    uuid.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.run.EchoInterval <= 0 {
		s.run.EchoInterval = 1
	}
	if s.run.MemoryInterval <= 0 {
		s.run.MemoryInterval = 1
	}

	s.oversetInterval = solvers[0].OversetUpdateInterval()
	for _, ss := range solvers[1:] {
		s.oversetInterval = min(s.oversetInterval, ss.OversetUpdateInterval())
	}
	s.logger = s.logger.With(
		log.String("run", s.runID.String()),
		log.Int("rank", solvers[0].Comm().Rank()),
	)
	return s, nil
}

func (s *Simulation) RunID() uuid.UUID { return s.runID }

// Step returns the last completed step.
func (s *Simulation) Step() int { return s.step }

// OversetInterval is the smallest connectivity refresh interval among the
// solvers.
func (s *Simulation) OversetInterval() int { return s.oversetInterval }

func (s *Simulation) each(name string, fn func(*solver.Solver) error) error {
	for _, ss := range s.solvers {
		if err := fn(ss); err != nil {
			s.logger.Error("stage failed",
				log.String("stage", name),
				log.String("solver", ss.Identifier()),
				log.Error(err),
			)
			return fmt.Errorf("%s %s: %w", ss.Identifier(), name, err)
		}
	}
	return nil
}

// Initialize runs every prologue before any epilogue.
func (s *Simulation) Initialize() error {
	if err := s.each("init prologue", func(ss *solver.Solver) error {
		return ss.CallInitPrologue(s.run.MultiSolverMode)
	}); err != nil {
		return err
	}
	return s.each("init epilogue", (*solver.Solver).CallInitEpilogue)
}

// Prepare brackets an initial connectivity pass with the prepare stages.
func (s *Simulation) Prepare() error {
	if err := s.each("prepare prologue", (*solver.Solver).CallPrepareSolverPrologue); err != nil {
		return err
	}
	if err := s.connectivity(0); err != nil {
		return err
	}
	return s.each("prepare epilogue", (*solver.Solver).CallPrepareSolverEpilogue)
}

func (s *Simulation) connectivity(step int) error {
	if err := s.each("pre overset conn work", (*solver.Solver).CallPreOversetConnWork); err != nil {
		return err
	}
	if err := s.conn.UpdateConnectivity(step); err != nil {
		return fmt.Errorf("overset connectivity at step %d: %w", step, err)
	}
	return s.each("post overset conn work", (*solver.Solver).CallPostOversetConnWork)
}

func (s *Simulation) exchangeSolution(step int) error {
	if err := s.each("register solution", (*solver.Solver).CallRegisterSolution); err != nil {
		return err
	}
	if err := s.exchange.ExchangeSolution(step); err != nil {
		return fmt.Errorf("solution exchange at step %d: %w", step, err)
	}
	return s.each("update solution", (*solver.Solver).CallUpdateSolution)
}

// Advance runs one full step and the diagnostics due at it.
func (s *Simulation) Advance() error {
	n := s.step + 1

	if err := s.each("pre advance stage 1", (*solver.Solver).CallPreAdvanceStage1); err != nil {
		return err
	}
	if n%s.oversetInterval == 0 {
		if err := s.connectivity(n); err != nil {
			return err
		}
	}
	if err := s.each("pre advance stage 2", (*solver.Solver).CallPreAdvanceStage2); err != nil {
		return err
	}
	if err := s.exchangeSolution(n); err != nil {
		return err
	}
	if err := s.each("advance timestep", (*solver.Solver).CallAdvanceTimestep); err != nil {
		return err
	}
	if err := s.each("post advance", (*solver.Solver).CallPostAdvance); err != nil {
		return err
	}

	s.step = n
	for _, ss := range s.solvers {
		s.recorder.ObserveStep(ss.Identifier())
	}

	if n%s.run.EchoInterval == 0 {
		if err := s.each("echo timers", func(ss *solver.Solver) error {
			return ss.EchoTimers(n)
		}); err != nil {
			return err
		}
	}
	if n%s.run.MemoryInterval == 0 {
		if err := s.each("memory usage", func(ss *solver.Solver) error {
			mb, err := ss.MemUsage()
			if errors.Is(err, diag.ErrSampleFailed) {
				// The group completed the report; only this rank's value is off.
				s.logger.Warn("memory sample unavailable", log.String("solver", ss.Identifier()), log.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			s.recorder.ObserveMemory(ss.Identifier(), mb)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Run initializes, prepares and advances the configured number of steps.
func (s *Simulation) Run() error {
	s.logger.Info("simulation starting",
		log.Int("solvers", len(s.solvers)),
		log.Int("steps", s.run.Steps),
		log.Int("overset_interval", s.oversetInterval),
	)
	if err := s.Initialize(); err != nil {
		return err
	}
	if err := s.Prepare(); err != nil {
		return err
	}
	for s.step < s.run.Steps {
		if err := s.Advance(); err != nil {
			return err
		}
		s.logger.Debug("step complete", log.Int("step", s.step))
	}
	s.logger.Info("simulation finished", log.Int("steps", s.step))
	return nil
}
