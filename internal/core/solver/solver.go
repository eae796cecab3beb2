package solver

import (
	"time"

	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/diag"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/core/timers"
)

// Solver wraps a Stages implementation with named stage timers and
// collective diagnostics. It is driven by a single goroutine.
type Solver struct {
	stages   Stages
	caps     Capabilities
	timers   *timers.Registry
	reporter *diag.Reporter
	observer StageObserver
	logger   log.Log
	state    State

	timerOpts  []timers.Option
	reportOpts []diag.Option
	labels     []timers.Label
}

type Option func(*Solver)

// WithCapabilities overrides whatever the stages advertise.
func WithCapabilities(c Capabilities) Option {
	return func(s *Solver) { s.caps = c }
}

func WithLogger(l log.Log) Option {
	return func(s *Solver) { s.logger = l }
}

func WithObserver(o StageObserver) Option {
	return func(s *Solver) { s.observer = o }
}

// WithLabels replaces DefaultLabels. Labels the entry points use but the
// set omits make those entry points fail with timers.ErrUnknownLabel.
func WithLabels(labels ...timers.Label) Option {
	return func(s *Solver) { s.labels = labels }
}

func WithTimerOptions(opts ...timers.Option) Option {
	return func(s *Solver) { s.timerOpts = append(s.timerOpts, opts...) }
}

func WithReporterOptions(opts ...diag.Option) Option {
	return func(s *Solver) { s.reportOpts = append(s.reportOpts, opts...) }
}

// New instruments stages. The label set and timers are fixed from here on.
func New(stages Stages, opts ...Option) *Solver {
	s := &Solver{
		stages: stages,
		caps:   DefaultCapabilities(),
		labels: DefaultLabels,
		logger: log.Provide(),
	}
	if p, ok := stages.(CapabilityProvider); ok {
		s.caps = p.Capabilities()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.caps = s.caps.withDefaults()
	s.timers = timers.New(s.labels, s.timerOpts...)
	s.reporter = diag.NewReporter(stages.Comm(), s.caps.Identifier,
		append([]diag.Option{diag.WithLogger(s.logger)}, s.reportOpts...)...)
	s.logger = s.logger.With(
		log.String("solver", s.caps.Identifier),
		log.Int("rank", stages.Comm().Rank()),
	)
	return s
}

func (s *Solver) Capabilities() Capabilities { return s.caps }

func (s *Solver) IsUnstructured() bool { return s.caps.Unstructured }

func (s *Solver) IsAMR() bool { return s.caps.AMR }

func (s *Solver) OversetUpdateInterval() int { return s.caps.OversetInterval }

func (s *Solver) Identifier() string { return s.caps.Identifier }

func (s *Solver) Comm() comm.Group { return s.stages.Comm() }

// Timers exposes the stage accumulators for inspection.
func (s *Solver) Timers() *timers.Registry { return s.timers }

// State returns the lifecycle position. It is informational only.
func (s *Solver) State() State { return s.state }

func (s *Solver) CallInitPrologue(multiSolverMode bool) error {
	return s.stages.InitPrologue(multiSolverMode)
}

func (s *Solver) CallInitEpilogue() error {
	if err := s.stages.InitEpilogue(); err != nil {
		return err
	}
	s.state = StateInitialized
	return nil
}

func (s *Solver) CallPrepareSolverPrologue() error {
	return s.stages.PrepareSolverPrologue()
}

func (s *Solver) CallPrepareSolverEpilogue() error {
	if err := s.stages.PrepareSolverEpilogue(); err != nil {
		return err
	}
	s.state = StateReady
	return nil
}

func (s *Solver) CallPreAdvanceStage1() error {
	s.state = StateStepping
	return s.timed(timers.Pre, false, s.stages.PreAdvanceStage1)
}

// CallPreAdvanceStage2 continues the Pre timer started by stage 1 so both
// stages report as one phase.
func (s *Solver) CallPreAdvanceStage2() error {
	return s.timed(timers.Pre, true, s.stages.PreAdvanceStage2)
}

func (s *Solver) CallAdvanceTimestep() error {
	return s.timed(timers.Solve, false, s.stages.AdvanceTimestep)
}

func (s *Solver) CallPostAdvance() error {
	if err := s.timed(timers.Post, false, s.stages.PostAdvance); err != nil {
		return err
	}
	s.state = StateStepped
	return nil
}

func (s *Solver) CallPreOversetConnWork() error {
	return s.timed(timers.PreConn, false, s.stages.PreOversetConnWork)
}

func (s *Solver) CallPostOversetConnWork() error {
	return s.timed(timers.PostConn, false, s.stages.PostOversetConnWork)
}

func (s *Solver) CallRegisterSolution() error {
	return s.timed(timers.Register, false, s.stages.RegisterSolution)
}

func (s *Solver) CallUpdateSolution() error {
	return s.timed(timers.Update, false, s.stages.UpdateSolution)
}

// timed brackets stage with the label's timer. A failing stage leaves the
// timer running and its error is returned as is.
func (s *Solver) timed(label timers.Label, restart bool, stage func() error) error {
	start := s.timers.Start
	var before time.Duration
	if restart {
		start = s.timers.Restart
		if acc, ok := s.timers.Get(label); ok {
			before = acc.Current
		}
	}
	if err := start(label); err != nil {
		return err
	}
	if err := stage(); err != nil {
		s.logger.Debug("stage failed", log.String("label", string(label)), log.Error(err))
		return err
	}
	if err := s.timers.Stop(label); err != nil {
		return err
	}
	if s.observer != nil {
		acc, _ := s.timers.Get(label)
		s.observer.ObserveStage(s.caps.Identifier, label, acc.Current-before, acc.Current)
	}
	return nil
}

// EchoTimers writes the stage timing digest for step on the smallest rank.
// Collective: every member of Comm must call it.
func (s *Solver) EchoTimers(step int) error {
	return s.reporter.EchoTimers(s.timers, step)
}

// MemUsage writes the memory report on the smallest rank and returns this
// rank's own sample in megabytes. Collective: every member of Comm must call
// it.
func (s *Solver) MemUsage() (int64, error) {
	return s.reporter.MemoryUsage()
}
