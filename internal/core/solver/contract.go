// Package solver defines the staged lifecycle a coupled solver implements
// and the timed entry points a driver calls once per step.
package solver

import (
	"time"

	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/timers"
)

// Stages is implemented by a concrete solver. A driver never calls these
// directly; it goes through the Call* entry points of Solver, which add
// timing around the per-step stages.
//
// Within a run the expected order is InitPrologue, InitEpilogue,
// PrepareSolverPrologue, PrepareSolverEpilogue, and then per step
// PreAdvanceStage1, the overset connectivity pair when due,
// PreAdvanceStage2, RegisterSolution, UpdateSolution, AdvanceTimestep,
// PostAdvance. The order is not checked.
type Stages interface {
	InitPrologue(multiSolverMode bool) error
	InitEpilogue() error
	PrepareSolverPrologue() error
	PrepareSolverEpilogue() error
	PreAdvanceStage1() error
	PreAdvanceStage2() error
	AdvanceTimestep() error
	PostAdvance() error
	PreOversetConnWork() error
	PostOversetConnWork() error
	RegisterSolution() error
	UpdateSolution() error

	// Comm is the group the solver runs on. Diagnostics reduce over it.
	Comm() comm.Group
}

// DefaultOversetInterval effectively disables periodic connectivity
// updates.
const DefaultOversetInterval = 100000000

const DefaultIdentifier = "ExawindSolver"

// Capabilities advertises what a solver is to the driver and to the
// diagnostics layer. Identifier prefixes every report line.
type Capabilities struct {
	Unstructured    bool
	AMR             bool
	OversetInterval int
	Identifier      string
}

func DefaultCapabilities() Capabilities {
	return Capabilities{
		OversetInterval: DefaultOversetInterval,
		Identifier:      DefaultIdentifier,
	}
}

func (c Capabilities) withDefaults() Capabilities {
	if c.OversetInterval <= 0 {
		c.OversetInterval = DefaultOversetInterval
	}
	if c.Identifier == "" {
		c.Identifier = DefaultIdentifier
	}
	return c
}

// CapabilityProvider may be implemented by Stages to advertise its
// capabilities without the caller passing WithCapabilities.
type CapabilityProvider interface {
	Capabilities() Capabilities
}

// StageObserver is called after every successful timed stage. elapsed is
// the time of this bracket alone; current is the label's Current value,
// which for Pre after stage 2 includes stage 1.
type StageObserver interface {
	ObserveStage(identifier string, label timers.Label, elapsed, current time.Duration)
}

// DefaultLabels is the label set every solver is instrumented with.
var DefaultLabels = []timers.Label{
	timers.Pre,
	timers.PreConn,
	timers.PostConn,
	timers.Register,
	timers.Update,
	timers.Solve,
	timers.Post,
}

// State is the lifecycle position implied by the last entry point that
// completed.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateReady
	StateStepping
	StateStepped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateStepping:
		return "stepping"
	case StateStepped:
		return "stepped"
	default:
		return "unknown"
	}
}
