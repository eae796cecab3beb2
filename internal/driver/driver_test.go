package driver

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/diag"
	"github.com/zeusync/coupler/internal/core/solver"
	"github.com/zeusync/coupler/internal/solvers/synthetic"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type hookLog struct {
	mu           sync.Mutex
	connectivity []int
	exchanges    []int
	steps        map[string]int
	memory       map[string]int64
}

func newHookLog() *hookLog {
	return &hookLog{steps: map[string]int{}, memory: map[string]int64{}}
}

func (h *hookLog) UpdateConnectivity(step int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectivity = append(h.connectivity, step)
	return nil
}

func (h *hookLog) ExchangeSolution(step int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = append(h.exchanges, step)
	return nil
}

func (h *hookLog) ObserveStep(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps[id]++
}

func (h *hookLog) ObserveMemory(id string, mb int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.memory[id] = mb
}

func fixedSampler(mb int64) diag.Sampler {
	return diag.SamplerFunc(func() (int64, error) { return mb * 1024, nil })
}

func TestSimulation_SingleRankOrder(t *testing.T) {
	g := comm.Self()
	nalu := synthetic.NewUnstructured(g)
	amr := synthetic.NewAMR(g)

	var out bytes.Buffer
	opts := solver.WithReporterOptions(diag.WithOutput(&out), diag.WithSampler(fixedSampler(64)))
	solvers := []*solver.Solver{solver.New(nalu, opts), solver.New(amr, opts)}

	hooks := newHookLog()
	sim, err := New(solvers, config.RunConfig{Steps: 2, EchoInterval: 1, MemoryInterval: 2, MultiSolverMode: true},
		WithConnectivity(hooks), WithExchanger(hooks), WithRecorder(hooks))
	require.NoError(t, err)
	require.NoError(t, sim.Run())

	assert.Equal(t, 2, sim.Step())
	assert.Equal(t, 1, sim.OversetInterval())
	assert.Equal(t, []int{0, 1, 2}, hooks.connectivity)
	assert.Equal(t, []int{1, 2}, hooks.exchanges)
	assert.Equal(t, map[string]int{"Nalu-Wind": 2, "AMR-Wind": 2}, hooks.steps)
	assert.Equal(t, map[string]int64{"Nalu-Wind": 64, "AMR-Wind": 64}, hooks.memory)
	assert.True(t, nalu.MultiSolverMode())

	stepCalls := []synthetic.Stage{
		synthetic.PreAdvanceStage1,
		synthetic.PreOversetConnWork, synthetic.PostOversetConnWork,
		synthetic.PreAdvanceStage2,
		synthetic.RegisterSolution, synthetic.UpdateSolution,
		synthetic.AdvanceTimestep, synthetic.PostAdvance,
	}
	want := []synthetic.Stage{
		synthetic.InitPrologue, synthetic.InitEpilogue,
		synthetic.PrepareSolverPrologue,
		synthetic.PreOversetConnWork, synthetic.PostOversetConnWork,
		synthetic.PrepareSolverEpilogue,
	}
	want = append(want, stepCalls...)
	want = append(want, stepCalls...)
	assert.Equal(t, want, nalu.Calls())
	assert.Equal(t, want, amr.Calls())

	for _, s := range solvers {
		assert.Equal(t, solver.StateStepped, s.State())
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "Nalu-Wind WCTime at step: 1 "))
	assert.True(t, strings.HasPrefix(lines[1], "AMR-Wind WCTime at step: 1 "))
	assert.True(t, strings.HasPrefix(lines[2], "Nalu-Wind WCTime at step: 2 "))
	assert.True(t, strings.HasPrefix(lines[3], "AMR-Wind WCTime at step: 2 "))
	assert.Equal(t, "Nalu-Wind Memory Usage min: 64 avg: 64 max: 64 total: 64", lines[4])
	assert.Equal(t, "AMR-Wind Memory Usage min: 64 avg: 64 max: 64 total: 64", lines[5])
}

func TestSimulation_SkipsConnectivityWhenNotDue(t *testing.T) {
	amr := synthetic.NewAMR(comm.Self())
	var out bytes.Buffer
	s := solver.New(amr, solver.WithReporterOptions(diag.WithOutput(&out)))

	hooks := newHookLog()
	sim, err := New([]*solver.Solver{s}, config.RunConfig{Steps: 3, EchoInterval: 10, MemoryInterval: 10},
		WithConnectivity(hooks))
	require.NoError(t, err)
	require.NoError(t, sim.Run())

	assert.Equal(t, []int{0}, hooks.connectivity)
	assert.Empty(t, out.String())
}

func TestSimulation_MultiRank(t *testing.T) {
	groups, err := comm.NewLocalWorld(3)
	require.NoError(t, err)

	samples := []int64{100, 150, 200}
	out := &lockedBuffer{}
	runID := uuid.New()

	err = comm.Run(groups, func(g *comm.LocalGroup) error {
		opts := solver.WithReporterOptions(diag.WithOutput(out), diag.WithSampler(fixedSampler(samples[g.Rank()])))
		solvers := []*solver.Solver{
			solver.New(synthetic.NewUnstructured(g), opts),
			solver.New(synthetic.NewAMR(g), opts),
		}
		sim, err := New(solvers, config.RunConfig{Steps: 4, EchoInterval: 2, MemoryInterval: 4}, WithRunID(runID))
		if err != nil {
			return err
		}
		if sim.RunID() != runID {
			return errors.New("run id not applied")
		}
		return sim.Run()
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)

	var timing, memory int
	for _, l := range lines {
		switch {
		case strings.Contains(l, "WCTime at step:"):
			timing++
		case strings.Contains(l, "Memory Usage"):
			memory++
			assert.True(t, strings.HasSuffix(l, "Memory Usage min: 100 avg: 150 max: 200 total: 450"), l)
		}
	}
	assert.Equal(t, 4, timing)
	assert.Equal(t, 2, memory)
}

func TestSimulation_MemorySampleFailureKeepsRunning(t *testing.T) {
	groups, err := comm.NewLocalWorld(2)
	require.NoError(t, err)

	out := &lockedBuffer{}
	steps := make([]int, 2)
	err = comm.Run(groups, func(g *comm.LocalGroup) error {
		sampler := fixedSampler(80)
		if g.Rank() == 1 {
			sampler = diag.SamplerFunc(func() (int64, error) { return 0, errors.New("no rusage") })
		}
		s := solver.New(synthetic.NewAMR(g), solver.WithReporterOptions(diag.WithOutput(out), diag.WithSampler(sampler)))
		sim, err := New([]*solver.Solver{s}, config.RunConfig{Steps: 3, EchoInterval: 10, MemoryInterval: 1})
		if err != nil {
			return err
		}
		if err := sim.Run(); err != nil {
			return err
		}
		steps[g.Rank()] = sim.Step()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, steps)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Equal(t, "AMR-Wind Memory Usage min: -1 avg: 39 max: 80 total: 79", l)
	}
}

func TestSimulation_StageFailureStopsRun(t *testing.T) {
	boom := errors.New("negative jacobian")
	stages := synthetic.New(comm.Self(), synthetic.WithFailure(synthetic.AdvanceTimestep, boom))

	sim, err := New([]*solver.Solver{solver.New(stages)}, config.RunConfig{Steps: 3})
	require.NoError(t, err)

	err = sim.Run()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "advance timestep")
	assert.Equal(t, 0, sim.Step())
}

func TestNew_NoSolvers(t *testing.T) {
	_, err := New(nil, config.RunConfig{})
	require.ErrorIs(t, err, ErrNoSolvers)
}
