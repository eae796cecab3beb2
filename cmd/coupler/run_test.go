package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/comm/wsgroup"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/injector"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Run.Steps = 2
	cfg.Run.MemoryInterval = 2
	cfg.Comm.Mode = mode
	cfg.Logging.Level = "error"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRun_Local(t *testing.T) {
	rt, err := injector.InitializeRuntime(testConfig(t, config.ModeLocal))
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), rt))

	for rank := 0; rank < 2; rank++ {
		c := rt.Collectors.For(rank)
		require.NotNil(t, c)
		assert.Contains(t, gatherNames(t, c.Gatherer()), "coupler_steps_total")
	}
}

func TestRun_HubMembers(t *testing.T) {
	hub, err := wsgroup.NewHub(wsgroup.DenseRanks(2), log.Nop())
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle(groupPath, hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	members := make([]*injector.Runtime, 2)
	for rank := range members {
		cfg := testConfig(t, config.ModeMember)
		cfg.Comm.Address = strings.TrimPrefix(srv.URL, "http://")
		cfg.Comm.Rank = rank
		members[rank], err = injector.InitializeRuntime(cfg)
		require.NoError(t, err)
	}

	errs := make(chan error, len(members))
	for _, rt := range members {
		rt := rt
		go func() { errs <- run(context.Background(), rt) }()
	}
	for range members {
		require.NoError(t, <-errs)
	}
	<-hub.Done()
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	err := wait(ctx, func() error { <-block; return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestSimulate_UnknownStage(t *testing.T) {
	cfg := testConfig(t, config.ModeLocal)
	cfg.Solvers = []config.SolverConfig{{Kind: config.KindAMR}}
	rt, err := injector.InitializeRuntime(cfg)
	require.NoError(t, err)
	rt.Config.Solvers[0].Work = map[string]time.Duration{"relax": 0}

	err = simulate(comm.Self(), rt, uuid.New())
	require.ErrorContains(t, err, "relax")
}

func gatherNames(t *testing.T, g prometheus.Gatherer) []string {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	return names
}
