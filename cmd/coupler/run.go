package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/comm/wsgroup"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/core/observability/metrics"
	"github.com/zeusync/coupler/internal/core/solver"
	"github.com/zeusync/coupler/internal/driver"
	"github.com/zeusync/coupler/internal/injector"
	"github.com/zeusync/coupler/internal/solvers/synthetic"
)

const (
	groupPath       = "/group"
	shutdownTimeout = 5 * time.Second
)

func run(ctx context.Context, rt *injector.Runtime) error {
	defer serveMetrics(rt)()

	switch rt.Config.Comm.Mode {
	case config.ModeLocal:
		return runLocal(ctx, rt)
	case config.ModeHub:
		return runHub(ctx, rt)
	case config.ModeMember:
		return runMember(ctx, rt)
	default:
		return fmt.Errorf("unknown comm mode %q", rt.Config.Comm.Mode)
	}
}

// simulate runs one rank's share of the configured simulation on g.
func simulate(g comm.Group, rt *injector.Runtime, runID uuid.UUID) error {
	logger := rt.Logger.With(log.Int("rank", g.Rank()))
	solverOpts := []solver.Option{solver.WithLogger(logger)}
	simOpts := []driver.Option{driver.WithLogger(logger), driver.WithRunID(runID)}
	if c := rt.Collectors.For(g.Rank()); c != nil {
		solverOpts = append(solverOpts, solver.WithObserver(c))
		simOpts = append(simOpts, driver.WithRecorder(c))
	}

	solvers, err := synthetic.Instrument(g, rt.Config.Solvers, solverOpts...)
	if err != nil {
		return err
	}
	sim, err := driver.New(solvers, rt.Config.Run, simOpts...)
	if err != nil {
		return err
	}
	return sim.Run()
}

// wait returns when fn does or ctx ends. Collectives cannot be interrupted,
// so on cancellation fn is abandoned and the process is expected to exit.
func wait(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runLocal(ctx context.Context, rt *injector.Runtime) error {
	groups, err := comm.NewLocalWorld(rt.Config.Comm.Ranks)
	if err != nil {
		return err
	}
	runID := uuid.New()
	return wait(ctx, func() error {
		return comm.Run(groups, func(g *comm.LocalGroup) error {
			return simulate(g, rt, runID)
		})
	})
}

func runHub(ctx context.Context, rt *injector.Runtime) error {
	hub, err := wsgroup.NewHub(wsgroup.DenseRanks(rt.Config.Comm.Ranks), rt.Logger)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(groupPath, hub)
	srv := &http.Server{Addr: rt.Config.Comm.Address, Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	rt.Logger.Info("hub listening",
		log.String("address", rt.Config.Comm.Address),
		log.String("session", hub.Session().String()),
		log.Int("ranks", rt.Config.Comm.Ranks),
	)

	select {
	case <-hub.Done():
		rt.Logger.Info("all members left")
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("hub server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMember(ctx context.Context, rt *injector.Runtime) error {
	url := "ws://" + rt.Config.Comm.Address + groupPath
	m, err := wsgroup.Dial(ctx, url, rt.Config.Comm.Rank, wsgroup.DenseRanks(rt.Config.Comm.Ranks))
	if err != nil {
		return err
	}
	defer m.Close()

	// Members of one hub session share the run id.
	runID, err := uuid.Parse(m.Session())
	if err != nil {
		runID = uuid.New()
	}
	return wait(ctx, func() error { return simulate(m, rt, runID) })
}

// serveMetrics exposes the collectors of this process when a listen address
// is configured. The returned func stops the listener.
func serveMetrics(rt *injector.Runtime) func() {
	if rt.Config.Metrics.Listen == "" || len(rt.Collectors) == 0 {
		return func() {}
	}

	ranks := make([]int, 0, len(rt.Collectors))
	for r := range rt.Collectors {
		ranks = append(ranks, r)
	}
	slices.Sort(ranks)
	cs := make([]*metrics.Collector, len(ranks))
	for i, r := range ranks {
		cs[i] = rt.Collectors.For(r)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(cs...))
	srv := &http.Server{Addr: rt.Config.Metrics.Listen, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("metrics listener failed", log.Error(err))
		}
	}()
	rt.Logger.Info("serving metrics", log.String("address", rt.Config.Metrics.Listen))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
