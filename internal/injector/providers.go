// Package injector assembles the process-wide dependencies of a coupler run.
package injector

import (
	"fmt"

	"github.com/google/wire"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/core/observability/metrics"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideCollectors,
	wire.Struct(new(Runtime), "*"),
)

// Runtime is everything main needs before it picks a process group.
type Runtime struct {
	Config     *config.Config
	Logger     *log.Logger
	Collectors Collectors
}

// Collectors holds one metrics collector per rank hosted by this process.
type Collectors map[int]*metrics.Collector

// For returns the collector of rank, or nil when the rank is not hosted here.
func (c Collectors) For(rank int) *metrics.Collector { return c[rank] }

func ProvideLogger(cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return log.New(level, log.Options{Encoding: cfg.Logging.Encoding}), nil
}

// ProvideCollectors creates the collectors for the ranks this process runs:
// every rank of the world in local mode, the configured rank in member mode
// and none for a hub. Only the first carries the runtime collectors.
func ProvideCollectors(cfg *config.Config) Collectors {
	var ranks []int
	switch cfg.Comm.Mode {
	case config.ModeLocal:
		for r := 0; r < cfg.Comm.Ranks; r++ {
			ranks = append(ranks, r)
		}
	case config.ModeMember:
		ranks = []int{cfg.Comm.Rank}
	}

	out := make(Collectors, len(ranks))
	for i, r := range ranks {
		c := metrics.New(r)
		if i == 0 {
			c.WithRuntime()
		}
		out[r] = c
	}
	return out
}
