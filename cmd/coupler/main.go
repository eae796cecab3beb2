package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/coupler/internal/config"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML run configuration")
	mode := flag.String("mode", "", "process group: local, hub or member (overrides comm.mode)")
	rank := flag.Int("rank", -1, "rank of this member (overrides comm.rank)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(2)
	}
	if *mode != "" {
		cfg.Comm.Mode = *mode
	}
	if *rank >= 0 {
		cfg.Comm.Rank = *rank
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid config:", err)
		os.Exit(2)
	}

	rt, err := injector.InitializeRuntime(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, rt)
	stop()
	if err != nil {
		rt.Logger.Error("coupler failed", log.String("mode", cfg.Comm.Mode), log.Error(err))
		_ = rt.Logger.Sync()
		os.Exit(1)
	}
	_ = rt.Logger.Sync()
}
