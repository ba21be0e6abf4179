package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	treeMap := flag.String("treemap", "", "Initial tree map (empty = initial densities from config)")
	outputDir := flag.String("out", "", "Output directory for census, perf, config and final tree map")
	timesteps := flag.Int("timesteps", 10, "Number of timesteps to run")
	seed := flag.Uint64("seed", 0, "RNG seed (0 = config seed, then time-based)")
	ghostDB := flag.String("ghost-db", "", "SQLite file for dead trees (empty = in memory)")
	logStats := flag.Bool("log-stats", false, "Output census and perf via slog")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	debug := flag.Bool("debug", false, "Log at debug level")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	s, err := sim.New(config.Cfg(), sim.Options{
		Seed:       *seed,
		TreeMap:    *treeMap,
		GhostDB:    *ghostDB,
		OutputDir:  *outputDir,
		LogStats:   *logStats,
		Registerer: reg,
	})
	if err != nil {
		slog.Error("failed to set up run", "error", err)
		os.Exit(1)
	}

	slog.Info("starting run",
		"timesteps", *timesteps,
		"trees", s.Population().Count(),
		"output_dir", *outputDir,
	)

	runErr := s.Run(*timesteps)
	if err := s.Unload(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		slog.Error("run failed", "timestep", s.Timestep(), "error", runErr)
		os.Exit(1)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "error", err)
	}
}
