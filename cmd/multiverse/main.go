// Command multiverse runs the Multiverse Spectrum Analyzer backend: a toy
// quantum multiverse simulation with an HTTP API for the canvas frontend.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/talgya/multiverse-analyzer/internal/api"
	"github.com/talgya/multiverse-analyzer/internal/engine"
	"github.com/talgya/multiverse-analyzer/internal/entropy"
	"github.com/talgya/multiverse-analyzer/internal/multiverse"
	"github.com/talgya/multiverse-analyzer/internal/persistence"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Multiverse Spectrum Analyzer")

	apiPort := envInt("PORT", 8080)
	dbPath := envStr("MULTIVERSE_DB", "data/multiverse.db")
	staticDir := envStr("MULTIVERSE_STATIC", "web")
	seed := int64(envInt("SEED", 42))

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(dbPath), 0755)
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	// ── Load or Create Multiverse ────────────────────────────────────
	var sim *multiverse.Simulator
	if db.HasRun() {
		slog.Info("found saved run, restoring...")
		sim, err = db.LoadRun()
		if err != nil {
			slog.Error("failed to restore run", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("no saved run, creating fresh multiverse", "seed", seed)
		cfg := multiverse.DefaultConfig()
		cfg.Seed = seed
		sim, err = multiverse.New(cfg)
		if err != nil {
			slog.Error("failed to create simulator", "error", err)
			os.Exit(1)
		}
	}

	// ── Entropy Source ───────────────────────────────────────────────
	rng := entropy.NewClient(os.Getenv("RANDOM_ORG_KEY"))
	if rng.Enabled() {
		slog.Info("entropy source: random.org pool")
	} else {
		slog.Info("entropy source: crypto/rand")
	}

	// ── Engine ───────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.SetTick(sim.Tick())

	adminKey := os.Getenv("MULTIVERSE_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("MULTIVERSE_ADMIN_KEY not set — control endpoints will be disabled")
	}

	if _, err := os.Stat(staticDir); err != nil {
		staticDir = ""
	}

	apiServer := api.NewServer(sim, eng)
	apiServer.DB = db
	apiServer.Port = apiPort
	apiServer.AdminKey = adminKey
	apiServer.RelayKey = os.Getenv("MULTIVERSE_RELAY_KEY")
	apiServer.StaticDir = staticDir

	// Callbacks go through the server's getter: /initialize swaps the
	// simulator out from under the engine.
	eng.OnTick = func(tick uint64) {
		s := apiServer.Sim()
		s.SetTick(tick)
		s.EvolveAll(engine.DefaultTimeStep)
	}
	eng.OnEvent = func(tick uint64) {
		s := apiServer.Sim()
		target := s.PickForkTarget(rng.Float())
		if target == nil {
			return // tree is fully grown
		}
		// Fan out 2 or 3 children, entropy decides.
		n := 2
		if rng.Float() < 1.0/3.0 {
			n = 3
		}
		if _, err := s.TriggerEvent(target, n); err != nil {
			slog.Warn("auto event failed", "error", err)
		}
	}
	// Vacuum fluctuations shift when the next auto event fires, so forks do
	// not land on a rigid 40-tick metronome.
	eng.EventJitter = func(tick uint64) int {
		if f := apiServer.Sim().Flux; f != nil {
			return f.EventJitter(tick)
		}
		return 0
	}
	eng.OnSnapshot = func(tick uint64) {
		if err := db.SaveRun(apiServer.Sim()); err != nil {
			slog.Error("periodic save failed", "error", err)
		}
	}

	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("\nMultiverse ready: %d branches, %s.\n", sim.BranchCount(), engine.SimTime(sim.Tick()))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run()

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveRun(apiServer.Sim()); err != nil {
		slog.Error("final save failed", "error", err)
	}

	fmt.Println("Simulation stopped. Run state saved.")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
