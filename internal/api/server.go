// Package api provides the HTTP API the canvas frontend polls for numeric
// plot data. GET endpoints are public (read-only observation). POST endpoints
// require a bearer token (control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/multiverse-analyzer/internal/engine"
	"github.com/talgya/multiverse-analyzer/internal/multiverse"
	"github.com/talgya/multiverse-analyzer/internal/persistence"
	"github.com/talgya/multiverse-analyzer/internal/quantum"
	"github.com/talgya/multiverse-analyzer/internal/viz"
)

const maxSSEConns = 4

// Server serves the multiverse state over HTTP.
type Server struct {
	Eng      *engine.Engine
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey string // Bearer token for SSE stream endpoint. Empty = streaming disabled.

	// StaticDir holds the canvas frontend. Empty = no static serving.
	StaticDir string

	Started time.Time

	// The simulator is swapped wholesale by /initialize, so access goes
	// through an atomic-style getter under simMu.
	simMu sync.RWMutex
	sim   *multiverse.Simulator

	// Active SSE connection count (atomic).
	sseConns int32
}

// NewServer wires a server around an existing simulator.
func NewServer(sim *multiverse.Simulator, eng *engine.Engine) *Server {
	return &Server{
		sim:     sim,
		Eng:     eng,
		Started: time.Now(),
	}
}

// Sim returns the live simulator.
func (s *Server) Sim() *multiverse.Simulator {
	s.simMu.RLock()
	defer s.simMu.RUnlock()
	return s.sim
}

func (s *Server) setSim(sim *multiverse.Simulator) {
	s.simMu.Lock()
	old := s.sim
	s.sim = sim
	s.simMu.Unlock()

	// Detach streaming clients from the discarded simulator; their closed
	// channels tell them to re-attach to the new one.
	if old != nil {
		old.CloseSubscribers()
	}
}

// Handler builds the route mux with middleware applied.
func (s *Server) Handler() http.Handler {
	eventLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only — anyone can watch the multiverse).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/wave", s.handleWave)
	mux.HandleFunc("/api/v1/branches", s.handleBranches)
	mux.HandleFunc("/api/v1/tree", s.handleTree)
	mux.HandleFunc("/api/v1/spectrum", s.handleSpectrum)
	mux.HandleFunc("/api/v1/navigator", s.handleNavigator)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	// SSE streaming endpoint (GET, requires bearer token — relay only).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Control endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/initialize", s.adminOnly(s.handleInitialize))
	mux.HandleFunc("/api/v1/event", s.adminOnly(RateLimitMiddleware(eventLimiter, s.handleEvent)))
	mux.HandleFunc("/api/v1/evolve", s.adminOnly(s.handleEvolve))
	mux.HandleFunc("/api/v1/select", s.adminOnly(s.handleSelect))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	// Static canvas frontend.
	if s.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.StaticDir)))
	}

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	handler := s.Handler()
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "control endpoints disabled (no admin key set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sim := s.Sim()

	uptime := "just started"
	if !s.Started.IsZero() {
		uptime = humanize.Time(s.Started)
	}

	root := sim.Root()
	writeJSON(w, map[string]any{
		"name":          "Multiverse Spectrum Analyzer",
		"tick":          sim.Tick(),
		"sim_time":      engine.SimTime(sim.Tick()),
		"time":          sim.Time(),
		"speed":         s.Eng.Speed(),
		"running":       s.Eng.Running(),
		"branch_count":  sim.BranchCount(),
		"current_index": sim.CurrentIndex(),
		"dimensions":    root.State.Dims,
		"resolution":    root.State.Res,
		"max_depth":     sim.MaxDepth(),
		"started":       uptime,
	})
}

// handleWave returns the wave plot series for the current branch, or for
// ?branch=i when given.
func (s *Server) handleWave(w http.ResponseWriter, r *http.Request) {
	sim := s.Sim()

	b := sim.Current()
	if q := r.URL.Query().Get("branch"); q != "" {
		idx, err := strconv.Atoi(q)
		if err != nil {
			http.Error(w, "branch must be an integer", http.StatusBadRequest)
			return
		}
		b, err = sim.BranchAt(idx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	writeJSON(w, viz.WaveSeries(b.State))
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	sim := s.Sim()

	type branchSummary struct {
		Index      int     `json:"index"`
		ID         string  `json:"id"`
		Shape      string  `json:"shape"`
		Depth      int     `json:"depth"`
		BranchProb float64 `json:"branch_prob"`
		AbsProb    float64 `json:"abs_prob"`
		BornTick   uint64  `json:"born_tick"`
		Children   int     `json:"children"`
	}

	branches := sim.Branches()
	summaries := make([]branchSummary, len(branches))
	for i, b := range branches {
		summaries[i] = branchSummary{
			Index:      i,
			ID:         b.ID.String(),
			Shape:      b.Shape.String(),
			Depth:      b.Depth,
			BranchProb: b.BranchProb,
			AbsProb:    b.AbsProb,
			BornTick:   b.BornTick,
			Children:   len(b.Children),
		}
	}

	writeJSON(w, map[string]any{
		"structure": sim.Structure(),
		"branches":  summaries,
		"current":   sim.CurrentIndex(),
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	sim := s.Sim()
	writeJSON(w, map[string]any{
		"segments": viz.TreeLayout(sim.Root()),
	})
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	sim := s.Sim()
	writeJSON(w, viz.SpectrumSeries(sim.Branches(), sim.CurrentIndex()))
}

func (s *Server) handleNavigator(w http.ResponseWriter, r *http.Request) {
	sim := s.Sim()
	writeJSON(w, viz.NavigatorPoints(sim.Branches(), sim.CurrentIndex()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Sim().Events()
	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

// handleInitialize rebuilds the simulator from scratch with the requested
// parameters. The tick engine keeps running; it picks up the new simulator
// through the server's getter.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Dimensions   int    `json:"dimensions"`
		InitialState string `json:"initial_state"`
		Resolution   int    `json:"resolution"`
		Seed         int64  `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cfg := multiverse.DefaultConfig()
	if req.Dimensions != 0 {
		cfg.Dimensions = req.Dimensions
	}
	if req.Resolution != 0 {
		cfg.Resolution = req.Resolution
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if req.InitialState != "" {
		shape, err := quantum.ParseShape(req.InitialState)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Shape = shape
	}

	sim, err := multiverse.New(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.setSim(sim)
	s.Eng.SetTick(0)

	slog.Info("simulator reinitialized",
		"dimensions", cfg.Dimensions, "resolution", cfg.Resolution, "shape", cfg.Shape)

	writeJSON(w, map[string]any{
		"message":      "simulator initialized",
		"tick":         uint64(0),
		"branch_count": sim.BranchCount(),
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		NumBranches int  `json:"num_branches"`
		Branch      *int `json:"branch,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.NumBranches == 0 {
		req.NumBranches = 2
	}

	sim := s.Sim()

	target := sim.Current()
	if req.Branch != nil {
		var err error
		target, err = sim.BranchAt(*req.Branch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	children, err := sim.TriggerEvent(target, req.NumBranches)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"message":      fmt.Sprintf("created %d new branches", len(children)),
		"tick":         sim.Tick(),
		"branch_count": sim.BranchCount(),
	})
}

func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TimeStep float64 `json:"time_step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.TimeStep == 0 {
		req.TimeStep = engine.DefaultTimeStep
	}
	if req.TimeStep < 0 || req.TimeStep > 10 {
		http.Error(w, "time_step must be in (0, 10]", http.StatusBadRequest)
		return
	}

	sim := s.Sim()
	sim.EvolveAll(req.TimeStep)

	writeJSON(w, map[string]any{
		"message":      fmt.Sprintf("evolved multiverse by %g time units", req.TimeStep),
		"time":         sim.Time(),
		"branch_count": sim.BranchCount(),
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BranchIndex int `json:"branch_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	sim := s.Sim()
	if err := sim.Select(req.BranchIndex); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"message":       fmt.Sprintf("selected branch %d", req.BranchIndex),
		"branch_count":  sim.BranchCount(),
		"current_index": req.BranchIndex,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	sim := s.Sim()
	if err := s.DB.SaveRun(sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    sim.Tick(),
		"message": "snapshot saved",
	})
}

// handleStream provides an SSE endpoint for real-time event streaming.
// Requires bearer token auth and limits concurrent connections.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.RelayKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sim := s.Sim()
	subID, ch := sim.Subscribe()
	defer func() { sim.Unsubscribe(subID) }()

	// Send recent events as catch-up (last 50).
	events := sim.Events()
	start := len(events) - 50
	if start < 0 {
		start = 0
	}
	for _, e := range events[start:] {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				// The simulator was swapped by /initialize; follow the
				// replacement so the client keeps receiving events.
				sim = s.Sim()
				subID, ch = sim.Subscribe()
				continue
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e multiverse.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Category, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
