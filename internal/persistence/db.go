// Package persistence provides SQLite-based run history storage: the branch
// tree, the event log, and run metadata. Wave functions are not stored —
// phase evolution is closed-form, so a restored run replays them exactly
// from shape plus elapsed time.
package persistence

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/multiverse-analyzer/internal/multiverse"
	"github.com/talgya/multiverse-analyzer/internal/quantum"
)

// DB wraps a SQLite connection for run state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS branches (
		ord INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		parent_ord INTEGER,
		shape TEXT NOT NULL,
		branch_prob REAL NOT NULL,
		abs_prob REAL NOT NULL,
		born_tick INTEGER NOT NULL,
		born_time REAL NOT NULL,
		depth INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_branches_parent ON branches(parent_ord);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun performs a full-replace snapshot of the simulator state.
func (db *DB) SaveRun(sim *multiverse.Simulator) error {
	branches := sim.Branches()
	slog.Info("saving run", "branches", len(branches), "tick", sim.Tick())

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM branches"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM events"); err != nil {
		return err
	}

	// Flat creation order doubles as the ordinal; parents always precede
	// children, so restore can rebuild the tree in one pass.
	ord := make(map[*multiverse.Branch]int, len(branches))
	for i, b := range branches {
		ord[b] = i
	}

	stmt, err := tx.Preparex(`INSERT INTO branches
		(ord, id, parent_ord, shape, branch_prob, abs_prob, born_tick, born_time, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, b := range branches {
		var parentOrd *int
		if b.Parent != nil {
			p := ord[b.Parent]
			parentOrd = &p
		}
		if _, err := stmt.Exec(i, b.ID.String(), parentOrd, b.Shape.String(),
			b.BranchProb, b.AbsProb, b.BornTick, b.BornTime, b.Depth); err != nil {
			return fmt.Errorf("insert branch %d: %w", i, err)
		}
	}

	for _, e := range sim.Events() {
		if _, err := tx.Exec(
			"INSERT INTO events (tick, description, category) VALUES (?, ?, ?)",
			e.Tick, e.Description, e.Category,
		); err != nil {
			return err
		}
	}

	root := sim.Root()
	meta := map[string]string{
		"last_tick":  strconv.FormatUint(sim.Tick(), 10),
		"sim_time":   strconv.FormatFloat(sim.Time(), 'g', -1, 64),
		"dimensions": strconv.Itoa(root.State.Dims),
		"resolution": strconv.Itoa(root.State.Res),
		"shape":      root.Shape.String(),
		"max_depth":  strconv.Itoa(sim.MaxDepth()),
		"seed":       strconv.FormatInt(sim.Seed(), 10),
	}
	for k, v := range meta {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)", k, v,
		); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// HasRun reports whether a saved run exists.
func (db *DB) HasRun() bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM branches"); err != nil {
		return false
	}
	return n > 0
}

// LoadRun rebuilds a simulator from the saved run and replays the phase
// evolution up to the stored simulated time.
func (db *DB) LoadRun() (*multiverse.Simulator, error) {
	meta, err := db.allMeta()
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}

	cfg := multiverse.DefaultConfig()
	if v, ok := meta["dimensions"]; ok {
		cfg.Dimensions, _ = strconv.Atoi(v)
	}
	if v, ok := meta["resolution"]; ok {
		cfg.Resolution, _ = strconv.Atoi(v)
	}
	if v, ok := meta["shape"]; ok {
		if sh, err := quantum.ParseShape(v); err == nil {
			cfg.Shape = sh
		}
	}
	if v, ok := meta["max_depth"]; ok {
		cfg.MaxDepth, _ = strconv.Atoi(v)
	}
	if v, ok := meta["seed"]; ok {
		cfg.Seed, _ = strconv.ParseInt(v, 10, 64)
	}

	sim, err := multiverse.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("rebuild simulator: %w", err)
	}

	type branchRow struct {
		Ord        int     `db:"ord"`
		ID         string  `db:"id"`
		ParentOrd  *int    `db:"parent_ord"`
		Shape      string  `db:"shape"`
		BranchProb float64 `db:"branch_prob"`
		AbsProb    float64 `db:"abs_prob"`
		BornTick   uint64  `db:"born_tick"`
		BornTime   float64 `db:"born_time"`
		Depth      int     `db:"depth"`
	}

	var rows []branchRow
	if err := db.conn.Select(&rows, "SELECT * FROM branches ORDER BY ord"); err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}

	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("branch %d: bad id: %w", row.Ord, err)
		}
		if row.ParentOrd == nil {
			// Root: already built by New, just restore its identity.
			sim.SetRootID(id)
			continue
		}
		shape, err := quantum.ParseShape(row.Shape)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", row.Ord, err)
		}
		if err := sim.RestoreBranch(*row.ParentOrd, shape, row.BranchProb, row.BornTick, row.BornTime, id); err != nil {
			return nil, fmt.Errorf("branch %d: %w", row.Ord, err)
		}
	}

	var tick uint64
	var simTime float64
	if v, ok := meta["last_tick"]; ok {
		tick, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := meta["sim_time"]; ok {
		simTime, _ = strconv.ParseFloat(v, 64)
	}
	sim.RestoreClock(tick, simTime)

	events, err := db.RecentEvents(multiverse.EventLogCap)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	sim.RestoreEvents(events)

	slog.Info("run restored", "branches", sim.BranchCount(), "tick", tick, "sim_time", simTime)
	return sim, nil
}

func (db *DB) allMeta() (map[string]string, error) {
	type kv struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	var rows []kv
	if err := db.conn.Select(&rows, "SELECT key, value FROM run_meta"); err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(rows))
	for _, r := range rows {
		meta[r.Key] = r.Value
	}
	return meta, nil
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}

// RecentEvents returns the most recent N events, oldest first.
func (db *DB) RecentEvents(limit int) ([]multiverse.Event, error) {
	var events []multiverse.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM (SELECT id, tick, description, category FROM events ORDER BY id DESC LIMIT ?) ORDER BY id",
		limit,
	)
	return events, err
}
