// Package database persists the state of the current inspection session: the
// palette being filled and the counters. Nothing older than the current palette is kept.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"inspectwatch/logging"
	"inspectwatch/types"

	_ "github.com/mattn/go-sqlite3"
)

// Session describes the running inspection session
type Session struct {
	ID                string
	StartedAt         time.Time
	WatchFolder       string
	Model             string
	Rows              int
	Columns           int
	TotalPieces       int
	PalettesCompleted int
}

// Snapshot is everything persisted for the current session
type Snapshot struct {
	Session  Session
	Cells    types.GridSnapshot
	Counters types.CountersSnapshot
}

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS session (
		id TEXT PRIMARY KEY,
		started_at TEXT,
		watch_folder TEXT,
		model TEXT,
		grid_rows INTEGER,
		grid_columns INTEGER,
		total_pieces INTEGER
	);
	CREATE TABLE IF NOT EXISTS palette_cells (
		seq INTEGER PRIMARY KEY,
		row_idx INTEGER NOT NULL,
		col_idx INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT,
		UNIQUE(row_idx, col_idx)
	);
	CREATE TABLE IF NOT EXISTS counters (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		nok INTEGER NOT NULL,
		updated_at TEXT
	);`

	_, err = db.Exec(createTableSQL)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Check if palettes_completed column exists, add it if it doesn't
	var hasCompletedColumn bool
	err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('session') WHERE name='palettes_completed'").Scan(&hasCompletedColumn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error checking for palettes_completed column: %v", err)
	}

	if !hasCompletedColumn {
		_, err = db.Exec("ALTER TABLE session ADD COLUMN palettes_completed INTEGER NOT NULL DEFAULT 0;")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("error adding palettes_completed column: %v", err)
		}
		logging.DebugLog("Added 'palettes_completed' column to database schema")
	}

	return db, nil
}

// OpenDatabase opens an existing database connection
func OpenDatabase(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath)
}

// StartSession replaces any previous session and clears its palette and counters
func StartSession(db *sql.DB, s Session) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("cannot begin session transaction: %v", err)
	}
	defer tx.Rollback()

	statements := []string{
		"DELETE FROM session",
		"DELETE FROM palette_cells",
		"DELETE FROM counters",
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("cannot reset session state: %v", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO session (id, started_at, watch_folder, model, grid_rows, grid_columns, total_pieces, palettes_completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, s.StartedAt.Format(time.RFC3339), s.WatchFolder, s.Model, s.Rows, s.Columns, s.TotalPieces)
	if err != nil {
		return fmt.Errorf("cannot store session %s: %v", s.ID, err)
	}

	_, err = tx.Exec("INSERT INTO counters (id, total, ok, nok, updated_at) VALUES (1, 0, 0, 0, ?)",
		s.StartedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot initialize counters: %v", err)
	}

	return tx.Commit()
}

// ClearPalette removes every stored cell
func ClearPalette(db *sql.DB) error {
	if _, err := db.Exec("DELETE FROM palette_cells"); err != nil {
		return fmt.Errorf("cannot clear palette: %v", err)
	}
	return nil
}

// StoreCell stores the cell filled as the seq-th piece of the current palette
func StoreCell(db *sql.DB, seq int, cell types.Cell) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO palette_cells (seq, row_idx, col_idx, status, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		seq, cell.Position.Row, cell.Position.Column, string(cell.Status), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot store cell %s: %v", cell.Position, err)
	}
	return nil
}

// MarkPaletteComplete counts one more completed palette for the session
func MarkPaletteComplete(db *sql.DB) error {
	if _, err := db.Exec("UPDATE session SET palettes_completed = palettes_completed + 1"); err != nil {
		return fmt.Errorf("cannot update completed palettes: %v", err)
	}
	return nil
}

// StoreCounters overwrites the stored counters
func StoreCounters(db *sql.DB, c types.CountersSnapshot) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO counters (id, total, ok, nok, updated_at)
		VALUES (1, ?, ?, ?, ?)`,
		c.Total, c.OK, c.NOK, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot store counters: %v", err)
	}
	return nil
}

// LoadSnapshot reads the current session, palette and counters
func LoadSnapshot(db *sql.DB) (*Snapshot, error) {
	var snap Snapshot
	var startedAt string

	err := db.QueryRow(`
		SELECT id, started_at, watch_folder, model, grid_rows, grid_columns, total_pieces, palettes_completed
		FROM session LIMIT 1`).Scan(
		&snap.Session.ID, &startedAt, &snap.Session.WatchFolder, &snap.Session.Model,
		&snap.Session.Rows, &snap.Session.Columns, &snap.Session.TotalPieces, &snap.Session.PalettesCompleted)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no inspection session recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read session: %v", err)
	}
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		snap.Session.StartedAt = t
	}

	rows, err := db.Query("SELECT row_idx, col_idx, status FROM palette_cells ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("cannot read palette: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cell types.Cell
		var status string
		if err := rows.Scan(&cell.Position.Row, &cell.Position.Column, &status); err != nil {
			return nil, fmt.Errorf("cannot read palette cell: %v", err)
		}
		cell.Status = types.Status(status)
		snap.Cells = append(snap.Cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot read palette: %v", err)
	}

	var c types.CountersSnapshot
	err = db.QueryRow("SELECT total, ok, nok FROM counters WHERE id = 1").Scan(&c.Total, &c.OK, &c.NOK)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("cannot read counters: %v", err)
	}
	snap.Counters = types.NewCountersSnapshot(c.Total, c.OK, c.NOK)

	return &snap, nil
}
