package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"inspectwatch/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDatabase(filepath.Join(t.TempDir(), "inspectwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSession(id string) Session {
	return Session{
		ID:          id,
		StartedAt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		WatchFolder: "/data/incoming",
		Model:       "models/best.pt",
		Rows:        2,
		Columns:     2,
		TotalPieces: 4,
	}
}

func TestInitDatabaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inspectwatch.db")
	db, err := InitDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDatabase(path)
	require.NoError(t, err)
	defer db.Close()
}

func TestSessionPaletteAndCounters(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, StartSession(db, testSession("s-1")))

	require.NoError(t, StoreCell(db, 1, types.Cell{Position: types.CellPosition{Row: 0, Column: 0}, Status: types.StatusOK}))
	require.NoError(t, StoreCell(db, 2, types.Cell{Position: types.CellPosition{Row: 0, Column: 1}, Status: types.StatusNOK}))
	require.NoError(t, StoreCounters(db, types.NewCountersSnapshot(2, 1, 1)))

	snap, err := LoadSnapshot(db)
	require.NoError(t, err)
	assert.Equal(t, "s-1", snap.Session.ID)
	assert.Equal(t, "/data/incoming", snap.Session.WatchFolder)
	assert.Equal(t, 4, snap.Session.TotalPieces)
	assert.True(t, snap.Session.StartedAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, types.GridSnapshot{
		{Position: types.CellPosition{Row: 0, Column: 0}, Status: types.StatusOK},
		{Position: types.CellPosition{Row: 0, Column: 1}, Status: types.StatusNOK},
	}, snap.Cells)
	assert.Equal(t, 2, snap.Counters.Total)
	assert.InDelta(t, 50.0, snap.Counters.OKPercent, 1e-9)
}

func TestClearPaletteAndCompletion(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, StartSession(db, testSession("s-1")))
	require.NoError(t, StoreCell(db, 1, types.Cell{Position: types.CellPosition{Row: 0, Column: 0}, Status: types.StatusOK}))

	require.NoError(t, MarkPaletteComplete(db))
	require.NoError(t, ClearPalette(db))

	snap, err := LoadSnapshot(db)
	require.NoError(t, err)
	assert.Empty(t, snap.Cells)
	assert.Equal(t, 1, snap.Session.PalettesCompleted)
}

func TestStartSessionReplacesPrevious(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, StartSession(db, testSession("s-1")))
	require.NoError(t, StoreCell(db, 1, types.Cell{Position: types.CellPosition{Row: 1, Column: 1}, Status: types.StatusNOK}))
	require.NoError(t, StoreCounters(db, types.NewCountersSnapshot(5, 4, 1)))

	require.NoError(t, StartSession(db, testSession("s-2")))

	snap, err := LoadSnapshot(db)
	require.NoError(t, err)
	assert.Equal(t, "s-2", snap.Session.ID)
	assert.Empty(t, snap.Cells)
	assert.Equal(t, types.CountersSnapshot{}, snap.Counters)
}

func TestLoadSnapshotWithoutSession(t *testing.T) {
	db := setupTestDB(t)
	_, err := LoadSnapshot(db)
	assert.Error(t, err)
}
