package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"inspectwatch/database"
	"inspectwatch/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSinkFollowsPalette(t *testing.T) {
	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.StartSession(db, database.Session{ID: "s", StartedAt: time.Now(), Rows: 1, Columns: 2, TotalPieces: 2}))

	sink := NewStoreSink(db)
	ctx := context.Background()
	grid := func(g types.GridEvent) types.Event {
		ev := NewEvent("s", types.EventGrid)
		ev.Grid = &g
		return ev
	}
	first := types.CellPosition{Row: 0, Column: 0}
	second := types.CellPosition{Row: 0, Column: 1}

	require.NoError(t, sink.Handle(ctx, grid(types.GridEvent{Status: types.GridStartNewPalette})))
	require.NoError(t, sink.Handle(ctx, grid(types.GridEvent{Status: types.GridUpdateCell, Position: &first, PieceStatus: types.StatusOK, Count: 1})))

	snap, err := database.LoadSnapshot(db)
	require.NoError(t, err)
	assert.Len(t, snap.Cells, 1)

	require.NoError(t, sink.Handle(ctx, grid(types.GridEvent{Status: types.GridUpdateCell, Position: &second, PieceStatus: types.StatusNOK, Count: 2})))
	require.NoError(t, sink.Handle(ctx, grid(types.GridEvent{Status: types.GridPaletteComplete, Count: 2})))
	counters := NewEvent("s", types.EventCounters)
	c := types.NewCountersSnapshot(2, 1, 1)
	counters.Counters = &c
	require.NoError(t, sink.Handle(ctx, counters))

	snap, err = database.LoadSnapshot(db)
	require.NoError(t, err)
	assert.Len(t, snap.Cells, 2)
	assert.Equal(t, 1, snap.Session.PalettesCompleted)
	assert.Equal(t, 2, snap.Counters.Total)

	require.NoError(t, sink.Handle(ctx, grid(types.GridEvent{Status: types.GridStartNewPalette})))
	snap, err = database.LoadSnapshot(db)
	require.NoError(t, err)
	assert.Empty(t, snap.Cells)
}
