package events

import (
	"context"
	"database/sql"

	"inspectwatch/database"
	"inspectwatch/types"
)

// StoreSink keeps the sqlite snapshot of the current palette and counters up to date
type StoreSink struct {
	db *sql.DB
}

// NewStoreSink creates a sink writing to db
func NewStoreSink(db *sql.DB) *StoreSink {
	return &StoreSink{db: db}
}

// Name implements Sink
func (s *StoreSink) Name() string { return "store" }

// Handle implements Sink
func (s *StoreSink) Handle(_ context.Context, ev types.Event) error {
	switch ev.Kind {
	case types.EventCounters:
		if ev.Counters != nil {
			return database.StoreCounters(s.db, *ev.Counters)
		}
	case types.EventGrid:
		return s.handleGrid(ev.Grid)
	}
	return nil
}

func (s *StoreSink) handleGrid(g *types.GridEvent) error {
	if g == nil {
		return nil
	}
	switch g.Status {
	case types.GridStartNewPalette:
		return database.ClearPalette(s.db)
	case types.GridUpdateCell:
		if g.Position == nil {
			return nil
		}
		return database.StoreCell(s.db, g.Count, types.Cell{Position: *g.Position, Status: g.PieceStatus})
	case types.GridPaletteComplete:
		return database.MarkPaletteComplete(s.db)
	}
	return nil
}
