// Package palette tracks the placement of inspection results onto the cells of a palette.
package palette

import (
	inserrors "inspectwatch/errors"
	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/sirupsen/logrus"
)

// Positions returns the rows x columns cells in serpentine order: even rows
// left to right, odd rows right to left
func Positions(rows, columns int) []types.CellPosition {
	if rows <= 0 || columns <= 0 {
		return nil
	}
	positions := make([]types.CellPosition, 0, rows*columns)
	for r := 0; r < rows; r++ {
		for i := 0; i < columns; i++ {
			c := i
			if r%2 == 1 {
				c = columns - 1 - i
			}
			positions = append(positions, types.CellPosition{Row: r, Column: c})
		}
	}
	return positions
}

// Machine is the palette state machine. It has a single writer (the processing
// loop) and exposes its state only through copied snapshots.
type Machine struct {
	positions   []types.CellPosition
	totalPieces int
	cursor      int
	cells       []types.Cell
	logger      *logrus.Entry
}

// NewMachine creates a machine for a rows x columns palette completing after totalPieces updates
func NewMachine(rows, columns, totalPieces int) *Machine {
	return &Machine{
		positions:   Positions(rows, columns),
		totalPieces: totalPieces,
		logger:      logging.NewLogger("palette"),
	}
}

// Positions returns a copy of the precomputed position sequence
func (m *Machine) Positions() []types.CellPosition {
	return append([]types.CellPosition(nil), m.positions...)
}

// TotalPieces returns the number of updates that complete a palette
func (m *Machine) TotalPieces() int {
	return m.totalPieces
}

// Cursor returns the index of the next position to fill
func (m *Machine) Cursor() int {
	return m.cursor
}

// Snapshot returns a copy of the filled cells in placement order
func (m *Machine) Snapshot() types.GridSnapshot {
	return append(types.GridSnapshot{}, m.cells...)
}

// Reset clears the palette and returns the start event for the new cycle
func (m *Machine) Reset() types.GridEvent {
	m.cursor = 0
	m.cells = m.cells[:0]
	return types.GridEvent{Status: types.GridStartNewPalette}
}

// Update places status on the next cell and returns the events it produced, in order
func (m *Machine) Update(status types.Status) []types.GridEvent {
	var events []types.GridEvent

	if m.cursor == 0 {
		events = append(events, m.Reset())
	}

	if m.cursor >= len(m.positions) {
		err := inserrors.PaletteOverrun(m.cursor, len(m.positions), m.totalPieces)
		m.logger.WithError(err).Warn("Palette overran its positions, starting a new palette")
		events = append(events, m.Reset())
		if len(m.positions) == 0 {
			return events
		}
	}

	pos := m.positions[m.cursor]
	m.cells = append(m.cells, types.Cell{Position: pos, Status: status})
	m.cursor++

	events = append(events, types.GridEvent{
		Status:      types.GridUpdateCell,
		Position:    &pos,
		PieceStatus: status,
		Grid:        m.Snapshot(),
		Count:       m.cursor,
	})

	if m.cursor == m.totalPieces {
		events = append(events, types.GridEvent{
			Status: types.GridPaletteComplete,
			Grid:   m.Snapshot(),
			Count:  m.cursor,
		})
		m.logger.WithField("pieces", m.cursor).Info("Palette complete")
		m.Reset()
	}

	return events
}
