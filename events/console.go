package events

import (
	"context"
	"fmt"
	"io"
	"strings"

	"inspectwatch/types"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// ConsoleSink prints statuses, counters and palettes to a terminal
type ConsoleSink struct {
	out     io.Writer
	rows    int
	columns int
}

// NewConsoleSink creates a console sink drawing rows x columns palettes
func NewConsoleSink(out io.Writer, rows, columns int) *ConsoleSink {
	if out == nil {
		out = color.Output
	}
	return &ConsoleSink{out: out, rows: rows, columns: columns}
}

// Name implements Sink
func (c *ConsoleSink) Name() string { return "console" }

// Handle implements Sink
func (c *ConsoleSink) Handle(_ context.Context, ev types.Event) error {
	switch ev.Kind {
	case types.EventStatus:
		c.printStatus(ev)
	case types.EventCounters:
		if ev.Counters != nil {
			s := ev.Counters
			fmt.Fprintf(c.out, "Total: %d  OK: %d (%.1f%%)  NOK: %d (%.1f%%)\n",
				s.Total, s.OK, s.OKPercent, s.NOK, s.NOKPercent)
		}
	case types.EventGrid:
		c.printGrid(ev.Grid)
	}
	return nil
}

func (c *ConsoleSink) printStatus(ev types.Event) {
	switch ev.Status {
	case types.StatusOK:
		green.Fprintf(c.out, "✓ OK   %s\n", ev.Path)
	default:
		red.Fprintf(c.out, "✗ NOK  %s\n", ev.Path)
	}
	if ev.Fallback {
		yellow.Fprintf(c.out, "⚠️  model output matched no status keyword, scored nok\n")
	}
}

func (c *ConsoleSink) printGrid(g *types.GridEvent) {
	if g == nil {
		return
	}
	switch g.Status {
	case types.GridStartNewPalette:
		cyan.Fprintln(c.out, "--- new palette ---")
	case types.GridUpdateCell:
		if g.Position != nil {
			fmt.Fprintf(c.out, "cell %s -> %s [%d]\n", g.Position, g.PieceStatus, g.Count)
		}
	case types.GridPaletteComplete:
		cyan.Fprintf(c.out, "--- palette complete (%d pieces) ---\n", g.Count)
		c.drawPalette(g.Grid)
	}
}

// drawPalette prints the palette as a matrix: O for ok, X for nok, . for empty
func (c *ConsoleSink) drawPalette(grid types.GridSnapshot) {
	cells := grid.Map()
	for r := 0; r < c.rows; r++ {
		var line strings.Builder
		for col := 0; col < c.columns; col++ {
			if col > 0 {
				line.WriteString(" ")
			}
			switch cells[types.CellPosition{Row: r, Column: col}] {
			case types.StatusOK:
				line.WriteString(green.Sprint("O"))
			case types.StatusNOK:
				line.WriteString(red.Sprint("X"))
			default:
				line.WriteString(".")
			}
		}
		fmt.Fprintln(c.out, line.String())
	}
}
