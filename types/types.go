package types

import (
	"fmt"
	"strings"
	"time"
)

// Status is the binary outcome of one inspected piece
type Status string

const (
	StatusOK  Status = "ok"
	StatusNOK Status = "nok"
)

// ParseStatus converts a config or wire string into a Status
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOK:
		return StatusOK, nil
	case StatusNOK:
		return StatusNOK, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// WatchKind tells whether a file was created or modified
type WatchKind string

const (
	WatchCreated  WatchKind = "created"
	WatchModified WatchKind = "modified"
)

// WatchEvent is a raw filesystem notification for one path
type WatchEvent struct {
	Path string    `json:"path"`
	Kind WatchKind `json:"kind"`
}

// Image is a decoded (and possibly annotated) image passed between the codec,
// the inference engine and the presentation layer
type Image struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Encoded []byte `json:"encoded,omitempty"`
}

// InspectionResult holds the outcome of processing a single image
type InspectionResult struct {
	Path      string `json:"path"`
	Status    Status `json:"status"`
	Annotated *Image `json:"-"`
	// Fallback is set when the status was not matched by any keyword rule
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

// CellPosition addresses one cell of the palette grid
type CellPosition struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

func (p CellPosition) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Column)
}

// Cell is one filled palette position
type Cell struct {
	Position CellPosition `json:"position"`
	Status   Status       `json:"status"`
}

// GridSnapshot is an immutable copy of the palette cells in placement order
type GridSnapshot []Cell

// Map returns the snapshot keyed by position
func (g GridSnapshot) Map() map[CellPosition]Status {
	m := make(map[CellPosition]Status, len(g))
	for _, c := range g {
		m[c.Position] = c.Status
	}
	return m
}

// GridEventStatus names a palette lifecycle event
type GridEventStatus string

const (
	GridStartNewPalette GridEventStatus = "start_new_palette"
	GridUpdateCell      GridEventStatus = "update_cell"
	GridPaletteComplete GridEventStatus = "palette_complete"
)

// GridEvent is emitted by the palette state machine
type GridEvent struct {
	Status      GridEventStatus `json:"status"`
	Position    *CellPosition   `json:"position,omitempty"`
	PieceStatus Status          `json:"piece_status,omitempty"`
	Grid        GridSnapshot    `json:"grid,omitempty"`
	Count       int             `json:"count,omitempty"`
}

// CountersSnapshot is a read-only view of the session counters
type CountersSnapshot struct {
	Total      int     `json:"total"`
	OK         int     `json:"ok"`
	NOK        int     `json:"nok"`
	OKPercent  float64 `json:"ok_percent"`
	NOKPercent float64 `json:"nok_percent"`
}

// NewCountersSnapshot builds a snapshot, deriving the percentages from the counts
func NewCountersSnapshot(total, ok, nok int) CountersSnapshot {
	s := CountersSnapshot{Total: total, OK: ok, NOK: nok}
	if total > 0 {
		s.OKPercent = float64(ok) * 100 / float64(total)
		s.NOKPercent = float64(nok) * 100 / float64(total)
	}
	return s
}

// EventKind identifies the payload of an output Event
type EventKind string

const (
	EventImage    EventKind = "image"
	EventStatus   EventKind = "status"
	EventGrid     EventKind = "grid"
	EventCounters EventKind = "counters"
)

// Event is a message published by the processing loop to the presentation layer
type Event struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Kind      EventKind         `json:"kind"`
	Time      time.Time         `json:"time"`
	Path      string            `json:"path,omitempty"`
	Image     *Image            `json:"image,omitempty"`
	Status    Status            `json:"status,omitempty"`
	Fallback  bool              `json:"fallback,omitempty"`
	Grid      *GridEvent        `json:"grid,omitempty"`
	Counters  *CountersSnapshot `json:"counters,omitempty"`
}
