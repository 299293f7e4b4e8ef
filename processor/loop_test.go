package processor

import (
	"context"
	"os"
	"testing"
	"time"

	inserrors "inspectwatch/errors"
	"inspectwatch/inference"
	"inspectwatch/palette"
	"inspectwatch/queue"
	"inspectwatch/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(q Source, bus *recordingBus, grid *palette.Machine) (*Loop, *fakeEngine) {
	engine := &fakeEngine{}
	loop := NewLoop(q, fakeCodec{}, &fakeLoader{engine: engine}, defaultRule(), bus, Options{
		SessionID:    "session-1",
		PollInterval: 20 * time.Millisecond,
		Params:       inference.Params{Confidence: 0.6, IoU: 0.5, Classes: []int{0, 1}},
		Palette:      grid,
	})
	return loop, engine
}

func runLoop(t *testing.T, loop *Loop) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestProcessImageCorruptFileIsDeletedAndScoredNOK(t *testing.T) {
	bus := &recordingBus{}
	loop, _ := newTestLoop(queue.New(1), bus, nil)
	require.NoError(t, loop.LoadEngine(context.Background()))
	path := writeImage(t, t.TempDir(), "broken.jpg", "corrupt")

	result, err := loop.ProcessImage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNOK, result.Status)
	assert.Nil(t, result.Annotated)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessImageForwardsParams(t *testing.T) {
	loop, engine := newTestLoop(queue.New(1), &recordingBus{}, nil)
	require.NoError(t, loop.LoadEngine(context.Background()))
	path := writeImage(t, t.TempDir(), "a.jpg", "good_piece")

	result, err := loop.ProcessImage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, result.Status)
	assert.False(t, result.Fallback)
	require.NotNil(t, result.Annotated)
	assert.Equal(t, "ok:good_piece", string(result.Annotated.Encoded))
	require.Len(t, engine.params, 1)
	assert.Equal(t, inference.Params{Confidence: 0.6, IoU: 0.5, Classes: []int{0, 1}}, engine.params[0])
}

func TestProcessImageFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"label matches no keyword", "mystery"},
		{"unrecognized output shape", "segment"},
		{"detection without label", "det:"},
	}

	loop, _ := newTestLoop(queue.New(1), &recordingBus{}, nil)
	require.NoError(t, loop.LoadEngine(context.Background()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeImage(t, t.TempDir(), "a.jpg", tt.content)
			result, err := loop.ProcessImage(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, types.StatusNOK, result.Status)
			assert.True(t, result.Fallback)
			assert.NotEmpty(t, result.Reason)
			assert.NotNil(t, result.Annotated)
		})
	}
	assert.Equal(t, uint64(3), loop.Stats().Fallbacks)
}

func TestProcessImageScoresEveryDetection(t *testing.T) {
	loop, _ := newTestLoop(queue.New(1), &recordingBus{}, nil)
	require.NoError(t, loop.LoadEngine(context.Background()))
	dir := t.TempDir()

	result, err := loop.ProcessImage(context.Background(), writeImage(t, dir, "a.jpg", "det:ok_part,nok_scratch"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusNOK, result.Status)
	assert.False(t, result.Fallback)

	result, err = loop.ProcessImage(context.Background(), writeImage(t, dir, "b.jpg", "det:good_part,ok_edge"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, result.Status)
}

func TestProcessImageEngineError(t *testing.T) {
	loop, _ := newTestLoop(queue.New(1), &recordingBus{}, nil)
	require.NoError(t, loop.LoadEngine(context.Background()))
	path := writeImage(t, t.TempDir(), "a.jpg", "engine-error")

	result, err := loop.ProcessImage(context.Background(), path)
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "CUDA out of memory")
}

func TestEndToEndPaletteScenario(t *testing.T) {
	q := queue.New(10)
	bus := &recordingBus{}
	loop, _ := newTestLoop(q, bus, palette.NewMachine(2, 2, 4))

	dir := t.TempDir()
	for i, label := range []string{"good", "bad", "good", "good"} {
		require.NoError(t, q.TryPush(writeImage(t, dir, string(rune('a'+i))+".jpg", label)))
	}

	_, done := runLoop(t, loop)
	require.Eventually(t, func() bool {
		return len(bus.gridStatuses()) == 6
	}, 5*time.Second, 10*time.Millisecond)
	loop.Halt()
	require.NoError(t, <-done)

	assert.Equal(t, []types.GridEventStatus{
		types.GridStartNewPalette,
		types.GridUpdateCell,
		types.GridUpdateCell,
		types.GridUpdateCell,
		types.GridUpdateCell,
		types.GridPaletteComplete,
	}, bus.gridStatuses())

	grid := bus.ofKind(types.EventGrid)
	wantPositions := []types.CellPosition{{Row: 0, Column: 0}, {Row: 0, Column: 1}, {Row: 1, Column: 1}, {Row: 1, Column: 0}}
	wantStatuses := []types.Status{types.StatusOK, types.StatusNOK, types.StatusOK, types.StatusOK}
	for i := range wantPositions {
		ev := grid[i+1]
		assert.Equal(t, wantPositions[i], *ev.Grid.Position)
		assert.Equal(t, wantStatuses[i], ev.Grid.PieceStatus)
		assert.Equal(t, "session-1", ev.SessionID)
	}
	assert.Equal(t, map[types.CellPosition]types.Status{
		{Row: 0, Column: 0}: types.StatusOK,
		{Row: 0, Column: 1}: types.StatusNOK,
		{Row: 1, Column: 1}: types.StatusOK,
		{Row: 1, Column: 0}: types.StatusOK,
	}, grid[5].Grid.Grid.Map())

	assert.Equal(t, types.NewCountersSnapshot(4, 3, 1), loop.Counters())
	counters := bus.ofKind(types.EventCounters)
	require.Len(t, counters, 4)
	assert.Equal(t, 4, counters[3].Counters.Total)
	assert.Len(t, bus.ofKind(types.EventImage), 4)
	assert.Len(t, bus.ofKind(types.EventStatus), 4)
}

func TestLoopCorruptFileFeedsPaletteButNotCounters(t *testing.T) {
	q := queue.New(10)
	bus := &recordingBus{}
	loop, _ := newTestLoop(q, bus, palette.NewMachine(1, 2, 2))
	path := writeImage(t, t.TempDir(), "broken.jpg", "corrupt")
	require.NoError(t, q.TryPush(path))

	_, done := runLoop(t, loop)
	require.Eventually(t, func() bool { return len(bus.gridStatuses()) == 2 }, 5*time.Second, 10*time.Millisecond)
	loop.Halt()
	require.NoError(t, <-done)

	grid := bus.ofKind(types.EventGrid)
	assert.Equal(t, types.StatusNOK, grid[1].Grid.PieceStatus)
	assert.Empty(t, bus.ofKind(types.EventImage))
	assert.Empty(t, bus.ofKind(types.EventCounters))
	assert.Equal(t, types.CountersSnapshot{}, loop.Counters())
	assert.Equal(t, uint64(1), loop.Stats().Corrupt)
}

func TestLoopSkipsMissingFailedAndPanickingItems(t *testing.T) {
	q := queue.New(10)
	bus := &recordingBus{}
	loop, _ := newTestLoop(q, bus, palette.NewMachine(2, 2, 4))
	dir := t.TempDir()

	require.NoError(t, q.TryPush(dir+"/gone.jpg"))
	require.NoError(t, q.TryPush(writeImage(t, dir, "a.jpg", "engine-error")))
	require.NoError(t, q.TryPush(writeImage(t, dir, "b.jpg", "panic-decode")))
	require.NoError(t, q.TryPush(writeImage(t, dir, "c.jpg", "good")))

	_, done := runLoop(t, loop)
	require.Eventually(t, func() bool { return len(bus.ofKind(types.EventStatus)) == 1 }, 5*time.Second, 10*time.Millisecond)
	loop.Halt()
	require.NoError(t, <-done)

	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.Missing)
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, []types.GridEventStatus{types.GridStartNewPalette, types.GridUpdateCell}, bus.gridStatuses())
}

func TestRunFailsWhenEngineUnavailable(t *testing.T) {
	loader := &fakeLoader{err: inserrors.EngineUnavailable("best.pt", os.ErrNotExist)}
	loop := NewLoop(queue.New(1), fakeCodec{}, loader, defaultRule(), &recordingBus{}, Options{})

	err := loop.Run(context.Background())
	assert.True(t, inserrors.Is(err, inserrors.ErrCodeEngineUnavailable))
}

func TestLoadEngineOnlyOnce(t *testing.T) {
	loader := &fakeLoader{engine: &fakeEngine{}}
	loop := NewLoop(queue.New(1), fakeCodec{}, loader, defaultRule(), &recordingBus{}, Options{})

	require.NoError(t, loop.LoadEngine(context.Background()))
	require.NoError(t, loop.LoadEngine(context.Background()))
	assert.Equal(t, 1, loader.loads)
	assert.NotNil(t, loop.Engine())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	loop, _ := newTestLoop(queue.New(1), &recordingBus{}, nil)
	cancel, done := runLoop(t, loop)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestResetCounters(t *testing.T) {
	bus := &recordingBus{}
	loop, _ := newTestLoop(queue.New(1), bus, nil)
	loop.counters.Record(types.StatusOK)
	loop.counters.Record(types.StatusNOK)

	snap := loop.ResetCounters()
	assert.Equal(t, types.CountersSnapshot{}, snap)
	assert.Equal(t, types.CountersSnapshot{}, loop.Counters())

	counters := bus.ofKind(types.EventCounters)
	require.Len(t, counters, 1)
	assert.Equal(t, 0, counters[0].Counters.Total)
}

// slowEngine blocks each prediction until released, honouring ctx like the worker engine
type slowEngine struct {
	started chan struct{}
	release chan struct{}
}

func (e *slowEngine) Predict(ctx context.Context, img *types.Image, _ inference.Params) (*inference.Prediction, error) {
	close(e.started)
	select {
	case <-e.release:
		return &inference.Prediction{Task: inference.TaskClassify, TopClass: string(img.Encoded)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *slowEngine) Close() error { return nil }

func TestCancelDuringPredictionFinishesTheImage(t *testing.T) {
	q := queue.New(1)
	bus := &recordingBus{}
	engine := &slowEngine{started: make(chan struct{}), release: make(chan struct{})}
	loop := NewLoop(q, fakeCodec{}, &fakeLoader{}, defaultRule(), bus, Options{
		SessionID:    "session-1",
		PollInterval: 20 * time.Millisecond,
		Palette:      palette.NewMachine(1, 2, 2),
	})
	loop.engine = engine
	require.NoError(t, q.TryPush(writeImage(t, t.TempDir(), "a.jpg", "good")))

	cancel, done := runLoop(t, loop)
	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("prediction never started")
	}
	cancel()
	close(engine.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	statuses := bus.ofKind(types.EventStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, types.StatusOK, statuses[0].Status)
	assert.Equal(t, []types.GridEventStatus{types.GridStartNewPalette, types.GridUpdateCell}, bus.gridStatuses())
	assert.Equal(t, 1, loop.Counters().Total)
	assert.Equal(t, uint64(0), loop.Stats().Failed)
}
