// Package processor drains the work queue: each image is decoded, run through the
// inference engine, scored ok/nok and published to the presentation layer.
package processor

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	inserrors "inspectwatch/errors"
	"inspectwatch/events"
	"inspectwatch/inference"
	"inspectwatch/logging"
	"inspectwatch/palette"
	"inspectwatch/types"

	"github.com/sirupsen/logrus"
)

// Source hands out queued image paths
type Source interface {
	Pop(ctx context.Context, wait time.Duration) (string, bool)
}

// Codec decodes and annotates images
type Codec interface {
	Decode(path string) (*types.Image, error)
	Annotate(img *types.Image, status types.Status) (*types.Image, error)
}

// Publisher receives the loop's output events
type Publisher interface {
	Publish(ev types.Event)
}

// Options configures a Loop
type Options struct {
	SessionID    string
	PollInterval time.Duration
	Params       inference.Params
	// Palette is nil when grid mode is disabled
	Palette *palette.Machine
}

// Stats are the lifetime counters of a Loop
type Stats struct {
	Processed uint64
	Missing   uint64
	Corrupt   uint64
	Failed    uint64
	Fallbacks uint64
}

// Loop is the single consumer of the work queue
type Loop struct {
	source   Source
	codec    Codec
	loader   inference.Loader
	engine   inference.Engine
	rule     *StatusRule
	counters *Counters
	bus      Publisher
	opts     Options
	logger   *logrus.Entry

	// dispatchMu serializes counter updates from the loop with user resets
	dispatchMu sync.Mutex
	halted     atomic.Bool

	processed atomic.Uint64
	missing   atomic.Uint64
	corrupt   atomic.Uint64
	failed    atomic.Uint64
	fallbacks atomic.Uint64
}

// NewLoop creates a loop; the engine is acquired from loader on the first Run
func NewLoop(source Source, codec Codec, loader inference.Loader, rule *StatusRule, bus Publisher, opts Options) *Loop {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Loop{
		source:   source,
		codec:    codec,
		loader:   loader,
		rule:     rule,
		counters: &Counters{},
		bus:      bus,
		opts:     opts,
		logger:   logging.NewLogger("processor"),
	}
}

// LoadEngine acquires the inference engine unless it is already loaded
func (l *Loop) LoadEngine(ctx context.Context) error {
	if l.engine != nil {
		return nil
	}
	engine, err := l.loader.Load(ctx)
	if err != nil {
		if !inserrors.Is(err, inserrors.ErrCodeEngineUnavailable) {
			err = inserrors.EngineUnavailable("", err)
		}
		return err
	}
	l.engine = engine
	return nil
}

// Engine returns the loaded engine, or nil
func (l *Loop) Engine() inference.Engine {
	return l.engine
}

// Run processes queued images until Halt is called or ctx is done. Either way the
// image in flight is finished first. A failure to load the engine is returned;
// every other failure is logged and skipped.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.LoadEngine(ctx); err != nil {
		l.logger.WithError(err).Error("Failed to load the inference engine")
		return err
	}

	// ctx only stops the polling; an image already taken off the queue is
	// processed to the end, bounded by the engine's own request timeout
	work := context.WithoutCancel(ctx)

	l.logger.WithField("poll_interval", l.opts.PollInterval).Info("Processing loop started")
	for !l.halted.Load() && ctx.Err() == nil {
		l.step(ctx, work)
	}

	s := l.Stats()
	l.logger.WithFields(logrus.Fields{
		"processed": s.Processed,
		"missing":   s.Missing,
		"corrupt":   s.Corrupt,
		"failed":    s.Failed,
		"fallbacks": s.Fallbacks,
	}).Info("Processing loop stopped")
	return nil
}

// Halt makes Run return after the current iteration
func (l *Loop) Halt() {
	l.halted.Store(true)
}

// step waits up to one poll interval for a path and processes it with work
func (l *Loop) step(ctx, work context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Unexpected error while draining the queue")
		}
	}()

	path, ok := l.source.Pop(ctx, l.opts.PollInterval)
	if !ok {
		return
	}
	l.processItem(work, path)
}

func (l *Loop) processItem(ctx context.Context, path string) {
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			l.logger.WithFields(logrus.Fields{
				"path":  path,
				"panic": r,
			}).Errorf("Panic while processing image\nStack trace: %s", debug.Stack())
		}
	}()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		l.missing.Add(1)
		l.logger.WithField("path", path).Error("Image not found, skipping")
		return
	}

	result, err := l.ProcessImage(ctx, path)
	if err != nil {
		l.failed.Add(1)
		logging.LogImageProcessed(path, "", err)
		return
	}

	l.processed.Add(1)
	l.dispatch(result)
	logging.LogImageProcessed(path, string(result.Status), nil)
}

// ProcessImage decodes, predicts, scores and annotates one image. A file that
// cannot be decoded is deleted and scored nok without an annotated image.
func (l *Loop) ProcessImage(ctx context.Context, path string) (*types.InspectionResult, error) {
	img, err := l.codec.Decode(path)
	if err != nil {
		l.corrupt.Add(1)
		l.logger.WithError(err).WithField("path", path).Error("Cannot decode image, deleting it")
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			l.logger.WithError(rmErr).WithField("path", path).Warn("Failed to delete corrupt image")
		}
		return &types.InspectionResult{Path: path, Status: types.StatusNOK, Reason: "corrupt image"}, nil
	}

	if l.engine == nil {
		return nil, inserrors.New(inserrors.ErrCodeEngineUnavailable, "inference engine not loaded")
	}

	var decision Decision
	pred, err := l.engine.Predict(ctx, img, l.opts.Params)
	switch {
	case err == nil:
		decision = l.rule.Classify(pred)
	case inserrors.Is(err, inserrors.ErrCodeUnrecognizedOutput):
		decision = Unrecognized(err)
	default:
		return nil, fmt.Errorf("prediction failed for %s: %w", path, err)
	}

	if !decision.Matched {
		l.fallbacks.Add(1)
		l.logger.WithFields(logrus.Fields{
			"path":   path,
			"label":  decision.Label,
			"reason": decision.Reason,
		}).Warn("Model output not recognized, defaulting to nok")
	}

	result := &types.InspectionResult{
		Path:     path,
		Status:   decision.Status,
		Fallback: !decision.Matched,
		Reason:   decision.Reason,
	}

	annotated, err := l.codec.Annotate(img, decision.Status)
	if err != nil {
		l.logger.WithError(err).WithField("path", path).Error("Failed to annotate image")
		return result, nil
	}
	result.Annotated = annotated
	return result, nil
}

// dispatch publishes the outputs of one processed image
func (l *Loop) dispatch(result *types.InspectionResult) {
	if result.Annotated != nil {
		ev := events.NewEvent(l.opts.SessionID, types.EventImage)
		ev.Path = result.Path
		ev.Image = result.Annotated
		l.publish(ev)

		if result.Status != "" {
			l.dispatchMu.Lock()
			snap := l.counters.Record(result.Status)

			ev = events.NewEvent(l.opts.SessionID, types.EventStatus)
			ev.Path = result.Path
			ev.Status = result.Status
			ev.Fallback = result.Fallback
			l.publish(ev)

			ev = events.NewEvent(l.opts.SessionID, types.EventCounters)
			ev.Counters = &snap
			l.publish(ev)
			l.dispatchMu.Unlock()
		}
	}

	if l.opts.Palette != nil && result.Status != "" {
		for _, g := range l.opts.Palette.Update(result.Status) {
			g := g
			ev := events.NewEvent(l.opts.SessionID, types.EventGrid)
			ev.Path = result.Path
			ev.Grid = &g
			l.publish(ev)
		}
	}
}

// publish hands an event to the bus; a failing publisher never stops the loop
func (l *Loop) publish(ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := inserrors.CallbackFailed("bus", fmt.Errorf("panic: %v", r))
			l.logger.WithError(err).WithField("kind", ev.Kind).Error("Failed to publish event")
		}
	}()
	l.bus.Publish(ev)
}

// ResetCounters zeroes the session counters and publishes the empty snapshot
func (l *Loop) ResetCounters() types.CountersSnapshot {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	snap := l.counters.Reset()
	ev := events.NewEvent(l.opts.SessionID, types.EventCounters)
	ev.Counters = &snap
	l.publish(ev)
	l.logger.Info("Counters reset")
	return snap
}

// Counters returns a snapshot of the session counters
func (l *Loop) Counters() types.CountersSnapshot {
	return l.counters.Snapshot()
}

// Stats returns a snapshot of the loop counters
func (l *Loop) Stats() Stats {
	return Stats{
		Processed: l.processed.Load(),
		Missing:   l.missing.Load(),
		Corrupt:   l.corrupt.Load(),
		Failed:    l.failed.Load(),
		Fallbacks: l.fallbacks.Load(),
	}
}
