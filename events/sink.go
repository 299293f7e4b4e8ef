package events

import (
	"context"
	"fmt"
	"sync"

	inserrors "inspectwatch/errors"
	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/sirupsen/logrus"
)

// Sink renders or forwards events to one presentation target
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev types.Event) error
}

// Dispatcher runs each attached sink on its own goroutine, fed by its own subscription
type Dispatcher struct {
	bus    *Bus
	wg     sync.WaitGroup
	logger *logrus.Entry
}

// NewDispatcher creates a dispatcher over bus
func NewDispatcher(bus *Bus) *Dispatcher {
	return &Dispatcher{bus: bus, logger: logging.NewLogger("events")}
}

// Attach subscribes sink to the bus and starts delivering to it
func (d *Dispatcher) Attach(ctx context.Context, sink Sink, buffer int) error {
	ch, err := d.bus.Subscribe(sink.Name(), buffer)
	if err != nil {
		return fmt.Errorf("failed to subscribe sink %s: %w", sink.Name(), err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, sink, ch)
	}()
	d.logger.WithField("sink", sink.Name()).Debug("Sink attached")
	return nil
}

// Wait blocks until every sink has drained its subscription. Sinks stop when the bus is closed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, sink Sink, ch <-chan types.Event) {
	for ev := range ch {
		d.deliver(ctx, sink, ev)
	}
}

// deliver hands one event to a sink; failures and panics are logged and swallowed
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := inserrors.CallbackFailed(sink.Name(), fmt.Errorf("panic: %v", r))
			d.logger.WithError(err).Error("Sink panicked")
		}
	}()

	if err := sink.Handle(ctx, ev); err != nil {
		d.logger.WithError(inserrors.CallbackFailed(sink.Name(), err)).
			WithField("kind", ev.Kind).
			Warn("Sink failed to handle event")
	}
}
