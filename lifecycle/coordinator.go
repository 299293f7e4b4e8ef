// Package lifecycle wires the watcher, work queue, processing loop and output
// sinks of one inspection session together and owns their start/stop order.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"inspectwatch/config"
	"inspectwatch/database"
	inserrors "inspectwatch/errors"
	"inspectwatch/events"
	"inspectwatch/inference"
	"inspectwatch/logging"
	"inspectwatch/palette"
	"inspectwatch/processor"
	"inspectwatch/queue"
	"inspectwatch/types"
	"inspectwatch/watcher"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	sinkBuffer       = 64
	redisPingTimeout = 2 * time.Second
)

// Options are the collaborators of a Coordinator
type Options struct {
	Config *config.Config
	Loader inference.Loader
	Codec  processor.Codec
	// Sinks are attached in addition to those enabled in Config.Outputs
	Sinks []events.Sink
}

// Coordinator runs one inspection session
type Coordinator struct {
	cfg       *config.Config
	sessionID string
	logger    *logrus.Entry

	queue      *queue.WorkQueue
	filter     *watcher.Filter
	source     *watcher.Source
	bus        *events.Bus
	dispatcher *events.Dispatcher
	loop       *processor.Loop
	websocket  *events.WebsocketSink

	sinks   []events.Sink
	closers []io.Closer

	cancel   context.CancelFunc
	loopDone chan struct{}
	loopErr  error
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// New builds every component of a session without starting anything
func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, inserrors.ConfigInvalid("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Loader == nil || opts.Codec == nil {
		return nil, inserrors.ConfigInvalid("an engine loader and an image codec are required")
	}

	c := &Coordinator{
		cfg:       cfg,
		sessionID: uuid.New().String(),
		logger:    logging.NewLogger("lifecycle"),
		loopDone:  make(chan struct{}),
	}

	c.queue = queue.New(cfg.QueueSize)
	c.filter = watcher.NewFilter(watcher.FilterOptions{
		Extensions:   cfg.ImageExtensions,
		Window:       cfg.DebounceWindow(),
		MaxCacheSize: cfg.MaxCacheSize,
		Attempts:     cfg.Stability.Attempts,
		RetryDelay:   cfg.Stability.RetryDelay,
		WaitTime:     cfg.Stability.WaitTime,
		Interval:     cfg.Stability.Interval,
	}, c.queue)

	source, err := watcher.NewSource(cfg.WatchFolder, c.filter)
	if err != nil {
		return nil, err
	}
	c.source = source

	c.bus = events.NewBus()
	c.dispatcher = events.NewDispatcher(c.bus)

	var machine *palette.Machine
	if cfg.EnableGrid {
		machine = palette.NewMachine(cfg.Grid.Rows, cfg.Grid.Columns, cfg.Grid.TotalPieces)
	}
	c.loop = processor.NewLoop(c.queue, opts.Codec, opts.Loader, processor.NewStatusRule(cfg.StatusLogic), c.bus, processor.Options{
		SessionID:    c.sessionID,
		PollInterval: cfg.PollInterval,
		Params: inference.Params{
			Confidence: cfg.Prediction.Confidence,
			IoU:        cfg.Prediction.IoU,
			Classes:    cfg.Prediction.Classes,
		},
		Palette: machine,
	})

	if err := c.buildSinks(); err != nil {
		c.source.Stop()
		c.closeAll()
		return nil, err
	}
	c.sinks = append(c.sinks, opts.Sinks...)

	return c, nil
}

func (c *Coordinator) buildSinks() error {
	out := c.cfg.Outputs

	if out.Console {
		c.sinks = append(c.sinks, events.NewConsoleSink(nil, c.cfg.Grid.Rows, c.cfg.Grid.Columns))
	}

	if out.Database.Enabled {
		db, err := database.InitDatabase(out.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open session database %s: %w", out.Database.Path, err)
		}
		c.closers = append(c.closers, db)
		if err := c.startSession(db); err != nil {
			return err
		}
		c.sinks = append(c.sinks, events.NewStoreSink(db))
	}

	if out.Redis.Enabled {
		sink, err := events.NewRedisSink(&redis.Options{
			Addr:     out.Redis.Addr,
			Password: out.Redis.Password,
			DB:       out.Redis.DB,
		}, out.Redis.Instance, false)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		err = sink.Ping(ctx)
		cancel()
		if err != nil {
			c.logger.Warnf("Redis at %s is unreachable, events will not be published there: %v", out.Redis.Addr, err)
			sink.Close()
		} else {
			c.closers = append(c.closers, sink)
			c.sinks = append(c.sinks, sink)
		}
	}

	if out.Websocket.Enabled {
		c.websocket = events.NewWebsocketSink()
		c.websocket.OnReset(func() { c.ResetCounters() })
		c.sinks = append(c.sinks, c.websocket)
	}
	return nil
}

func (c *Coordinator) startSession(db *sql.DB) error {
	return database.StartSession(db, database.Session{
		ID:          c.sessionID,
		StartedAt:   time.Now(),
		WatchFolder: c.cfg.WatchFolder,
		Model:       c.cfg.ModelPath,
		Rows:        c.cfg.Grid.Rows,
		Columns:     c.cfg.Grid.Columns,
		TotalPieces: c.cfg.Grid.TotalPieces,
	})
}

// SessionID identifies the running session in every published event
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Start attaches the sinks, loads the inference engine and begins watching.
// Nothing is watched when the engine cannot be loaded.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("session %s already started", c.sessionID)
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.prepare(ctx); err != nil {
		close(c.loopDone)
		return err
	}

	go func() {
		defer close(c.loopDone)
		c.loopErr = c.loop.Run(ctx)
	}()

	c.source.Start(ctx)
	c.logger.WithField("session", c.sessionID).Infof("Inspecting images dropped into %s", c.cfg.WatchFolder)
	return nil
}

func (c *Coordinator) prepare(ctx context.Context) error {
	// Sinks outlive ctx so the events of the last image still reach them; they
	// stop when Stop closes the bus
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range c.sinks {
		if err := c.dispatcher.Attach(sinkCtx, sink, sinkBuffer); err != nil {
			return err
		}
	}
	if c.websocket != nil {
		if err := c.websocket.ListenAndServe(c.cfg.Outputs.Websocket.Addr); err != nil {
			return err
		}
		c.closers = append(c.closers, c.websocket)
	}

	c.logger.Infof("Loading model %s", c.cfg.ModelPath)
	return c.loop.LoadEngine(ctx)
}

// Wait blocks until the processing loop has exited
func (c *Coordinator) Wait() error {
	<-c.loopDone
	return c.loopErr
}

// ResetCounters zeroes the session counters and publishes the new snapshot
func (c *Coordinator) ResetCounters() types.CountersSnapshot {
	return c.loop.ResetCounters()
}

// Counters returns the current session counters
func (c *Coordinator) Counters() types.CountersSnapshot {
	return c.loop.Counters()
}

// Stats returns the lifetime counters of the processing loop
func (c *Coordinator) Stats() processor.Stats {
	return c.loop.Stats()
}

// Stop shuts the session down: no new paths are accepted, the in-flight image
// finishes, queued events are delivered and every resource is released.
func (c *Coordinator) Stop() error {
	c.stopOnce.Do(func() {
		if err := c.source.Stop(); err != nil {
			c.logger.Warnf("Failed to stop watcher: %v", err)
		}
		c.loop.Halt()
		if c.started {
			<-c.loopDone
		}

		if engine := c.loop.Engine(); engine != nil {
			if err := engine.Close(); err != nil {
				c.logger.Warnf("Failed to close inference engine: %v", err)
				c.stopErr = err
			}
		}

		c.bus.Close()
		c.dispatcher.Wait()
		if c.cancel != nil {
			c.cancel()
		}
		c.closeAll()

		q := c.queue.Stats()
		f := c.filter.Stats()
		c.logger.Infof("Session %s stopped: %d accepted, %d debounced, %d unstable, %d ignored, %d dropped (queue pushed %d, dropped %d)",
			c.sessionID, f.Accepted, f.Debounced, f.Unstable, f.Ignored, f.Dropped, q.Pushed, q.Dropped)
	})
	return c.stopErr
}

func (c *Coordinator) closeAll() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			c.logger.Warnf("Failed to close resource: %v", err)
		}
	}
	c.closers = nil
}
