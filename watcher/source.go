package watcher

import (
	"context"
	"fmt"
	"sync"

	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler consumes watch events
type Handler interface {
	Handle(ctx context.Context, ev types.WatchEvent) bool
}

// Source delivers create/modify notifications for one folder to a Handler
type Source struct {
	folder  string
	handler Handler
	watcher *fsnotify.Watcher
	logger  *logrus.Entry

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewSource watches folder (non-recursively)
func NewSource(folder string, handler Handler) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(folder); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", folder, err)
	}

	return &Source{
		folder:  folder,
		handler: handler,
		watcher: w,
		logger:  logging.NewLogger("watcher"),
	}, nil
}

// Start runs the event loop in the background until ctx is done or Stop is called
func (s *Source) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	s.logger.Infof("Started monitoring the folder for new images: %s", s.folder)
}

func (s *Source) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			kind, relevant := kindOf(event.Op)
			if !relevant {
				continue
			}
			s.handler.Handle(ctx, types.WatchEvent{Path: event.Name, Kind: kind})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

// Stop closes the notification source and joins the event loop
func (s *Source) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping observer...")
		if s.cancel != nil {
			s.cancel()
		}
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

func kindOf(op fsnotify.Op) (types.WatchKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return types.WatchCreated, true
	case op.Has(fsnotify.Write):
		return types.WatchModified, true
	default:
		return "", false
	}
}
