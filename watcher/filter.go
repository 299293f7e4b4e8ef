package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	inserrors "inspectwatch/errors"
	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/sirupsen/logrus"
)

// Enqueuer receives paths that passed the filter
type Enqueuer interface {
	TryPush(path string) error
}

// FilterOptions configures a Filter
type FilterOptions struct {
	Extensions   []string
	Window       time.Duration
	MaxCacheSize int
	Attempts     int
	RetryDelay   time.Duration
	WaitTime     time.Duration
	Interval     time.Duration
}

// FilterStats counts what happened to handled events
type FilterStats struct {
	Ignored   uint64
	Debounced uint64
	Unstable  uint64
	Dropped   uint64
	Accepted  uint64
}

// Filter turns raw create/modify notifications into a de-duplicated stream of
// stable image paths pushed onto the work queue
type Filter struct {
	opts       FilterOptions
	extensions map[string]bool
	queue      Enqueuer
	logger     *logrus.Entry

	mu    sync.Mutex
	cache *DebounceCache

	// Overridable in tests
	now      func() time.Time
	isStable func(path string, waitTime, interval time.Duration) bool

	ignored   atomic.Uint64
	debounced atomic.Uint64
	unstable  atomic.Uint64
	dropped   atomic.Uint64
	accepted  atomic.Uint64
}

// NewFilter creates a Filter feeding queue
func NewFilter(opts FilterOptions, queue Enqueuer) *Filter {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Filter{
		opts:       opts,
		extensions: normalizeExtensions(opts.Extensions),
		queue:      queue,
		logger:     logging.NewLogger("watcher"),
		cache:      NewDebounceCache(opts.MaxCacheSize, opts.Window),
		now:        time.Now,
		isStable:   IsFullyWritten,
	}
}

// Handle processes one watch event. It returns true when the path was queued.
func (f *Filter) Handle(ctx context.Context, ev types.WatchEvent) bool {
	path := ev.Path

	if !f.allowed(path) {
		f.ignored.Add(1)
		return false
	}

	if !f.admit(path) {
		f.debounced.Add(1)
		return false
	}

	f.logger.Infof("Image event detected: %s (%s)", path, ev.Kind)

	if !f.waitUntilStable(ctx, path) {
		f.unstable.Add(1)
		if ctx.Err() == nil {
			err := inserrors.FileNotReady(path, f.opts.Attempts)
			f.logger.WithError(err).Error("Dropping image")
		}
		return false
	}

	if err := f.queue.TryPush(path); err != nil {
		f.dropped.Add(1)
		f.logger.Warnf("Failed to enqueue image: %v", err)
		return false
	}

	f.accepted.Add(1)
	f.logger.Infof("Image queued for processing: %s", path)
	return true
}

// Stats returns a snapshot of the filter counters
func (f *Filter) Stats() FilterStats {
	return FilterStats{
		Ignored:   f.ignored.Load(),
		Debounced: f.debounced.Load(),
		Unstable:  f.unstable.Load(),
		Dropped:   f.dropped.Load(),
		Accepted:  f.accepted.Load(),
	}
}

// allowed rejects directories and extensions outside the allow-list
func (f *Filter) allowed(path string) bool {
	if !f.extensions[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return false
	}
	return true
}

// admit applies the debounce window under the cache lock
func (f *Filter) admit(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.cache.Purge(now)
	if f.cache.Seen(path, now) {
		return false
	}
	f.cache.Touch(path, now)
	return true
}

func (f *Filter) waitUntilStable(ctx context.Context, path string) bool {
	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if f.isStable(path, f.opts.WaitTime, f.opts.Interval) {
			return true
		}
		f.logger.Warnf("[%d/%d] File not ready yet: %s", attempt, f.opts.Attempts, path)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(f.opts.RetryDelay):
		}
	}
	return false
}

func normalizeExtensions(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
