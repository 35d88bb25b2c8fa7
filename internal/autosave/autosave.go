// Package autosave coalesces rapid edits into debounced writes.
//
// Each document has at most one pending patch and one timer. Scheduling
// again before the timer fires merges the patch (later fields win) and
// restarts the idle window, so a burst of edits costs one write.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kahani/internal/metrics"
	"kahani/internal/store"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("autosave: coordinator closed")

// Updater is the store operation autosave writes through.
type Updater interface {
	Update(ctx context.Context, id string, p store.Patch) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDelay sets the idle period. Default 1s.
func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.delay = d }
}

// WithErrorHandler receives failures of timer-driven writes. It must not
// block. The failed fields stay pending and go out with the next write.
func WithErrorHandler(fn func(id string, err error)) Option {
	return func(c *Coordinator) { c.onError = fn }
}

// WithSavedHandler is called after every successful write.
func WithSavedHandler(fn func(id string, at time.Time)) Option {
	return func(c *Coordinator) { c.onSaved = fn }
}

// WithFlushOnClose controls whether Close writes pending patches (default)
// or drops them.
func WithFlushOnClose(flush bool) Option {
	return func(c *Coordinator) { c.flushOnClose = flush }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the clock used for LastSaved.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type doc struct {
	write     sync.Mutex // held across Update; orders writes per document
	patch     store.Patch
	timer     *time.Timer
	seq       uint64
	lastSaved time.Time
}

// Coordinator owns the save timers of every open document.
type Coordinator struct {
	store        Updater
	delay        time.Duration
	flushOnClose bool
	onError      func(string, error)
	onSaved      func(string, time.Time)
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	docs   map[string]*doc
	closed bool
}

// New creates a Coordinator writing through u.
func New(u Updater, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        u,
		delay:        time.Second,
		flushOnClose: true,
		metrics:      metrics.Default(),
		logger:       slog.Default(),
		now:          time.Now,
		docs:         make(map[string]*doc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "autosave")
	return c
}

func (c *Coordinator) doc(id string) *doc {
	d := c.docs[id]
	if d == nil {
		d = &doc{}
		c.docs[id] = d
	}
	return d
}

// Schedule merges p into the pending patch for id and restarts its timer.
func (c *Coordinator) Schedule(id string, p store.Patch) error {
	if p.Empty() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	d := c.doc(id)
	d.patch = d.patch.Merge(p)
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	} else {
		c.metrics.AutosavePending.Add(context.Background(), 1)
	}
	d.timer = time.AfterFunc(c.delay, func() { c.fire(id, seq) })
	return nil
}

func (c *Coordinator) fire(id string, seq uint64) {
	c.mu.Lock()
	d := c.docs[id]
	current := d != nil && d.seq == seq && d.timer != nil && !c.closed
	c.mu.Unlock()
	if !current {
		return
	}

	if err := c.flush(context.Background(), id); err != nil && c.onError != nil {
		c.onError(id, err)
	}
}

// stopTimer clears the timer of d. Callers hold c.mu.
func (c *Coordinator) stopTimer(d *doc) {
	if d.timer == nil {
		return
	}
	d.timer.Stop()
	d.timer = nil
	c.metrics.AutosavePending.Add(context.Background(), -1)
}

func (c *Coordinator) flush(ctx context.Context, id string) error {
	c.mu.Lock()
	d := c.docs[id]
	c.mu.Unlock()
	if d == nil {
		return nil
	}

	d.write.Lock()
	defer d.write.Unlock()

	c.mu.Lock()
	p := d.patch
	d.patch = store.Patch{}
	c.stopTimer(d)
	c.mu.Unlock()

	if p.Empty() {
		return nil
	}

	err := c.store.Update(ctx, id, p)
	c.metrics.RecordAutosave(ctx, err)

	c.mu.Lock()
	if err != nil {
		// edits scheduled meanwhile are newer than p
		d.patch = p.Merge(d.patch)
		c.mu.Unlock()
		c.logger.Warn("autosave failed", "doc_id", id, "error", err)
		return err
	}
	at := c.now()
	d.lastSaved = at
	c.mu.Unlock()

	c.logger.Debug("autosaved", "doc_id", id)
	if c.onSaved != nil {
		c.onSaved(id, at)
	}
	return nil
}

// Flush writes the pending patch for id now.
func (c *Coordinator) Flush(ctx context.Context, id string) error {
	return c.flush(ctx, id)
}

// FlushAll writes every pending patch and returns the first error.
func (c *Coordinator) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	var ids []string
	for id, d := range c.docs {
		if !d.patch.Empty() {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error { return c.flush(gctx, id) })
	}
	return g.Wait()
}

// Dirty reports whether id has edits not yet written.
func (c *Coordinator) Dirty(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.docs[id]
	return d != nil && !d.patch.Empty()
}

// LastSaved returns when id was last written successfully.
func (c *Coordinator) LastSaved(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.docs[id]
	if d == nil || d.lastSaved.IsZero() {
		return time.Time{}, false
	}
	return d.lastSaved, true
}

// Forget drops the pending state of id without writing it, e.g. after the
// document was deleted.
func (c *Coordinator) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := c.docs[id]; d != nil {
		c.stopTimer(d)
		delete(c.docs, id)
	}
}

// Release ends tracking of id, as when its editor closes: the pending
// patch is written when flush-on-close is set and dropped otherwise.
func (c *Coordinator) Release(ctx context.Context, id string) error {
	var err error
	if c.flushOnClose {
		err = c.flush(ctx, id)
	}
	if err == nil {
		c.Forget(id)
	}
	return err
}

// Close stops every timer, writes pending patches when flush-on-close is
// set, and waits for writes in flight.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	docs := make([]*doc, 0, len(c.docs))
	for _, d := range c.docs {
		c.stopTimer(d)
		if !c.flushOnClose {
			d.patch = store.Patch{}
		}
		docs = append(docs, d)
	}
	c.mu.Unlock()

	var err error
	if c.flushOnClose {
		err = c.FlushAll(ctx)
	}
	// wait out timer writes that started before closed was set
	for _, d := range docs {
		d.write.Lock()
		d.write.Unlock()
	}
	return err
}
