package ime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"kahani/internal/metrics"
)

// Transliterator resolves a Latin word to ranked target-script candidates.
// Implementations never return an empty list for a non-empty word; on
// failure they return the word itself.
type Transliterator interface {
	Transliterate(ctx context.Context, word string, count int) []string
}

// TransliteratorFunc adapts a function to Transliterator.
type TransliteratorFunc func(ctx context.Context, word string, count int) []string

func (f TransliteratorFunc) Transliterate(ctx context.Context, word string, count int) []string {
	return f(ctx, word, count)
}

// Verbatim returns every word unchanged.
var Verbatim = TransliteratorFunc(func(_ context.Context, word string, _ int) []string {
	if word == "" {
		return nil
	}
	return []string{word}
})

// Target is the buffer capability set the composer edits through. All
// methods are called with the surface lock held.
type Target interface {
	// Scope returns the text the detector scans and the caret within it.
	// ok is false when the caret is not inside text (the trigger is then
	// a no-op and the delimiter is inserted normally).
	Scope() (text string, caret int, ok bool)

	// Splice replaces runes [start, end) of the scope text with repl.
	Splice(start, end int, repl string)

	// SetCaret moves the caret to a rune offset within the scope text.
	SetCaret(offset int)

	// InsertDelimiter inserts d at the caret the way an untransliterated
	// keystroke would and advances the caret past it.
	InsertDelimiter(d Delimiter)

	// WordDelimiter is the text placed after a replaced word, inside the
	// scope text. It is one rune long.
	WordDelimiter(d Delimiter) string
}

// SupersedePolicy decides what happens to a pending word when another edit
// arrives before its transliteration.
type SupersedePolicy string

const (
	// PolicyFallback inserts the pending delimiter verbatim, as if
	// transliteration had failed, before applying the newer edit. Typing
	// faster than the service answers then leaves the same text as typing
	// with transliteration off.
	PolicyFallback SupersedePolicy = "fallback"

	// PolicyDiscard drops the pending word's delimiter along with the
	// response. The buffer reflects only the newer edit, so the next word
	// joins the superseded one.
	PolicyDiscard SupersedePolicy = "discard"
)

// ParsePolicy parses a policy name. Empty means PolicyFallback.
func ParsePolicy(s string) (SupersedePolicy, error) {
	switch SupersedePolicy(s) {
	case "", PolicyFallback:
		return PolicyFallback, nil
	case PolicyDiscard:
		return PolicyDiscard, nil
	}
	return "", fmt.Errorf("unknown supersede policy %q", s)
}

// Outcome is how a word-terminating keystroke ended.
type Outcome int

const (
	// Resolved means the word was replaced by a different candidate.
	Resolved Outcome = iota
	// Fallback means the delimiter went in with the word unchanged.
	Fallback
	// Stale means a newer edit superseded the word; the response was ignored.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Fallback:
		return "fallback"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Pending tracks one word-terminating keystroke until it settles.
type Pending struct {
	// Word is the detected word. Zero when no word was detected.
	Word PendingWord

	token     uint64
	done      chan struct{}
	outcome   Outcome
	candidate string
}

func newPending(w PendingWord, token uint64) *Pending {
	return &Pending{Word: w, token: token, done: make(chan struct{})}
}

func settled(w PendingWord, outcome Outcome) *Pending {
	p := newPending(w, 0)
	p.finish(outcome, w.Word)
	return p
}

func (p *Pending) finish(outcome Outcome, candidate string) {
	p.outcome = outcome
	p.candidate = candidate
	close(p.done)
}

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Outcome returns the outcome. Only valid after Done is closed.
func (p *Pending) Outcome() Outcome {
	return p.outcome
}

// Candidate returns the text that replaced the word, valid after Done.
func (p *Pending) Candidate() string {
	return p.candidate
}

// Wait blocks until the outcome is known or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type options struct {
	sw          *Switch
	suggestions int
	timeout     time.Duration
	policy      SupersedePolicy
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a surface.
type Option func(*options)

// WithSwitch shares an enable switch between surfaces.
func WithSwitch(sw *Switch) Option {
	return func(o *options) { o.sw = sw }
}

// WithSuggestions sets the candidate count requested per word.
func WithSuggestions(n int) Option {
	return func(o *options) { o.suggestions = n }
}

// WithTimeout bounds each transliteration request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithPolicy sets the supersede policy.
func WithPolicy(p SupersedePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics records composer outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Composer is the replacement algorithm shared by every surface kind.
//
// The owning surface serialises all edits with mu. Before each edit it calls
// Supersede; on a word-terminating key it calls Trigger. Both must be called
// with mu held. Resolutions run on their own goroutine, take mu, and apply
// only when their generation token is still current.
type Composer struct {
	kind   string
	target Target
	mu     sync.Locker
	tr     Transliterator
	notify func()
	opts   options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// guarded by mu
	gen      uint64
	pending  *Pending
	closed   bool
	inflight int
	settle   *sync.Cond
}

// NewComposer creates a composer for a surface. kind labels logs and metrics.
// notify is called without mu after a resolution changes the buffer.
func NewComposer(kind string, target Target, mu sync.Locker, tr Transliterator, notify func(), opts ...Option) *Composer {
	o := options{
		suggestions: 5,
		timeout:     3 * time.Second,
		policy:      PolicyFallback,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if tr == nil {
		tr = Verbatim
	}
	if notify == nil {
		notify = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Composer{
		kind:   kind,
		target: target,
		mu:     mu,
		settle: sync.NewCond(mu),
		tr:     tr,
		notify: notify,
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
		logger: o.logger.With("component", "ime", "surface", kind),
	}
}

// Pending returns the word awaiting transliteration, if any. Caller holds mu.
func (c *Composer) Pending() (PendingWord, bool) {
	if c.pending == nil {
		return PendingWord{}, false
	}
	return c.pending.Word, true
}

// Supersede invalidates any pending word. Surfaces call it before every
// edit, caret move or external value change. Caller holds mu.
func (c *Composer) Supersede() {
	c.gen++
	p := c.pending
	if p == nil {
		return
	}
	c.pending = nil

	if c.opts.policy == PolicyFallback {
		// nothing has touched the buffer since p was detected
		c.target.SetCaret(p.Word.End)
		c.target.InsertDelimiter(p.Word.Delimiter)
	}
	c.logger.Debug("pending word superseded", "word", p.Word.Word, "policy", string(c.opts.policy))
}

// Trigger handles a word-terminating key. It either inserts d verbatim and
// returns a settled Pending, or starts a transliteration and returns a
// Pending that settles when the response is applied or ignored.
// Caller holds mu.
func (c *Composer) Trigger(d Delimiter) *Pending {
	c.Supersede()

	text, caret, ok := c.target.Scope()
	if !ok {
		c.target.InsertDelimiter(d)
		return c.record(settled(PendingWord{Delimiter: d}, Fallback))
	}

	w, ok := Detect(text, caret)
	w.Delimiter = d
	if !ok || c.closed || !c.opts.sw.Enabled() || !Eligible(w.Word) {
		c.target.InsertDelimiter(d)
		return c.record(settled(w, Fallback))
	}

	p := newPending(w, c.gen)
	c.pending = p
	c.inflight++
	go c.resolve(p)
	return p
}

func (c *Composer) resolve(p *Pending) {
	defer func() {
		c.mu.Lock()
		c.inflight--
		if c.inflight == 0 {
			c.settle.Broadcast()
		}
		c.mu.Unlock()
	}()

	candidate := c.lookup(p.Word.Word)

	c.mu.Lock()
	if c.closed || c.pending != p || c.gen != p.token {
		c.mu.Unlock()
		c.logger.Debug("stale transliteration ignored", "word", p.Word.Word)
		p.finish(Stale, "")
		c.record(p)
		return
	}
	c.pending = nil
	c.gen++

	repl := candidate + c.target.WordDelimiter(p.Word.Delimiter)
	c.target.Splice(p.Word.Start, p.Word.End, repl)
	c.target.SetCaret(p.Word.Start + utf8.RuneCountInString(repl))
	c.mu.Unlock()

	c.notify()

	outcome := Resolved
	if candidate == p.Word.Word {
		outcome = Fallback
	}
	p.finish(outcome, candidate)
	c.record(p)
}

// lookup returns the top candidate, or the word itself when the
// transliterator has nothing better (or panics).
func (c *Composer) lookup(word string) (candidate string) {
	candidate = word
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("transliterator panic", "word", word, "panic", r)
			candidate = word
		}
	}()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.timeout)
	defer cancel()

	cands := c.tr.Transliterate(ctx, word, c.opts.suggestions)
	if len(cands) > 0 && cands[0] != "" {
		candidate = cands[0]
	}
	return candidate
}

func (c *Composer) record(p *Pending) *Pending {
	c.opts.metrics.RecordReplacement(context.Background(), c.kind, p.outcome.String())
	return p
}

// Wait blocks until every in-flight resolution has settled, including
// ones started by keys typed while it waits. It must not be called with
// mu held.
func (c *Composer) Wait() {
	c.mu.Lock()
	for c.inflight > 0 {
		c.settle.Wait()
	}
	c.mu.Unlock()
}

// Close cancels in-flight requests and waits for them to settle. Later
// word-terminating keys insert their delimiter verbatim. It must not be
// called with mu held.
func (c *Composer) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	c.Wait()
}
