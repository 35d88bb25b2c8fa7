// Package app wires the input surfaces, the story store and autosave into
// a writer's library: a live list of stories and an editor session for the
// selected one.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kahani/internal/autosave"
	"kahani/internal/identity"
	"kahani/internal/ime"
	"kahani/internal/store"
)

var (
	// ErrNoStory is returned when no story is selected or the id is unknown.
	ErrNoStory = errors.New("app: no story")

	// ErrSignedOut is returned when the identity is not authenticated.
	ErrSignedOut = errors.New("app: not signed in")
)

// Store is the document store the library works against.
type Store interface {
	autosave.Updater
	Create(ctx context.Context, ownerID string) (string, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*store.Story, error)
	List(ctx context.Context, ownerID string) ([]store.Story, error)
	Subscribe(ctx context.Context, ownerID string) (<-chan []store.Story, error)
}

// Notice is a message for the user, e.g. a failed background save.
type Notice struct {
	Level   slog.Level
	Message string
	DocID   string
	Err     error
	At      time.Time
}

// Option configures a Library.
type Option func(*Library)

// WithTransliterator sets the transliterator used by editor surfaces.
func WithTransliterator(tr ime.Transliterator) Option {
	return func(l *Library) { l.tr = tr }
}

// WithSwitch shares a transliteration on/off switch with every editor.
func WithSwitch(sw *ime.Switch) Option {
	return func(l *Library) { l.sw = sw }
}

// WithComposerOptions passes options to every editor surface.
func WithComposerOptions(opts ...ime.Option) Option {
	return func(l *Library) { l.composerOpts = append(l.composerOpts, opts...) }
}

// WithAutosaveOptions passes options to the autosave coordinator.
func WithAutosaveOptions(opts ...autosave.Option) Option {
	return func(l *Library) { l.autosaveOpts = append(l.autosaveOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

// Library is one writer's collection of stories.
type Library struct {
	store        Store
	who          identity.Identity
	tr           ime.Transliterator
	sw           *ime.Switch
	composerOpts []ime.Option
	autosaveOpts []autosave.Option
	logger       *slog.Logger

	saver   *autosave.Coordinator
	notices chan Notice

	mu       sync.Mutex
	stories  []store.Story
	selected string
	editor   *Editor
}

// New creates a library for who, backed by st.
func New(st Store, who identity.Identity, opts ...Option) *Library {
	l := &Library{
		store:   st,
		who:     who,
		sw:      ime.NewSwitch(true),
		logger:  slog.Default(),
		notices: make(chan Notice, 16),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "library")

	saverOpts := append([]autosave.Option{
		autosave.WithLogger(l.logger),
		autosave.WithErrorHandler(func(id string, err error) {
			l.notify(slog.LevelError, "Could not save story", id, err)
		}),
	}, l.autosaveOpts...)
	l.saver = autosave.New(st, saverOpts...)
	return l
}

// Switch returns the transliteration switch shared by the editors.
func (l *Library) Switch() *ime.Switch {
	return l.sw
}

// Notices delivers user-facing messages. Messages are dropped when nobody
// reads them.
func (l *Library) Notices() <-chan Notice {
	return l.notices
}

func (l *Library) notify(level slog.Level, msg, id string, err error) {
	n := Notice{Level: level, Message: msg, DocID: id, Err: err, At: time.Now()}
	select {
	case l.notices <- n:
	default:
		l.logger.Warn("notice dropped", "message", msg, "doc_id", id)
	}
}

func (l *Library) owner() (string, error) {
	if l.who == nil || !l.who.Authenticated() {
		return "", ErrSignedOut
	}
	return l.who.UserID(), nil
}

// Refresh reloads the story list from the store.
func (l *Library) Refresh(ctx context.Context) ([]store.Story, error) {
	owner, err := l.owner()
	if err != nil {
		return nil, err
	}
	stories, err := l.store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	l.apply(stories)
	return stories, nil
}

// Run keeps the story list current until ctx is done.
func (l *Library) Run(ctx context.Context) error {
	owner, err := l.owner()
	if err != nil {
		return err
	}
	ch, err := l.store.Subscribe(ctx, owner)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for stories := range ch {
		l.apply(stories)
	}
	return ctx.Err()
}

func (l *Library) apply(stories []store.Story) {
	l.mu.Lock()
	l.stories = stories
	ed := l.editor
	l.mu.Unlock()

	if ed == nil {
		return
	}
	for _, st := range stories {
		if st.ID == ed.ID() {
			ed.Refresh(st)
			return
		}
	}
}

// Stories returns the last known story list, most recent first.
func (l *Library) Stories() []store.Story {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stories
}

// Search filters the story list by title or content, ignoring case.
func (l *Library) Search(query string) []store.Story {
	return store.Filter(l.Stories(), query)
}

// Create makes a new story and selects it. Failures are returned, never
// queued as notices.
func (l *Library) Create(ctx context.Context) (string, error) {
	owner, err := l.owner()
	if err != nil {
		return "", err
	}
	id, err := l.store.Create(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to create story: %w", err)
	}
	l.Select(id)
	l.logger.Info("story created", "doc_id", id)
	return id, nil
}

// Delete removes one of the writer's stories, dropping unsaved edits to it
// and clearing the selection if it was selected.
func (l *Library) Delete(ctx context.Context, id string) error {
	if _, err := l.Story(ctx, id); err != nil {
		return err
	}

	l.mu.Lock()
	ed := l.editor
	if ed != nil && ed.ID() == id {
		l.editor = nil
	}
	if l.selected == id {
		l.selected = ""
	}
	l.mu.Unlock()

	if ed != nil && ed.ID() == id {
		ed.discard()
	}
	l.saver.Forget(id)

	if err := l.store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoStory
		}
		return fmt.Errorf("failed to delete story: %w", err)
	}
	l.logger.Info("story deleted", "doc_id", id)
	return nil
}

// Select marks id as the current story. An empty id clears the selection.
func (l *Library) Select(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = id
}

// Current returns the selected story.
func (l *Library) Current(ctx context.Context) (*store.Story, error) {
	l.mu.Lock()
	id := l.selected
	l.mu.Unlock()
	if id == "" {
		return nil, ErrNoStory
	}
	return l.get(ctx, id)
}

func (l *Library) get(ctx context.Context, id string) (*store.Story, error) {
	st, err := l.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoStory
	}
	return st, err
}

// Story returns one of the writer's stories.
func (l *Library) Story(ctx context.Context, id string) (*store.Story, error) {
	owner, err := l.owner()
	if err != nil {
		return nil, err
	}
	st, err := l.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.OwnerID != owner {
		return nil, ErrNoStory
	}
	return st, nil
}

// Open selects id and starts an editor session on it. An editor already
// open on another story is closed first.
func (l *Library) Open(ctx context.Context, id string) (*Editor, error) {
	st, err := l.Story(ctx, id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	prev := l.editor
	l.mu.Unlock()
	if prev != nil {
		if prev.ID() == id {
			return prev, nil
		}
		if err := prev.Close(ctx); err != nil {
			l.notify(slog.LevelError, "Could not save story", prev.ID(), err)
		}
	}

	opts := append([]ime.Option{ime.WithSwitch(l.sw), ime.WithLogger(l.logger)}, l.composerOpts...)
	ed := newEditor(l, *st, opts)

	l.mu.Lock()
	l.editor = ed
	l.selected = id
	l.mu.Unlock()
	return ed, nil
}

func (l *Library) closed(ed *Editor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.editor == ed {
		l.editor = nil
	}
}

// Close ends the open editor session and writes pending edits.
func (l *Library) Close(ctx context.Context) error {
	l.mu.Lock()
	ed := l.editor
	l.mu.Unlock()

	var errs []error
	if ed != nil {
		errs = append(errs, ed.Close(ctx))
	}
	errs = append(errs, l.saver.Close(ctx))
	return errors.Join(errs...)
}

// FormatModified renders a timestamp for the story list: the time of day
// for today's edits, the date otherwise.
func FormatModified(t, now time.Time) string {
	t, now = t.Local(), now.Local()
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return t.Format("15:04")
	}
	return t.Format("2006-01-02")
}
