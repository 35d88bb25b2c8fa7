package ime

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives what a platform input method shows and commits.
type Sink interface {
	// UpdatePreedit shows uncommitted text with the caret at a rune offset.
	// Empty text hides the preedit.
	UpdatePreedit(text string, caret int)

	// CommitText sends finished text to the focused application.
	CommitText(text string)
}

// SessionOptions configures an input session.
type SessionOptions struct {
	// AppID identifies the focused application, when known.
	AppID string
}

// SessionInfo contains read-only session information.
type SessionInfo struct {
	ID        string
	StartTime time.Time
	AppID     string
	Commits   int
	Preedit   string
}

type session struct {
	id        string
	startTime time.Time
	appID     string
	commits   int
	surface   *PlainSurface
}

// Engine drives a platform input method: keystrokes build a preedit in a
// PlainSurface and each finished word is committed once its
// transliteration settles. One session exists per focused input context.
type Engine struct {
	tr   Transliterator
	opts []Option
	sink Sink

	mu      sync.Mutex
	session *session
}

// NewEngine creates an engine.
func NewEngine(tr Transliterator, sink Sink, opts ...Option) *Engine {
	return &Engine{tr: tr, sink: sink, opts: opts}
}

// StartSession begins a session for a newly focused input context.
func (e *Engine) StartSession(opts SessionOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return errors.New("session already active; call EndSession first")
	}
	if opts.AppID == "" {
		opts.AppID = "unknown"
	}

	s := &session{
		id:        uuid.NewString(),
		startTime: time.Now(),
		appID:     opts.AppID,
		surface:   NewPlainSurface(e.tr, e.opts...),
	}
	s.surface.OnChange(func(value string) {
		_, caret := s.surface.Snapshot()
		e.sink.UpdatePreedit(value, caret)
	})
	e.session = s
	slog.Debug("ime session started", "component", "ime", "session", s.id, "app", s.appID)
	return nil
}

// HasActiveSession reports whether a session is running.
func (e *Engine) HasActiveSession() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// OnKeyDown processes a key press. handled is false when the key should
// pass through to the application, which happens for editing and
// navigation keys while the preedit is empty.
func (e *Engine) OnKeyDown(key Key) (handled bool, err error) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return false, errors.New("no active session")
	}

	if key.Modifiers&(ModControl|ModAlt|ModMeta) != 0 {
		e.commit(s)
		return false, nil
	}

	if key.Kind != KeyChar && s.surface.Value() == "" {
		return false, nil
	}

	p := s.surface.HandleKey(key)
	if p != nil {
		go func() {
			<-p.Done()
			if p.Outcome() != Stale {
				e.commit(s)
			}
		}()
	}
	return true, nil
}

// commit sends the preedit to the application and clears it, unless a word
// is still in flight.
func (e *Engine) commit(s *session) {
	value, ok := s.surface.Drain()
	if !ok || value == "" {
		return
	}

	e.mu.Lock()
	s.commits++
	e.mu.Unlock()
	e.sink.CommitText(value)
}

// Preedit returns the uncommitted text.
func (e *Engine) Preedit() string {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return ""
	}
	return s.surface.Value()
}

// Reset drops the preedit without committing it.
func (e *Engine) Reset() {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s != nil {
		s.surface.SetValue("")
	}
}

// GetSessionInfo returns a copy of the current session info (nil if none).
func (e *Engine) GetSessionInfo() *SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	s := e.session
	return &SessionInfo{
		ID:        s.id,
		StartTime: s.startTime,
		AppID:     s.appID,
		Commits:   s.commits,
		Preedit:   s.surface.Value(),
	}
}

// EndSession waits for in-flight words, commits what is left and closes the
// session.
func (e *Engine) EndSession() (*SessionInfo, error) {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()
	if s == nil {
		return nil, errors.New("no active session")
	}

	s.surface.Wait()
	e.commit(s)
	s.surface.Close()

	e.mu.Lock()
	info := &SessionInfo{
		ID:        s.id,
		StartTime: s.startTime,
		AppID:     s.appID,
		Commits:   s.commits,
	}
	e.mu.Unlock()
	slog.Debug("ime session ended", "component", "ime", "session", s.id, "commits", info.Commits)
	return info, nil
}
