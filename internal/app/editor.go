package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"kahani/internal/ime"
	"kahani/internal/richtext"
	"kahani/internal/store"
)

// Status line texts.
const (
	StatusUnsaved = "Unsaved changes"
	statusSaved   = "Saved 15:04"
)

// Editor is an editing session on one story: the title on a plain surface
// and the body on a rich surface, both autosaved into the same story.
type Editor struct {
	lib   *Library
	id    string
	title *ime.PlainSurface
	body  *richtext.Surface

	mu       sync.Mutex
	applying *string // title being copied in from the store

	closeOnce sync.Once
	closeErr  error
}

func newEditor(l *Library, st store.Story, opts []ime.Option) *Editor {
	e := &Editor{
		lib:   l,
		id:    st.ID,
		title: ime.NewPlainSurface(l.tr, opts...),
		body:  richtext.NewSurface(l.tr, opts...),
	}

	e.title.SetValue(st.Title)
	if _, err := e.body.SetValue(st.Content); err != nil {
		l.logger.Warn("stored content unreadable", "doc_id", st.ID, "error", err)
	}

	e.title.OnChange(func(v string) {
		e.mu.Lock()
		echo := e.applying != nil && *e.applying == v
		e.mu.Unlock()
		if !echo {
			e.schedule(store.TitlePatch(v))
		}
	})
	e.body.OnChange(func(markup string) {
		e.schedule(store.ContentPatch(markup))
	})
	return e
}

func (e *Editor) schedule(p store.Patch) {
	if err := e.lib.saver.Schedule(e.id, p); err != nil {
		e.lib.logger.Debug("edit after close", "doc_id", e.id, "error", err)
	}
}

// ID returns the story id.
func (e *Editor) ID() string { return e.id }

// Title returns the title surface.
func (e *Editor) Title() *ime.PlainSurface { return e.title }

// Body returns the story surface.
func (e *Editor) Body() *richtext.Surface { return e.body }

// Status returns "Saved HH:MM" after the latest edit has been written, and
// "Unsaved changes" otherwise.
func (e *Editor) Status() string {
	if e.lib.saver.Dirty(e.id) {
		return StatusUnsaved
	}
	if at, ok := e.lib.saver.LastSaved(e.id); ok {
		return at.Local().Format(statusSaved)
	}
	return StatusUnsaved
}

// LastSaved returns when the story was last written by this session.
func (e *Editor) LastSaved() (time.Time, bool) {
	return e.lib.saver.LastSaved(e.id)
}

// Refresh offers a newer stored copy of the story. The body takes it only
// when it has not diverged locally; the title only when no title edit is
// waiting to be saved.
func (e *Editor) Refresh(st store.Story) {
	if st.ID != e.id {
		return
	}
	if !e.lib.saver.Dirty(e.id) && e.title.Value() != st.Title {
		e.mu.Lock()
		e.applying = &st.Title
		e.mu.Unlock()
		e.title.SetValue(st.Title)
		e.mu.Lock()
		e.applying = nil
		e.mu.Unlock()
	}
	if _, err := e.body.SetValue(st.Content); err != nil {
		e.lib.logger.Warn("stored content unreadable", "doc_id", e.id, "error", err)
	}
}

// Save writes pending edits now, after in-flight transliterations settle.
func (e *Editor) Save(ctx context.Context) error {
	e.title.Wait()
	e.body.Wait()
	return e.lib.saver.Flush(ctx, e.id)
}

// Close lets in-flight transliterations settle, hands pending edits to
// autosave (written unless flush-on-close is off) and releases the surfaces.
func (e *Editor) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.title.Wait()
		e.body.Wait()
		e.closeErr = e.lib.saver.Release(ctx, e.id)
		if errors.Is(e.closeErr, context.Canceled) {
			e.lib.logger.Warn("editor closed before save finished", "doc_id", e.id)
		}
		e.title.Close()
		e.body.Close()
		e.lib.closed(e)
	})
	return e.closeErr
}

// discard releases the surfaces without saving.
func (e *Editor) discard() {
	e.closeOnce.Do(func() {
		e.title.Close()
		e.body.Close()
	})
}
