// Package store provides SQLite-based story storage for kahani.
package store

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultTitle is the title of a newly created story.
const DefaultTitle = "Untitled Story"

// ErrNotFound is returned when no story has the requested id.
var ErrNotFound = errors.New("store: story not found")

// Story is one document in a writer's library. Content is rich-text markup.
type Story struct {
	ID           string
	OwnerID      string
	Title        string
	Content      string
	CreatedAt    time.Time
	LastModified time.Time
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title   *string
	Content *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil
}

// Merge returns p with the fields set in next overriding its own.
func (p Patch) Merge(next Patch) Patch {
	if next.Title != nil {
		p.Title = next.Title
	}
	if next.Content != nil {
		p.Content = next.Content
	}
	return p
}

// TitlePatch returns a patch that sets only the title.
func TitlePatch(title string) Patch {
	return Patch{Title: &title}
}

// ContentPatch returns a patch that sets only the content.
func ContentPatch(content string) Patch {
	return Patch{Content: &content}
}

// Filter returns the stories whose title or content contains query,
// ignoring case. An empty or blank query returns stories unchanged.
func Filter(stories []Story, query string) []Story {
	// a Caser may keep state between calls, so each Filter gets its own
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return stories
	}

	var out []Story
	for _, s := range stories {
		if strings.Contains(fold.String(s.Title), q) || strings.Contains(fold.String(s.Content), q) {
			out = append(out, s)
		}
	}
	return out
}
