package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tick is a clock that advances one second per reading.
type tick struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tick) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTest(t *testing.T) (*Store, *tick) {
	t.Helper()
	clock := &tick{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "stories.db"), time.Second, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")
	s, err := Open(path, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, ValidateSchema(s.DB()))
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestMigrations(t *testing.T) {
	s, _ := openTest(t)

	status, err := GetMigrationStatus(s.DB())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), status.CurrentVersion)
	assert.Equal(t, len(migrations), status.LatestVersion)
	assert.Empty(t, status.Pending)
	assert.Len(t, status.Applied, len(migrations))

	// idempotent
	require.NoError(t, MigrateDB(s.DB()))

	require.NoError(t, RollbackMigration(s.DB()))
	status, err = GetMigrationStatus(s.DB())
	require.NoError(t, err)
	assert.Equal(t, len(migrations)-1, status.CurrentVersion)
	require.Len(t, status.Pending, 1)

	require.NoError(t, MigrateDB(s.DB()))
	status, err = GetMigrationStatus(s.DB())
	require.NoError(t, err)
	assert.Empty(t, status.Pending)
}

func TestCreateDefaults(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "asha")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, st.ID)
	assert.Equal(t, "asha", st.OwnerID)
	assert.Equal(t, DefaultTitle, st.Title)
	assert.Equal(t, "", st.Content)
	assert.Equal(t, st.CreatedAt, st.LastModified)
	assert.False(t, st.CreatedAt.IsZero())

	_, err = s.Create(ctx, "")
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "asha")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, id, ContentPatch("<b>नमस्ते</b>")))
	st, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, st.Title)
	assert.Equal(t, "<b>नमस्ते</b>", st.Content)
	assert.True(t, st.LastModified.After(st.CreatedAt))

	require.NoError(t, s.Update(ctx, id, TitlePatch("घर")))
	st, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "घर", st.Title)
	assert.Equal(t, "<b>नमस्ते</b>", st.Content)

	assert.ErrorIs(t, s.Update(ctx, "missing", TitlePatch("x")), ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "asha")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
}

func TestListOrderAndOwner(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "asha")
	require.NoError(t, err)
	second, err := s.Create(ctx, "asha")
	require.NoError(t, err)
	_, err = s.Create(ctx, "ravi")
	require.NoError(t, err)

	list, err := s.List(ctx, "asha")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)

	// touching the older story moves it to the top
	require.NoError(t, s.Update(ctx, first, TitlePatch("again")))
	list, err = s.List(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, first, list[0].ID)

	list, err = s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func receive(t *testing.T, ch <-chan []Story) []Story {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return nil
	}
}

func TestSubscribe(t *testing.T) {
	s, _ := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	existing, err := s.Create(ctx, "asha")
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, "asha")
	require.NoError(t, err)
	assert.Len(t, receive(t, ch), 1)

	id, err := s.Create(ctx, "asha")
	require.NoError(t, err)
	snap := receive(t, ch)
	require.Len(t, snap, 2)
	assert.Equal(t, id, snap[0].ID)

	// other owners do not notify
	_, err = s.Create(ctx, "ravi")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, existing, ContentPatch("x")))
	snap = receive(t, ch)
	assert.Equal(t, existing, snap[0].ID)
	assert.Equal(t, "x", snap[0].Content)

	require.NoError(t, s.Delete(ctx, existing))
	assert.Len(t, receive(t, ch), 1)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeKeepsLatest(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	ch, err := s.Subscribe(ctx, "asha")
	require.NoError(t, err)

	for range 3 {
		_, err := s.Create(ctx, "asha")
		require.NoError(t, err)
	}
	assert.Len(t, receive(t, ch), 3)
}

func TestFilter(t *testing.T) {
	stories := []Story{
		{ID: "1", Title: "Monsoon Diary", Content: "बारिश"},
		{ID: "2", Title: "Untitled Story", Content: "the MONSOON came"},
		{ID: "3", Title: "घर", Content: ""},
	}

	ids := func(ss []Story) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2"}, ids(Filter(stories, "monsoon")))
	assert.Equal(t, []string{"3"}, ids(Filter(stories, "घर")))
	assert.Equal(t, []string{"1"}, ids(Filter(stories, "बारिश")))
	assert.Empty(t, Filter(stories, "nothing"))
	assert.Len(t, Filter(stories, "  "), 3)
}

func TestFilterConcurrent(t *testing.T) {
	stories := []Story{
		{ID: "1", Title: "Monsoon Diary"},
		{ID: "2", Title: "Winter", Content: "STRASSE"},
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				assert.Len(t, Filter(stories, "monsoon"), 1)
				assert.Len(t, Filter(stories, "straße"), 1)
			}
		}()
	}
	wg.Wait()
}

func TestPatchMerge(t *testing.T) {
	p := TitlePatch("a").Merge(ContentPatch("b"))
	require.NotNil(t, p.Title)
	require.NotNil(t, p.Content)
	assert.Equal(t, "a", *p.Title)
	assert.Equal(t, "b", *p.Content)

	p = p.Merge(TitlePatch("c"))
	assert.Equal(t, "c", *p.Title)
	assert.Equal(t, "b", *p.Content)

	assert.True(t, Patch{}.Empty())
	assert.False(t, p.Empty())
}
