package ime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	preedit string
	commits []string
}

func (r *recordingSink) UpdatePreedit(text string, caret int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preedit = text
}

func (r *recordingSink) CommitText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, text)
}

func (r *recordingSink) snapshot() (string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preedit, append([]string(nil), r.commits...)
}

func TestEngineCommitsTransliteratedWord(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(newFake(map[string][]string{"namaste": {"नमस्ते"}}), sink)
	require.NoError(t, e.StartSession(SessionOptions{AppID: "org.gnome.TextEditor"}))

	for _, k := range KeysFromString("namaste") {
		handled, err := e.OnKeyDown(k)
		require.NoError(t, err)
		assert.True(t, handled)
	}
	preedit, _ := sink.snapshot()
	assert.Equal(t, "namaste", preedit)

	handled, err := e.OnKeyDown(NewKey(' '))
	require.NoError(t, err)
	assert.True(t, handled)

	require.Eventually(t, func() bool {
		_, commits := sink.snapshot()
		return len(commits) == 1
	}, 5*time.Second, 10*time.Millisecond)

	preedit, commits := sink.snapshot()
	assert.Equal(t, []string{"नमस्ते "}, commits)
	assert.Empty(t, preedit)
	assert.Empty(t, e.Preedit())

	info, err := e.EndSession()
	require.NoError(t, err)
	assert.Equal(t, 1, info.Commits)
	assert.Equal(t, "org.gnome.TextEditor", info.AppID)
	assert.NotEmpty(t, info.ID)
}

func TestEnginePassThroughWhenEmpty(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(nil, sink)
	require.NoError(t, e.StartSession(SessionOptions{}))
	defer e.EndSession()

	for _, k := range []Key{NewKey(' '), NewSpecialKey(KeyBackspace), NewSpecialKey(KeyLeft), NewSpecialKey(KeyEnter)} {
		handled, err := e.OnKeyDown(k)
		require.NoError(t, err)
		assert.False(t, handled, "key %s", k.Kind)
	}
}

func TestEngineModifierCommitsPreedit(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(nil, sink)
	require.NoError(t, e.StartSession(SessionOptions{}))
	defer e.EndSession()

	e.OnKeyDown(NewKey('a'))
	e.OnKeyDown(NewKey('b'))

	handled, err := e.OnKeyDown(Key{Kind: KeyChar, Char: 's', Modifiers: ModControl})
	require.NoError(t, err)
	assert.False(t, handled)

	_, commits := sink.snapshot()
	assert.Equal(t, []string{"ab"}, commits)
}

func TestEngineEndSessionCommitsRest(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(nil, sink)
	require.NoError(t, e.StartSession(SessionOptions{}))

	for _, k := range KeysFromString("adh") {
		e.OnKeyDown(k)
	}
	_, err := e.EndSession()
	require.NoError(t, err)

	_, commits := sink.snapshot()
	assert.Equal(t, []string{"adh"}, commits)
	assert.False(t, e.HasActiveSession())

	_, err = e.EndSession()
	assert.Error(t, err)
	_, err = e.OnKeyDown(NewKey('a'))
	assert.Error(t, err)
}

func TestEngineDoubleStart(t *testing.T) {
	e := NewEngine(nil, &recordingSink{})
	require.NoError(t, e.StartSession(SessionOptions{}))
	defer e.EndSession()
	assert.Error(t, e.StartSession(SessionOptions{}))
	assert.NotNil(t, e.GetSessionInfo())
}
