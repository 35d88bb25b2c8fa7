package ime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransliterator answers from a table. Words in block wait for release.
type fakeTransliterator struct {
	mu      sync.Mutex
	table   map[string][]string
	block   map[string]chan struct{}
	calls   []string
	counts  []int
	failErr error
}

func newFake(table map[string][]string) *fakeTransliterator {
	return &fakeTransliterator{table: table, block: map[string]chan struct{}{}}
}

func (f *fakeTransliterator) hold(word string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[word] = ch
	return ch
}

func (f *fakeTransliterator) Transliterate(ctx context.Context, word string, count int) []string {
	f.mu.Lock()
	f.calls = append(f.calls, word)
	f.counts = append(f.counts, count)
	gate := f.block[word]
	cands, ok := f.table[word]
	failing := f.failErr != nil
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return []string{word}
		}
	}
	if failing || !ok {
		return []string{word}
	}
	return cands
}

func (f *fakeTransliterator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func waitPending(t *testing.T, p *Pending) Outcome {
	t.Helper()
	require.NotNil(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := p.Wait(ctx)
	require.NoError(t, err)
	return outcome
}

func TestPlainNamaste(t *testing.T) {
	fake := newFake(map[string][]string{"namaste": {"नमस्ते", "नमस्तें"}})
	s := NewPlainSurface(fake)
	defer s.Close()

	p := s.Type("namaste ")
	assert.Equal(t, PendingWord{Word: "namaste", Start: 0, End: 7, Delimiter: DelimSpace}, p.Word)
	assert.Equal(t, Resolved, waitPending(t, p))
	assert.Equal(t, "नमस्ते", p.Candidate())

	value, caret := s.Snapshot()
	assert.Equal(t, "नमस्ते ", value)
	assert.Equal(t, 7, caret)
	assert.Equal(t, []string{"namaste"}, fake.Calls())
}

func TestPlainEligibleAppendsCandidate(t *testing.T) {
	fake := newFake(map[string][]string{
		"mera": {"मेरा"},
		"naam": {"नाम"},
	})
	s := NewPlainSurface(fake)
	defer s.Close()

	waitPending(t, s.Type("mera "))
	before := s.Value()
	waitPending(t, s.Type("naam "))

	value, caret := s.Snapshot()
	assert.Equal(t, before+"नाम ", value)
	assert.Equal(t, len([]rune(value)), caret)
}

func TestPlainIneligibleTokens(t *testing.T) {
	for _, token := range []string{"42", "abc1", "hello,", "नमस्ते"} {
		t.Run(token, func(t *testing.T) {
			fake := newFake(nil)
			s := NewPlainSurface(fake)
			defer s.Close()

			p := s.Type(token + " ")
			assert.Equal(t, Fallback, waitPending(t, p))
			assert.Equal(t, token+" ", s.Value())
			assert.Empty(t, fake.Calls())
		})
	}
}

func TestPlainNetworkErrorFallsBack(t *testing.T) {
	fake := newFake(map[string][]string{"kahani": {"कहानी"}})
	fake.failErr = errors.New("connection refused")
	s := NewPlainSurface(fake)
	defer s.Close()

	p := s.Type("kahani ")
	assert.Equal(t, Fallback, waitPending(t, p))

	value, caret := s.Snapshot()
	assert.Equal(t, "kahani ", value)
	assert.Equal(t, 7, caret)
}

func TestPlainEnterInsertsNewline(t *testing.T) {
	fake := newFake(map[string][]string{"ghar": {"घर"}})
	s := NewPlainSurface(fake)
	defer s.Close()

	s.Type("ghar")
	waitPending(t, s.HandleKey(NewSpecialKey(KeyEnter)))

	value, caret := s.Snapshot()
	assert.Equal(t, "घर\n", value)
	assert.Equal(t, 3, caret)
}

func TestPlainVerbatimMatchesDisabled(t *testing.T) {
	input := "mera naam 42 hai\nkahani "

	verbatim := NewPlainSurface(Verbatim)
	defer verbatim.Close()
	for _, k := range KeysFromString(input) {
		if p := verbatim.HandleKey(k); p != nil {
			waitPending(t, p)
		}
	}

	disabled := NewPlainSurface(newFake(map[string][]string{"mera": {"मेरा"}}), WithSwitch(NewSwitch(false)))
	defer disabled.Close()
	disabled.Type(input)

	v1, c1 := verbatim.Snapshot()
	v2, c2 := disabled.Snapshot()
	assert.Equal(t, input, v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, c1, c2)
}

func TestPlainStaleResponseIgnored(t *testing.T) {
	fake := newFake(map[string][]string{"namaste": {"नमस्ते"}})
	release := fake.hold("namaste")
	s := NewPlainSurface(fake)
	defer s.Close()

	p := s.Type("namaste ")
	_, pending := s.Pending()
	require.True(t, pending)

	// second keystroke before the response
	s.HandleKey(NewKey('x'))
	close(release)

	assert.Equal(t, Stale, waitPending(t, p))
	value, caret := s.Snapshot()
	assert.Equal(t, "namaste x", value)
	assert.Equal(t, 9, caret)
}

func TestPlainStaleWithDiscardPolicy(t *testing.T) {
	fake := newFake(map[string][]string{"namaste": {"नमस्ते"}})
	release := fake.hold("namaste")
	s := NewPlainSurface(fake, WithPolicy(PolicyDiscard))
	defer s.Close()

	p := s.Type("namaste ")
	s.HandleKey(NewKey('j'))
	close(release)

	assert.Equal(t, Stale, waitPending(t, p))
	assert.Equal(t, "namastej", s.Value())
}

func TestPlainFastTypingKeepsDelimiters(t *testing.T) {
	fake := newFake(map[string][]string{"namaste": {"नमस्ते"}, "ghar": {"घर"}})
	release := fake.hold("namaste")
	s := NewPlainSurface(fake)
	defer s.Close()

	first := s.Type("namaste ")
	second := s.Type("ghar ")
	close(release)

	assert.Equal(t, Stale, waitPending(t, first))
	assert.Equal(t, Resolved, waitPending(t, second))
	s.Wait()
	assert.Equal(t, "namaste घर ", s.Value())
	assert.Equal(t, []string{"namaste", "ghar"}, fake.Calls())
}

func TestPlainWaitWhileTyping(t *testing.T) {
	fake := newFake(map[string][]string{"do": {"दो"}})
	release := fake.hold("ek")
	s := NewPlainSurface(fake)
	defer s.Close()

	s.Type("ek ")
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	s.Type("do ")
	select {
	case <-done:
		t.Fatal("Wait returned while a lookup was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after every lookup settled")
	}
	assert.Equal(t, "ek दो ", s.Value())
}

// slowVerbatim answers every word with itself after a delay, so keys typed
// in the meantime race the response.
func slowVerbatim(delay time.Duration) Transliterator {
	return TransliteratorFunc(func(ctx context.Context, word string, _ int) []string {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return []string{word}
	})
}

func TestPlainSlowVerbatimMatchesDisabled(t *testing.T) {
	input := "mera naam 42 hai\nkahani ab cd "

	slow := NewPlainSurface(slowVerbatim(20 * time.Millisecond))
	defer slow.Close()
	slow.Type(input)
	slow.Wait()

	disabled := NewPlainSurface(Verbatim, WithSwitch(NewSwitch(false)))
	defer disabled.Close()
	disabled.Type(input)

	v1, c1 := slow.Snapshot()
	v2, c2 := disabled.Snapshot()
	assert.Equal(t, input, v2)
	assert.Equal(t, v2, v1)
	assert.Equal(t, c2, c1)
}

func TestPlainCaretMoveSupersedes(t *testing.T) {
	fake := newFake(map[string][]string{"ek": {"एक"}})
	release := fake.hold("ek")
	s := NewPlainSurface(fake)
	defer s.Close()

	p := s.Type("ek ")
	s.MoveCaret(0)
	close(release)

	assert.Equal(t, Stale, waitPending(t, p))
	value, caret := s.Snapshot()
	assert.Equal(t, "ek ", value)
	assert.Equal(t, 0, caret)
}

func TestPlainOnChange(t *testing.T) {
	fake := newFake(map[string][]string{"do": {"दो"}})
	s := NewPlainSurface(fake)
	defer s.Close()

	var mu sync.Mutex
	var seen []string
	s.OnChange(func(v string) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	waitPending(t, s.Type("do "))

	mu.Lock()
	defer mu.Unlock()
	// raw keystrokes propagate immediately, then the replacement
	assert.Equal(t, []string{"d", "do", "दो "}, seen)
}

func TestPlainEditingKeys(t *testing.T) {
	s := NewPlainSurface(nil)
	defer s.Close()

	s.Type("abcd")
	s.HandleKey(NewSpecialKey(KeyLeft))
	s.HandleKey(NewSpecialKey(KeyBackspace))
	assert.Equal(t, "abd", s.Value())
	assert.Equal(t, 2, s.Caret())

	s.HandleKey(NewSpecialKey(KeyDelete))
	assert.Equal(t, "ab", s.Value())

	s.HandleKey(NewSpecialKey(KeyHome))
	s.HandleKey(NewSpecialKey(KeyBackspace))
	assert.Equal(t, "ab", s.Value())
	assert.Equal(t, 0, s.Caret())

	s.HandleKey(NewSpecialKey(KeyEnd))
	assert.Equal(t, 2, s.Caret())

	s.HandleKey(Key{Kind: KeyChar, Char: 'c', Modifiers: ModControl})
	assert.Equal(t, "ab", s.Value())
}

func TestPlainTranslitMidBuffer(t *testing.T) {
	fake := newFake(map[string][]string{"naya": {"नया"}})
	s := NewPlainSurface(fake)
	defer s.Close()

	s.InsertText("ek  ghar")
	s.MoveCaret(3)
	s.Type("naya")
	p := s.HandleKey(NewKey(' '))
	assert.Equal(t, Resolved, waitPending(t, p))

	value, caret := s.Snapshot()
	assert.Equal(t, "ek नया  ghar", value)
	assert.Equal(t, 7, caret)
}

func TestPlainSetValueRemapsCaret(t *testing.T) {
	s := NewPlainSurface(nil)
	defer s.Close()

	s.InsertText("hello world")
	s.MoveCaret(8) // inside "world"

	s.SetValue("oh hello world")
	assert.Equal(t, 11, s.Caret())

	s.SetValue("oh world")
	assert.Equal(t, 5, s.Caret())

	s.SetValue("")
	assert.Equal(t, 0, s.Caret())
}

func TestRemapCaret(t *testing.T) {
	tests := []struct {
		old, new string
		caret    int
		want     int
	}{
		{"abc", "abc", 2, 2},
		{"abc", "xabc", 1, 2},
		{"abc", "abcx", 1, 1},
		{"abcdef", "abf", 4, 2},
		{"abc", "", 3, 0},
		{"namaste ", "नमस्ते namaste ", 8, 15},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, remapCaret(tt.old, tt.new, tt.caret), "%q -> %q @%d", tt.old, tt.new, tt.caret)
	}
}

func TestPlainPanickingTransliterator(t *testing.T) {
	tr := TransliteratorFunc(func(context.Context, string, int) []string {
		panic("boom")
	})
	s := NewPlainSurface(tr)
	defer s.Close()

	assert.Equal(t, Fallback, waitPending(t, s.Type("ghar ")))
	assert.Equal(t, "ghar ", s.Value())
}

func TestPlainCloseIgnoresLateResponse(t *testing.T) {
	fake := newFake(map[string][]string{"raat": {"रात"}})
	fake.hold("raat")
	s := NewPlainSurface(fake)

	p := s.Type("raat ")
	s.Close() // cancels the blocked request

	assert.Equal(t, Stale, waitPending(t, p))
	assert.Equal(t, "raat", s.Value())

	// closed surfaces still type, without transliteration
	assert.Equal(t, Fallback, waitPending(t, s.Type(" din ")))
	assert.Equal(t, "raat din ", s.Value())
}

func TestSuggestionsOption(t *testing.T) {
	fake := newFake(nil)
	s := NewPlainSurface(fake, WithSuggestions(3))
	defer s.Close()

	waitPending(t, s.Type("ek "))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []int{3}, fake.counts)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFallback, p)

	p, err = ParsePolicy("discard")
	require.NoError(t, err)
	assert.Equal(t, PolicyDiscard, p)

	_, err = ParsePolicy("later")
	assert.Error(t, err)
}
