// Package internal holds end-to-end tests that wire the suggestion client,
// the input surfaces, autosave and the story store together the way the
// kahani binaries do.
package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"kahani/internal/app"
	"kahani/internal/autosave"
	"kahani/internal/config"
	"kahani/internal/identity"
	"kahani/internal/ime"
	"kahani/internal/metrics"
	"kahani/internal/richtext"
	"kahani/internal/store"
	"kahani/internal/transliterate"
)

var dictionary = map[string]string{
	"namaste": "नमस्ते",
	"duniya":  "दुनिया",
	"kahani":  "कहानी",
}

// fakeService answers like the public input tools endpoint. While down is
// set it fails every request.
type fakeService struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (f *fakeService) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		word := r.URL.Query().Get("text")
		cand, ok := dictionary[word]
		if !ok {
			cand = word
		}
		fmt.Fprintf(w, `["SUCCESS",[[%q,[%q],[],{}]]]`, word, cand)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	store  *store.Store
	lib    *app.Library
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T, endpoint string, cfg *config.Config) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	m, err := metrics.New(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "stories.db"), time.Second, store.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg.Transliteration.Endpoint = endpoint
	client := transliterate.FromConfig(cfg.Transliteration, transliterate.WithMetrics(m))

	policy, err := ime.ParsePolicy(cfg.Editor.SupersedePolicy)
	require.NoError(t, err)

	lib := app.New(st, identity.Static("asha"),
		app.WithTransliterator(client),
		app.WithSwitch(ime.NewSwitch(cfg.Transliteration.Enabled)),
		app.WithComposerOptions(
			ime.WithPolicy(policy),
			ime.WithSuggestions(cfg.Transliteration.NumSuggestions),
			ime.WithMetrics(m),
		),
		app.WithAutosaveOptions(
			autosave.WithDelay(30*time.Millisecond),
			autosave.WithFlushOnClose(cfg.Editor.FlushOnClose),
			autosave.WithMetrics(m),
		),
	)
	t.Cleanup(func() { lib.Close(context.Background()) })
	return &harness{store: st, lib: lib, reader: reader}
}

// typeSlowly feeds text one key at a time, waiting for every word to settle.
func typeSlowly(t *testing.T, s interface {
	HandleKey(ime.Key) *ime.Pending
}, text string) {
	t.Helper()
	for _, k := range ime.KeysFromString(text) {
		if p := s.HandleKey(k); p != nil {
			_, err := p.Wait(context.Background())
			require.NoError(t, err)
		}
	}
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == name {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestWriteStoryEndToEnd(t *testing.T) {
	var svc fakeService
	h := newHarness(t, svc.start(t).URL, config.DefaultConfig())
	ctx := context.Background()

	id, err := h.lib.Create(ctx)
	require.NoError(t, err)
	ed, err := h.lib.Open(ctx, id)
	require.NoError(t, err)

	ed.Title().SetValue("")
	typeSlowly(t, ed.Title(), "kahani ")
	typeSlowly(t, ed.Body(), "namaste duniya ok ")

	require.Eventually(t, func() bool {
		s, err := h.store.Get(ctx, id)
		return err == nil && s.Title == "कहानी " && s.Content == "नमस्ते दुनिया ok "
	}, 2*time.Second, 10*time.Millisecond)

	// bold the first word and read it back through the markup parser
	tb := ed.Body().Select(0, 6)
	require.True(t, tb.Visible)
	require.NoError(t, ed.Body().ApplyFormat(richtext.ActionBold))
	require.NoError(t, ed.Close(ctx))

	s, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, s.Content, "<b>नमस्ते</b>")
	doc, err := richtext.Parse(s.Content)
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते दुनिया ok ", doc.Text())

	assert.Positive(t, counter(t, h.reader, "kahani.transliterate.requests"))
	assert.Positive(t, counter(t, h.reader, "kahani.autosave.writes"))
	assert.Zero(t, counter(t, h.reader, "kahani.autosave.pending"))
}

func TestServiceOutageKeepsLatinText(t *testing.T) {
	var svc fakeService
	svc.down.Store(true)
	srv := svc.start(t)

	cfg := config.DefaultConfig()
	cfg.Transliteration.BreakerMaxFailures = 2
	cfg.Transliteration.BreakerResetSec = 60
	h := newHarness(t, srv.URL, cfg)
	ctx := context.Background()

	id, err := h.lib.Create(ctx)
	require.NoError(t, err)
	ed, err := h.lib.Open(ctx, id)
	require.NoError(t, err)

	typeSlowly(t, ed.Body(), "namaste duniya kahani ")
	assert.Equal(t, "namaste duniya kahani ", ed.Body().Text())

	assert.Equal(t, int32(2), svc.calls.Load())

	// once the breaker is open the service sees no more traffic
	svc.down.Store(false)
	typeSlowly(t, ed.Body(), "namaste ")
	assert.Equal(t, "namaste duniya kahani namaste ", ed.Body().Text())
	assert.Equal(t, int32(2), svc.calls.Load())
}

func TestDisabledSwitchNeverCallsService(t *testing.T) {
	var svc fakeService
	cfg := config.DefaultConfig()
	cfg.Transliteration.Enabled = false
	h := newHarness(t, svc.start(t).URL, cfg)
	ctx := context.Background()

	id, err := h.lib.Create(ctx)
	require.NoError(t, err)
	ed, err := h.lib.Open(ctx, id)
	require.NoError(t, err)

	typeSlowly(t, ed.Body(), "namaste ")
	assert.Equal(t, "namaste ", ed.Body().Text())
	assert.Zero(t, svc.calls.Load())

	h.lib.Switch().Set(true)
	typeSlowly(t, ed.Body(), "namaste ")
	assert.Equal(t, "namaste नमस्ते ", ed.Body().Text())
	assert.Equal(t, int32(1), svc.calls.Load())
}
