package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Transliteration.Enabled)
	assert.Equal(t, "hi-t-i0-und", cfg.Transliteration.InputTool)
	assert.Equal(t, 5, cfg.Transliteration.NumSuggestions)
	assert.Equal(t, time.Second, cfg.SaveDebounce())
	assert.Equal(t, "fallback", cfg.Editor.SupersedePolicy)
}

func TestLoadNonexistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Transliteration.Endpoint, cfg.Transliteration.Endpoint)
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config.toml": "[transliteration]\nnum_suggestions = 3\n\n[editor]\nsave_debounce_ms = 250\n",
		"config.json": `{"transliteration": {"num_suggestions": 3}, "editor": {"save_debounce_ms": 250}}`,
		"config.yaml": "transliteration:\n  num_suggestions: 3\neditor:\n  save_debounce_ms: 250\n",
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 3, cfg.Transliteration.NumSuggestions)
			assert.Equal(t, 250*time.Millisecond, cfg.SaveDebounce())
			// untouched fields keep their defaults
			assert.Equal(t, "hi-t-i0-und", cfg.Transliteration.InputTool)
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[editor\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAHANI_TRANSLITERATE", "off")
	t.Setenv("KAHANI_USER_ID", "writer-7")
	t.Setenv("KAHANI_STORAGE_PATH", "/tmp/k.db")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.False(t, cfg.Transliteration.Enabled)
	assert.Equal(t, "writer-7", cfg.Identity.UserID)
	assert.Equal(t, "/tmp/k.db", cfg.Storage.Path)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transliteration.Endpoint = "not a url"
	cfg.Transliteration.NumSuggestions = 0
	cfg.Editor.SupersedePolicy = "sometimes"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"transliteration.endpoint",
		"transliteration.num_suggestions",
		"editor.supersede_policy",
		"logging.level",
	}, fields)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			cfg := DefaultConfig()
			cfg.Identity.UserID = "u-1"
			cfg.Editor.SupersedePolicy = "discard"

			require.NoError(t, SaveConfig(cfg, path))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "u-1", loaded.Identity.UserID)
			assert.Equal(t, "discard", loaded.Editor.SupersedePolicy)
		})
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Transliteration.Enabled = false
	assert.True(t, cfg.Transliteration.Enabled)
}

func TestLoggingOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	lc, err := cfg.LoggingOptions()
	require.NoError(t, err)
	assert.Equal(t, "stderr", lc.Output)
	assert.EqualValues(t, 20, lc.MaxSize)
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[transliteration]\nenabled = true\n"), 0600))

	l := NewLoader(path)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.True(t, cfg.Transliteration.Enabled)

	changed := make(chan bool, 1)
	l.OnChange(func(old, new *Config) {
		changed <- new.Transliteration.Enabled
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[transliteration]\nenabled = false\n"), 0600))

	select {
	case enabled := <-changed:
		assert.False(t, enabled)
		assert.False(t, l.Config().Transliteration.Enabled)
	case err := <-l.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[editor]\nsupersede_policy = \"never\"\n"), 0600))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}
