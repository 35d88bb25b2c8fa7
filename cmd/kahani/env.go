package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"kahani/internal/app"
	"kahani/internal/autosave"
	"kahani/internal/config"
	"kahani/internal/identity"
	"kahani/internal/ime"
	"kahani/internal/metrics"
	"kahani/internal/store"
	"kahani/internal/transliterate"
)

// env is everything a command needs, torn down in reverse by Close.
type env struct {
	loader   *config.Loader
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error

	store  *store.Store
	client *transliterate.Client
	sw     *ime.Switch
	lib    *app.Library

	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	stdin  io.Reader
	stdout io.Writer
}

func setup() (*env, error) {
	e := &env{stdin: os.Stdin, stdout: os.Stdout}

	// The provider must be in place before any instrument is created.
	if *stats {
		e.reader = sdkmetric.NewManualReader()
		e.provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(e.reader))
		otel.SetMeterProvider(e.provider)
	}

	e.loader = config.NewLoader(*configPath)
	cfg, err := e.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", e.loader.Path(), err)
	}
	e.cfg = cfg

	logger, err := setupLogging(cfg)
	if err != nil {
		return nil, err
	}
	e.logger = logger.Logger
	e.closeLog = logger.Close

	if err := cfg.EnsureDirectories(); err != nil {
		e.Close()
		return nil, err
	}

	m := metrics.Default()
	busy := time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond
	e.store, err = store.Open(cfg.Storage.Path, busy, store.WithMetrics(m), store.WithLogger(logger.WithComponent("store").Logger))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open story store: %w", err)
	}

	on := cfg.Transliteration.Enabled
	switch *translit {
	case "":
	case "on":
		on = true
	case "off":
		on = false
	default:
		e.Close()
		return nil, fmt.Errorf("-translit must be on or off, got %q", *translit)
	}
	e.sw = ime.NewSwitch(on)

	policy, err := ime.ParsePolicy(cfg.Editor.SupersedePolicy)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.client = transliterate.FromConfig(cfg.Transliteration,
		transliterate.WithMetrics(m),
		transliterate.WithLogger(logger.WithComponent("transliterate").Logger),
	)

	e.lib = app.New(e.store, identity.FromConfig(cfg.Identity),
		app.WithTransliterator(e.client),
		app.WithSwitch(e.sw),
		app.WithLogger(e.logger),
		app.WithComposerOptions(
			ime.WithPolicy(policy),
			ime.WithSuggestions(cfg.Transliteration.NumSuggestions),
			ime.WithTimeout(cfg.RequestTimeout()),
			ime.WithMetrics(m),
		),
		app.WithAutosaveOptions(
			autosave.WithDelay(cfg.SaveDebounce()),
			autosave.WithFlushOnClose(cfg.Editor.FlushOnClose),
			autosave.WithMetrics(m),
		),
	)

	// An edited config flips the switch unless the command line pinned it.
	e.loader.OnChange(func(old, new *config.Config) {
		if *translit == "" && old.Transliteration.Enabled != new.Transliteration.Enabled {
			e.sw.Set(new.Transliteration.Enabled)
			e.logger.Info("transliteration switched", "enabled", new.Transliteration.Enabled)
		}
	})
	return e, nil
}

// Close releases everything setup acquired. It tolerates a partly built env.
func (e *env) Close() error {
	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.lib != nil {
		errs = append(errs, e.lib.Close(ctx))
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.loader != nil {
		errs = append(errs, e.loader.Close())
	}
	if e.reader != nil {
		if err := printStats(ctx, e.reader); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, e.provider.Shutdown(ctx))
	}
	if e.closeLog != nil {
		errs = append(errs, e.closeLog())
	}
	return errors.Join(errs...)
}
