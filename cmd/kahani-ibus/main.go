//go:build linux

// kahani-ibus is the IBus input method engine. It transliterates Latin words
// to Devanagari in any application that uses IBus.
//
// Installation:
//  1. Copy the binary to /usr/local/bin/kahani-ibus
//  2. Run: kahani-ibus --install
//  3. Restart IBus: ibus restart
//  4. Add "Kahani (Hindi)" in ibus-setup or GNOME Settings > Keyboard
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"kahani/internal/config"
	"kahani/internal/ime"
	"kahani/internal/logging"
	"kahani/internal/metrics"
	"kahani/internal/transliterate"
)

var errRunning = errors.New("another kahani-ibus is already running")

func main() {
	installFlag := flag.Bool("install", false, "Install IBus component")
	uninstallFlag := flag.Bool("uninstall", false, "Uninstall IBus component")
	flag.Bool("ibus", false, "Started by the IBus daemon")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if *installFlag {
		if err := installComponent(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to install: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Installed successfully. Run 'ibus restart' to load.")
		return
	}
	if *uninstallFlag {
		if err := uninstallComponent(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to uninstall: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Uninstalled successfully.")
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("kahani-ibus stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader := config.NewLoader(configPath)
	defer loader.Close()
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	lc, err := cfg.LoggingOptions()
	if err != nil {
		return err
	}
	lc.Component = "kahani-ibus"
	if lc.Output == "stdout" || lc.Output == "stderr" {
		// IBus discards the engine's standard streams.
		lc.Output = "file"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	unlock, err := lockInstance()
	if err != nil {
		return err
	}
	defer unlock()

	policy, err := ime.ParsePolicy(cfg.Editor.SupersedePolicy)
	if err != nil {
		return err
	}
	m := metrics.Default()
	client := transliterate.FromConfig(cfg.Transliteration,
		transliterate.WithMetrics(m),
		transliterate.WithLogger(logger.WithComponent("transliterate").Logger),
	)

	sw := ime.NewSwitch(cfg.Transliteration.Enabled)
	loader.OnChange(func(_, new *config.Config) {
		sw.Set(new.Transliteration.Enabled)
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	defer conn.Close()

	reply, err := conn.RequestName(ime.KahaniBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errRunning
	}

	factory := ime.NewIBusFactory(conn, client,
		ime.WithSwitch(sw),
		ime.WithPolicy(policy),
		ime.WithSuggestions(cfg.Transliteration.NumSuggestions),
		ime.WithTimeout(cfg.RequestTimeout()),
		ime.WithMetrics(m),
		ime.WithLogger(logger.WithComponent("ibus").Logger),
	)
	if err := factory.Export(); err != nil {
		return fmt.Errorf("export factory: %w", err)
	}
	logger.Info("kahani IBus engine started", "bus_name", ime.KahaniBusName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	return nil
}

// lockInstance takes a per-user flock so a second engine exits early
// instead of racing the first for the bus name.
func lockInstance() (func(), error) {
	dir := config.PlatformRuntimeDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create runtime directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "ibus.lock"), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errRunning
		}
		return nil, fmt.Errorf("lock: %w", err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func componentPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "ibus", "component", ime.KahaniEngineName+".xml"), nil
}

func installComponent() error {
	path, err := componentPath()
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(ime.ComponentXML(exe)), 0644)
}

func uninstallComponent() error {
	path, err := componentPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
