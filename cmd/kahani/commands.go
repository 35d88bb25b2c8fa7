package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"kahani/internal/app"
	"kahani/internal/config"
	"kahani/internal/health"
	"kahani/internal/ime"
	"kahani/internal/richtext"
	"kahani/internal/store"
)

func cmdNew(ctx context.Context, e *env) error {
	id, err := e.lib.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, id)
	return nil
}

func cmdList(ctx context.Context, e *env, args []string) error {
	if _, err := e.lib.Refresh(ctx); err != nil {
		return err
	}
	stories := e.lib.Search(strings.Join(args, " "))
	if len(stories) == 0 {
		fmt.Fprintln(e.stdout, "No stories.")
		return nil
	}

	now := time.Now()
	for _, st := range stories {
		fmt.Fprintf(e.stdout, "%-36s  %-10s  %s\n", st.ID, app.FormatModified(st.LastModified, now), st.Title)
	}
	return nil
}

func cmdShow(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	markup := fs.Bool("markup", false, "print the stored markup")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: kahani show [-markup] <id>")
	}

	st, err := e.lib.Story(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Fprintln(e.stdout, st.Title)
	fmt.Fprintln(e.stdout)
	if *markup {
		fmt.Fprintln(e.stdout, st.Content)
		return nil
	}
	doc, err := richtext.Parse(st.Content)
	if err != nil {
		return fmt.Errorf("parse story content: %w", err)
	}
	fmt.Fprintln(e.stdout, doc.Text())
	return nil
}

func cmdRemove(ctx context.Context, e *env, id string) error {
	if err := e.lib.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Deleted %s\n", id)
	return nil
}

// keyFromRune maps a byte read from a terminal or pipe to a key event.
func keyFromRune(r rune) ime.Key {
	switch r {
	case 0x7f, '\b':
		return ime.NewSpecialKey(ime.KeyBackspace)
	}
	return ime.NewKey(r)
}

// surface is what cmdWrite needs from either editor field.
type surface interface {
	HandleKey(ime.Key) *ime.Pending
	Wait()
}

func cmdWrite(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	title := fs.Bool("title", false, "type into the title instead of the body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: kahani write [-title] <id>")
	}

	if err := e.loader.Watch(); err != nil {
		e.logger.Warn("config hot reload unavailable", "error", err)
	}

	ed, err := e.lib.Open(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	go func() {
		for n := range e.lib.Notices() {
			fmt.Fprintf(os.Stderr, "%s: %v\n", n.Message, n.Err)
		}
	}()

	var target surface
	if *title {
		t := ed.Title()
		t.MoveCaret(utf8.RuneCountInString(t.Value()))
		target = t
	} else {
		b := ed.Body()
		b.MoveCaret(b.Doc().Len())
		target = b
	}

	in := bufio.NewReader(e.stdin)
	for ctx.Err() == nil {
		r, _, err := in.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		// Let each word settle before the next key supersedes it.
		if p := target.HandleKey(keyFromRune(r)); p != nil {
			if _, err := p.Wait(ctx); err != nil {
				break
			}
		}
	}
	target.Wait()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := ed.Save(saveCtx); err != nil {
		return fmt.Errorf("save story: %w", err)
	}
	fmt.Fprintln(e.stdout, ed.Status())
	return ed.Close(saveCtx)
}

// actionNames lists the toolbar actions as the format command accepts them.
func actionNames() string {
	names := make([]string, len(richtext.Actions))
	for i, a := range richtext.Actions {
		names[i] = a.String()
	}
	return strings.Join(names, "|")
}

func cmdFormat(ctx context.Context, e *env, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: kahani format <id> <start> <end> <%s>", actionNames())
	}
	start, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid start: %w", err)
	}
	end, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid end: %w", err)
	}
	action, err := richtext.ParseAction(args[3])
	if err != nil {
		return err
	}

	ed, err := e.lib.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer ed.Close(context.WithoutCancel(ctx))

	body := ed.Body()
	if tb := body.Select(start, end); !tb.Visible {
		return richtext.ErrNoSelection
	}
	fmt.Fprintf(e.stdout, "Selected %q\n", body.SelectedText())
	if err := body.ApplyFormat(action); err != nil {
		return err
	}
	return ed.Save(ctx)
}

func cmdTranslit(ctx context.Context, e *env, words []string) error {
	n := e.cfg.Transliteration.NumSuggestions
	for _, w := range words {
		if !ime.Eligible(w) {
			fmt.Fprintf(e.stdout, "%s\t(not a Latin word)\n", w)
			continue
		}
		cands, err := e.client.Lookup(ctx, w, n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", w, err)
			cands = []string{w}
		}
		fmt.Fprintf(e.stdout, "%s\t%s\n", w, strings.Join(cands, ", "))
	}
	return nil
}

func cmdDoctor(ctx context.Context, e *env) error {
	c := health.NewChecker()
	c.Register("store", true, health.StoreCheck(e.store.DB()))
	c.Register("data dir", true, health.DirCheck(filepath.Dir(e.cfg.Storage.Path)))
	c.Register("transliteration", false, health.TransliterationCheck(e.client.Lookup, "namaste"))

	for _, r := range c.Check(ctx) {
		line := fmt.Sprintf("%-16s %-10s %s", r.Name, r.Status, r.Message)
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(e.stdout, line)
	}

	overall := c.OverallStatus()
	fmt.Fprintf(e.stdout, "\nOverall: %s\n", overall)
	if overall == health.StatusUnhealthy {
		return fmt.Errorf("kahani is not usable")
	}
	return nil
}

func cmdSchema(e *env, args []string) error {
	sub := "status"
	if len(args) > 0 {
		sub = args[0]
	}
	db := e.store.DB()

	switch sub {
	case "status":
		status, err := store.GetMigrationStatus(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "Schema v%d of %d\n", status.CurrentVersion, status.LatestVersion)
		for _, m := range status.Applied {
			fmt.Fprintf(e.stdout, "  v%d  %s  %s\n", m.Version, m.AppliedAt.Format(time.DateTime), m.Description)
		}
		for _, m := range status.Pending {
			fmt.Fprintf(e.stdout, "  v%d  %-19s  %s\n", m.Version, "pending", m.Description)
		}
		return nil

	case "rollback":
		status, err := store.GetMigrationStatus(db)
		if err != nil {
			return err
		}
		// v1 holds the stories table itself
		if status.CurrentVersion <= 1 {
			return fmt.Errorf("refusing to roll back schema v%d: it would drop every story", status.CurrentVersion)
		}
		if err := store.RollbackMigration(db); err != nil {
			return err
		}
		e.logger.Info("schema rolled back", "from", status.CurrentVersion, "to", status.CurrentVersion-1)
		fmt.Fprintf(e.stdout, "Rolled back to schema v%d. The next kahani run migrates forward again.\n", status.CurrentVersion-1)
		return nil

	default:
		return fmt.Errorf("unknown schema command: %s", sub)
	}
}

func cmdConfig(args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}
	loader := config.NewLoader(*configPath)
	defer loader.Close()

	switch sub {
	case "path":
		fmt.Println(loader.Path())
		return nil

	case "init":
		path := loader.Path()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil

	case "show":
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Config:          %s\n", loader.Path())
		fmt.Printf("Store:           %s\n", cfg.Storage.Path)
		fmt.Printf("Endpoint:        %s (%s)\n", cfg.Transliteration.Endpoint, cfg.Transliteration.InputTool)
		fmt.Printf("Transliteration: %s\n", onOff(cfg.Transliteration.Enabled))
		fmt.Printf("Autosave:        %s after last edit, flush on close %s\n",
			cfg.SaveDebounce(), onOff(cfg.Editor.FlushOnClose))
		fmt.Printf("Supersede:       %s\n", cfg.Editor.SupersedePolicy)

		if _, err := os.Stat(cfg.Storage.Path); err != nil {
			fmt.Println("Schema:          not created")
			return nil
		}
		s, err := store.Open(cfg.Storage.Path, time.Second)
		if err != nil {
			return err
		}
		defer s.Close()
		status, err := store.GetMigrationStatus(s.DB())
		if err != nil {
			return err
		}
		fmt.Printf("Schema:          v%d of %d\n", status.CurrentVersion, status.LatestVersion)
		return nil

	default:
		return fmt.Errorf("unknown config command: %s", sub)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
