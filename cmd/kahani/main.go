// kahani is the command-line front end to a writer's story library.
//
// Stories are edited by piping keystrokes through the same input surfaces a
// graphical editor would use, so Latin words are transliterated to
// Devanagari as they are typed:
//
//	echo "namaste duniya " | kahani write <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kahani/internal/config"
	"kahani/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to config file")
	translit   = flag.String("translit", "", "force transliteration on or off for this run")
	stats      = flag.Bool("stats", false, "print metrics on exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		usage()
		return nil
	case "config":
		return cmdConfig(args)
	}

	env, err := setup()
	if err != nil {
		return err
	}
	defer env.Close()

	switch cmd {
	case "new":
		return cmdNew(ctx, env)
	case "list":
		return cmdList(ctx, env, args)
	case "show":
		if len(args) < 1 {
			return fmt.Errorf("usage: kahani show [-markup] <id>")
		}
		return cmdShow(ctx, env, args)
	case "rm":
		if len(args) < 1 {
			return fmt.Errorf("usage: kahani rm <id>")
		}
		return cmdRemove(ctx, env, args[0])
	case "write":
		return cmdWrite(ctx, env, args)
	case "format":
		return cmdFormat(ctx, env, args)
	case "doctor":
		return cmdDoctor(ctx, env)
	case "schema":
		return cmdSchema(env, args)
	case "translit":
		if len(args) < 1 {
			return fmt.Errorf("usage: kahani translit <word>...")
		}
		return cmdTranslit(ctx, env, args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `kahani - write stories in Devanagari from a Latin keyboard

Usage: kahani [options] <command> [args]

Commands:
  new                       Create a story and print its id
  list [query]              List stories, newest first, optionally filtered
  show [-markup] <id>       Print a story
  rm <id>                   Delete a story
  write [-title] <id>       Type stdin into a story (body, or title with -title)
  format <id> <start> <end> <action>
                            Apply highlight, red, blue or bold to a range
  translit <word>...        Print transliteration candidates
  doctor                    Check the store, directories and suggestion service
  schema [status|rollback]  Show applied migrations or undo the latest one
  config [path|init|show]   Show or create the config file
  help                      Show this help message

Options:
  -config <path>            Path to config file
  -translit on|off          Override the transliteration switch
  -stats                    Print metrics on exit`)
}

// setupLogging installs the configured logger as the process default.
func setupLogging(cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.LoggingOptions()
	if err != nil {
		return nil, err
	}
	lc.Component = "kahani"
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.SetDefault(logger)
	slog.Debug("logging ready", "level", logging.LevelString(lc.Level))
	return logger, nil
}
