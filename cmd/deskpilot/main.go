// deskpilot drives the desktop with scripted mouse, keyboard and screen
// actions.
//
// Usage:
//
//	deskpilot run [-config path] [-continue] [-json] [-run-id id] <sequence.yaml>
//	deskpilot serve [-config path]
//	deskpilot locate [-config path]
//	deskpilot screenshot [-config path] [-region x,y,w,h] <out.png>
//	deskpilot version
//
// The config file defaults to configs/config.yaml, overridable with
// DESKPILOT_CONFIG. A missing default file falls back to built-in defaults.
// A .env file in the working directory is loaded before the config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nerrad567/deskpilot/internal/infrastructure/config"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "DESKPILOT_CONFIG"
	envFile           = ".env"
)

var (
	errUsage     = errors.New("usage")
	errRunFailed = errors.New("sequence did not complete")
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run dispatches a subcommand. Output goes to stdout, logs and usage to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(ctx, rest, stdout, stderr)
	case "serve":
		return cmdServe(ctx, rest, stderr)
	case "locate":
		return cmdLocate(ctx, rest, stdout, stderr)
	case "screenshot":
		return cmdScreenshot(ctx, rest, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "deskpilot %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return errUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: deskpilot <command> [flags]

Commands:
  run <file>         execute a sequence file
  serve              run the HTTP API, MQTT control and watchers
  locate             print the position of the next mouse click
  screenshot <file>  save a PNG of the screen or a region
  version            print version information
`)
}

// newFlagSet returns a flag set with the shared -config flag.
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")
	return fs, path
}

// loadConfig loads the config from flagPath, $DESKPILOT_CONFIG or the default
// path. Only the implicit default may be missing.
func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		return cfg, nil
	}

	if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	cfg, err := config.Load(defaultConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", defaultConfigPath, err)
	}
	return cfg, nil
}
