package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nerrad567/deskpilot/internal/api"
	"github.com/nerrad567/deskpilot/internal/automation"
	"github.com/nerrad567/deskpilot/internal/infrastructure/logging"
	"github.com/nerrad567/deskpilot/internal/remote"
	"github.com/nerrad567/deskpilot/internal/script"
)

// Run sources recorded on the run log.
const (
	sourceCLI     = "cli"
	sourceWatcher = "watcher"
)

// cmdRun executes one sequence file and prints its results. A sequence that
// does not complete returns errRunFailed.
func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("run", stderr)
	keepGoing := fs.Bool("continue", false, "keep going after a failed action")
	asJSON := fs.Bool("json", false, "print the run record as JSON")
	runID := fs.String("run-id", "", "run ID (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: deskpilot run [flags] <sequence.yaml>")
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log := logging.NewWithWriter(cfg.Logging, version, stderr)

	s, err := openStack(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer s.Close()

	seq, err := script.Loader{Defaults: s.defaults()}.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := s.vision.Preload(seq.Templates...); err != nil {
		return fmt.Errorf("preloading templates: %w", err)
	}

	stop := seq.StopOnFailureOr(cfg.Automation.StopOnFailure)
	if *keepGoing {
		stop = false
	}

	run, results, runErr := s.executor.ExecuteRun(ctx, seq.Actions, automation.RunOptions{
		StopOnFailure: stop,
		Source:        sourceCLI,
		RunID:         *runID,
	})
	if run == nil {
		return runErr
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return fmt.Errorf("encoding run: %w", err)
		}
	} else {
		printResults(stdout, seq.Name, run, results)
	}

	if runErr != nil {
		return runErr
	}
	if run.Status != automation.RunCompleted {
		return fmt.Errorf("%w: %s", errRunFailed, run.Status)
	}
	return nil
}

func printResults(w io.Writer, name string, run *automation.Run, results []automation.ActionResult) {
	if name == "" {
		name = run.ID
	}
	fmt.Fprintf(w, "%s: %s (%d/%d succeeded, %dms)\n",
		name, run.Status, run.Succeeded, run.ActionsTotal, run.DurationMS)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range results {
		status := "ok"
		detail := formatValue(r.Value)
		if !r.Success {
			status = string(r.Class())
			detail = r.Err.Error()
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%dms\t%s\n", r.Index, r.Action.Kind(), status, r.Duration.Milliseconds(), detail)
	}
	tw.Flush()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case automation.RGB:
		return val.Hex()
	case automation.Match:
		return fmt.Sprintf("match at %s (%.2f)", val.Center, val.Score)
	default:
		return fmt.Sprint(val)
	}
}

// cmdServe runs the HTTP API, the MQTT controller and the configured
// watchers until ctx ends.
func cmdServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs, configPath := newFlagSet("serve", stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	log := logging.Default()
	log.Info("starting deskpilot", "version", version, "commit", commit, "build_date", date)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version)

	s, err := openStack(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)
	go s.runRetention(ctx)

	watchers, err := s.startWatchers(ctx)
	if err != nil {
		return err
	}
	defer watchers.stop()

	deps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Logger:        log.Component("api"),
		Executor:      s.executor,
		Watchers:      watchers.set,
		Health:        s.healthCheckers(),
		Hub:           s.hub,
		StopOnFailure: cfg.Automation.StopOnFailure,
		Defaults:      s.defaults(),
		Version:       version,
	}
	if s.runs != nil {
		deps.Runs = s.runs
		deps.DB = s.db
	}
	if s.mqtt != nil {
		deps.MQTT = s.mqtt
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}()

	if s.mqtt != nil {
		ctrl := remote.NewController(s.mqtt, s.executor, cfg.Agent.ID,
			remote.WithLogger(log.Component("remote")),
			remote.WithStopOnFailure(cfg.Automation.StopOnFailure),
			remote.WithDefaults(s.defaults()),
		)
		if err := ctrl.Start(ctx); err != nil {
			return fmt.Errorf("starting remote control: %w", err)
		}
		defer ctrl.Stop()
	}

	log.Info("initialisation complete, waiting for shutdown signal", "api", srv.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: remote control, API server, watchers,
	// then the stack's InfluxDB, MQTT and database.
	return nil
}

// cmdLocate prints the cursor position at the next mouse press.
func cmdLocate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("locate", stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ports := openDesktop(cfg.Desktop, logging.NewWithWriter(cfg.Logging, version, stderr))

	fmt.Fprintln(stderr, "click anywhere to print its coordinates (Ctrl+C to cancel)")
	p, err := ports.locate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d,%d\n", p.X, p.Y)
	return nil
}

// cmdScreenshot saves the screen, or -region, as a PNG.
func cmdScreenshot(_ context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("screenshot", stderr)
	regionFlag := fs.String("region", "", "x,y,width,height to capture")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: deskpilot screenshot [flags] <out.png>")
		return errUsage
	}

	var region *automation.Region
	if *regionFlag != "" {
		r, err := parseRegion(*regionFlag)
		if err != nil {
			return err
		}
		region = &r
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ports := openDesktop(cfg.Desktop, logging.NewWithWriter(cfg.Logging, version, stderr))

	if err := ports.screenshot(fs.Arg(0), region); err != nil {
		return err
	}
	fmt.Fprintln(stdout, fs.Arg(0))
	return nil
}

// parseRegion parses "x,y,width,height".
func parseRegion(s string) (automation.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return automation.Region{}, errors.New("region must be x,y,width,height")
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return automation.Region{}, fmt.Errorf("region: %q is not an integer", p)
		}
		n[i] = v
	}
	if n[2] <= 0 || n[3] <= 0 {
		return automation.Region{}, errors.New("region width and height must be positive")
	}
	return automation.Region{X: n[0], Y: n[1], Width: n[2], Height: n[3]}, nil
}
