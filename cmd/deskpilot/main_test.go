package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/deskpilot/internal/automation"
	"github.com/nerrad567/deskpilot/internal/infrastructure/config"
	"github.com/nerrad567/deskpilot/internal/infrastructure/logging"
	"github.com/nerrad567/deskpilot/internal/script"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type fakeInput struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInput) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeInput) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInput) MoveTo(_, _ int) error { f.record("MoveTo"); return nil }

// Click rejects negative coordinates the way the bounds check does.
func (f *fakeInput) Click(x, y int, _ automation.Button) error {
	f.record("Click")
	if x < 0 || y < 0 {
		return automation.PortError("click", fmt.Errorf("(%d,%d) is off screen", x, y))
	}
	return nil
}

func (f *fakeInput) DoubleClick(_, _ int) error { f.record("DoubleClick"); return nil }
func (f *fakeInput) Drag(_, _, _, _ int, _ automation.Button, _ time.Duration) error {
	f.record("Drag")
	return nil
}
func (f *fakeInput) Scroll(_ int, _ *automation.Point) error { f.record("Scroll"); return nil }
func (f *fakeInput) MouseDown(_ automation.Button, _ *automation.Point) error {
	f.record("MouseDown")
	return nil
}
func (f *fakeInput) MouseUp(_ automation.Button, _ *automation.Point) error {
	f.record("MouseUp")
	return nil
}
func (f *fakeInput) TypeText(_ string, _ time.Duration) error { f.record("TypeText"); return nil }
func (f *fakeInput) PressKey(_ string, _ int) error           { f.record("PressKey"); return nil }
func (f *fakeInput) KeyDown(_ string) error                   { f.record("KeyDown"); return nil }
func (f *fakeInput) KeyUp(_ string) error                     { f.record("KeyUp"); return nil }
func (f *fakeInput) KeyCombination(_ []string) error          { f.record("KeyCombination"); return nil }
func (f *fakeInput) Navigate(_ automation.Direction, _ int) error {
	f.record("Navigate")
	return nil
}

var grey = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

// fakeVision is a uniformly grey screen on which no template matches.
type fakeVision struct{}

func (fakeVision) CaptureRegion(_ *automation.Region) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, grey)
		}
	}
	return img, nil
}

func (fakeVision) LoadTemplate(ref string) (image.Image, error) {
	return nil, automation.PortError("load template", fmt.Errorf("%s not found", ref))
}

func (fakeVision) MatchTemplate(_, _ image.Image, _ float64) (automation.Match, bool, error) {
	return automation.Match{}, false, nil
}

func (fakeVision) PixelColor(_, _ int) (automation.RGB, error) {
	return automation.RGB{R: grey.R, G: grey.G, B: grey.B}, nil
}

type fakeDesktop struct {
	input       *fakeInput
	screenshots []string
}

// useFakeDesktop swaps the robotgo ports for fakes until the test ends.
func useFakeDesktop(t *testing.T) *fakeDesktop {
	t.Helper()
	fd := &fakeDesktop{input: &fakeInput{}}

	orig := openDesktop
	openDesktop = func(_ config.DesktopConfig, _ *logging.Logger) desktopPorts {
		return desktopPorts{
			input:  fd.input,
			vision: fakeVision{},
			screenshot: func(path string, region *automation.Region) error {
				if region != nil {
					path = fmt.Sprintf("%s@%d,%d,%d,%d", path, region.X, region.Y, region.Width, region.Height)
				}
				fd.screenshots = append(fd.screenshots, path)
				return nil
			},
			locate: func(_ context.Context) (automation.Point, error) {
				return automation.Point{X: 12, Y: 34}, nil
			},
		}
	}
	t.Cleanup(func() { openDesktop = orig })
	return fd
}

// writeConfig writes a config with a temp database and points
// DESKPILOT_CONFIG at it.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := fmt.Sprintf(`
agent:
  id: test-desk
database:
  enabled: true
  path: %s
logging:
  level: error
  output: stderr
`, filepath.Join(dir, "deskpilot.db"))
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(configEnv, path)
	return path
}

func writeSequence(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sequence.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing sequence: %v", err)
	}
	return path
}

const okSequence = `
name: smoke
actions:
  - kind: click
    at: {x: 10, y: 20}
  - kind: get_pixel_color
    at: {x: 1, y: 1}
`

const failingSequence = `
name: broken
stop_on_failure: true
actions:
  - kind: click
    at: {x: -5, y: 20}
  - kind: type_text
    text: never typed
`

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// ─── Dispatch ──────────────────────────────────────────────────────

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    error
		wantStdout string
		wantStderr string
	}{
		{"no args", nil, errUsage, "", "Usage: deskpilot"},
		{"unknown command", []string{"dance"}, errUsage, "", `unknown command "dance"`},
		{"version", []string{"version"}, nil, "deskpilot dev", ""},
		{"help", []string{"help"}, nil, "Commands:", ""},
		{"run without file", []string{"run"}, errUsage, "", "usage: deskpilot run"},
		{"bad flag", []string{"run", "-nope"}, errUsage, "", "flag provided but not defined"},
		{"screenshot without file", []string{"screenshot"}, errUsage, "", "usage: deskpilot screenshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := runCLI(t, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(stdout, tt.wantStdout) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tt.wantStdout)
			}
			if !strings.Contains(stderr, tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.wantStderr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("explicit path must exist", func(t *testing.T) {
		if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("expected error for missing config")
		}
	})

	t.Run("env path", func(t *testing.T) {
		writeConfig(t)
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Agent.ID != "test-desk" {
			t.Errorf("agent id = %q, want test-desk", cfg.Agent.ID)
		}
	})

	t.Run("missing default falls back", func(t *testing.T) {
		t.Setenv(configEnv, "")
		t.Chdir(t.TempDir())
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Agent.ID == "" {
			t.Error("expected built-in defaults")
		}
	})
}

// ─── run ───────────────────────────────────────────────────────────

func TestCmdRun_Table(t *testing.T) {
	fd := useFakeDesktop(t)
	writeConfig(t)
	seq := writeSequence(t, okSequence)

	stdout, stderr, err := runCLI(t, "run", seq)
	if err != nil {
		t.Fatalf("run error = %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "smoke: completed (2/2 succeeded") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "#808080") {
		t.Errorf("pixel colour missing from output: %q", stdout)
	}
	if fd.input.count() != 1 {
		t.Errorf("input calls = %d, want 1", fd.input.count())
	}
}

func TestCmdRun_JSON(t *testing.T) {
	useFakeDesktop(t)
	writeConfig(t)
	seq := writeSequence(t, okSequence)

	stdout, stderr, err := runCLI(t, "run", "-json", "-run-id", "cli-run-1", seq)
	if err != nil {
		t.Fatalf("run error = %v\nstderr: %s", err, stderr)
	}

	var got automation.Run
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, stdout)
	}
	if got.ID != "cli-run-1" || got.Source != sourceCLI || got.Status != automation.RunCompleted {
		t.Errorf("run = %+v", got)
	}
	if got.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", got.Succeeded)
	}
}

func TestCmdRun_Failure(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantStatus string
		wantCalls  int
	}{
		{"stops on failure", nil, "broken: failed (0/2 succeeded", 1},
		{"continue flag", []string{"-continue"}, "broken: partial (1/2 succeeded", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := useFakeDesktop(t)
			writeConfig(t)
			seq := writeSequence(t, failingSequence)

			args := append([]string{"run"}, tt.args...)
			stdout, _, err := runCLI(t, append(args, seq)...)
			if !errors.Is(err, errRunFailed) {
				t.Fatalf("err = %v, want errRunFailed", err)
			}
			if !strings.Contains(stdout, tt.wantStatus) {
				t.Errorf("stdout = %q, want %q", stdout, tt.wantStatus)
			}
			if !strings.Contains(stdout, string(automation.ClassPort)) {
				t.Errorf("failure class missing: %q", stdout)
			}
			if fd.input.count() != tt.wantCalls {
				t.Errorf("input calls = %d, want %d", fd.input.count(), tt.wantCalls)
			}
		})
	}
}

func TestCmdRun_DuplicateRunID(t *testing.T) {
	fd := useFakeDesktop(t)
	writeConfig(t)
	seq := writeSequence(t, okSequence)

	if _, stderr, err := runCLI(t, "run", "-run-id", "nightly", seq); err != nil {
		t.Fatalf("first run error = %v\nstderr: %s", err, stderr)
	}
	stdout, _, err := runCLI(t, "run", "-run-id", "nightly", seq)
	if !errors.Is(err, automation.ErrRunExists) {
		t.Fatalf("second run err = %v, want ErrRunExists", err)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want nothing for a rejected run", stdout)
	}
	if fd.input.count() != 1 {
		t.Errorf("input calls = %d, want only the first run's click", fd.input.count())
	}
}

func TestCmdRun_BadSequence(t *testing.T) {
	useFakeDesktop(t)
	writeConfig(t)
	seq := writeSequence(t, "actions:\n  - kind: teleport\n")

	if _, _, err := runCLI(t, "run", seq); err == nil || errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want a load error", err)
	}
}

// ─── locate / screenshot ───────────────────────────────────────────

func TestCmdLocate(t *testing.T) {
	useFakeDesktop(t)
	writeConfig(t)

	stdout, _, err := runCLI(t, "locate")
	if err != nil {
		t.Fatalf("locate error = %v", err)
	}
	if stdout != "12,34\n" {
		t.Errorf("stdout = %q, want 12,34", stdout)
	}
}

func TestCmdScreenshot(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"full screen", []string{"shot.png"}, "shot.png", false},
		{"region", []string{"-region", "1,2,30,40", "shot.png"}, "shot.png@1,2,30,40", false},
		{"bad region", []string{"-region", "1,2,30", "shot.png"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := useFakeDesktop(t)
			writeConfig(t)

			stdout, _, err := runCLI(t, append([]string{"screenshot"}, tt.args...)...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("screenshot error = %v", err)
			}
			if len(fd.screenshots) != 1 || fd.screenshots[0] != tt.want {
				t.Errorf("screenshots = %v, want [%s]", fd.screenshots, tt.want)
			}
			if strings.TrimSpace(stdout) != "shot.png" {
				t.Errorf("stdout = %q", stdout)
			}
		})
	}
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    automation.Region
		wantErr bool
	}{
		{"0,0,100,50", automation.Region{Width: 100, Height: 50}, false},
		{" 10, 20 , 30,40", automation.Region{X: 10, Y: 20, Width: 30, Height: 40}, false},
		{"-5,-5,10,10", automation.Region{X: -5, Y: -5, Width: 10, Height: 10}, false},
		{"1,2,3", automation.Region{}, true},
		{"a,2,3,4", automation.Region{}, true},
		{"1,2,0,4", automation.Region{}, true},
		{"1,2,3,-4", automation.Region{}, true},
	}

	for _, tt := range tests {
		got, err := parseRegion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRegion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRegion(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

// ─── Watchers ──────────────────────────────────────────────────────

func TestStartWatchers_RunsSequence(t *testing.T) {
	fd := useFakeDesktop(t)
	seq := writeSequence(t, "actions:\n  - kind: click\n    at: {x: 5, y: 5}\n")

	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.Database.Enabled = false
	cfg.Watchers = []config.WatcherConfig{{
		Name:     "grey-dot",
		Kind:     config.WatcherPixel,
		Color:    "#808080",
		Interval: 10 * time.Millisecond,
		Once:     true,
		Sequence: seq,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openStack(ctx, cfg, logging.NewWithWriter(cfg.Logging, "test", io.Discard), true)
	if err != nil {
		t.Fatalf("openStack() error = %v", err)
	}
	defer s.Close()

	watchers, err := s.startWatchers(ctx)
	if err != nil {
		t.Fatalf("startWatchers() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.executor.History().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher sequence never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	watchers.stop()

	status := watchers.set.Status()
	if len(status) != 1 || status[0].Triggers != 1 || status[0].Running {
		t.Errorf("status = %+v", status)
	}
	if fd.input.count() != 1 {
		t.Errorf("input calls = %d, want 1", fd.input.count())
	}
	if got := s.executor.History().All()[0]; !got.Success {
		t.Errorf("watcher sequence result = %+v", got)
	}
}

func TestOnTrigger_SkipsWhileSequenceRuns(t *testing.T) {
	fd := useFakeDesktop(t)
	path := writeSequence(t, "actions:\n  - kind: click\n    at: {x: 5, y: 5}\n  - kind: wait\n    duration_ms: 100\n")

	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.Database.Enabled = false

	ctx := context.Background()
	s, err := openStack(ctx, cfg, logging.NewWithWriter(cfg.Logging, "test", io.Discard), false)
	if err != nil {
		t.Fatalf("openStack() error = %v", err)
	}
	defer s.Close()

	seq, err := script.Loader{Defaults: s.defaults()}.Load(path)
	if err != nil {
		t.Fatalf("loading sequence: %v", err)
	}

	g := &watcherGroup{set: automation.NewWatcherSet()}
	fire := s.onTrigger(ctx, g, "dialog", seq)
	for i := 1; i <= 5; i++ {
		fire(automation.Trigger{Watcher: "dialog", Count: i})
	}
	g.runs.Wait()

	if n := fd.input.count(); n != 1 {
		t.Errorf("input calls = %d, want one run for a burst of triggers", n)
	}

	fire(automation.Trigger{Watcher: "dialog", Count: 6})
	g.runs.Wait()
	if n := fd.input.count(); n != 2 {
		t.Errorf("input calls = %d, want a second run once the first finished", n)
	}
}

func TestStartWatchers_Errors(t *testing.T) {
	tests := []struct {
		name    string
		watcher config.WatcherConfig
		want    string
	}{
		{
			"missing sequence",
			config.WatcherConfig{Name: "w", Kind: config.WatcherPixel, Color: "#000000", Sequence: "/nonexistent/seq.yaml"},
			"watcher w",
		},
		{
			"missing template",
			config.WatcherConfig{Name: "img", Kind: config.WatcherImage, Template: "nope.png"},
			"preloading templates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useFakeDesktop(t)
			cfg, err := config.Default()
			if err != nil {
				t.Fatalf("config.Default() error = %v", err)
			}
			cfg.Database.Enabled = false
			cfg.Watchers = []config.WatcherConfig{tt.watcher}

			s, err := openStack(context.Background(), cfg, logging.NewWithWriter(cfg.Logging, "test", io.Discard), false)
			if err != nil {
				t.Fatalf("openStack() error = %v", err)
			}
			defer s.Close()

			_, err = s.startWatchers(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

// ─── Retention ─────────────────────────────────────────────────────

func TestStack_PruneRuns(t *testing.T) {
	useFakeDesktop(t)
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.Database.Path = filepath.Join(t.TempDir(), "deskpilot.db")
	cfg.Database.Retention = time.Hour

	ctx := context.Background()
	s, err := openStack(ctx, cfg, logging.NewWithWriter(cfg.Logging, "test", io.Discard), false)
	if err != nil {
		t.Fatalf("openStack() error = %v", err)
	}
	defer s.Close()

	now := time.Now().UTC()
	for id, started := range map[string]time.Time{"old": now.Add(-2 * time.Hour), "fresh": now} {
		run := &automation.Run{ID: id, Status: automation.RunCompleted, StartedAt: started}
		if err := s.runs.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	s.pruneRuns(ctx)

	runs, err := s.runs.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "fresh" {
		t.Errorf("runs after prune = %+v", runs)
	}
}
