package automation

import (
	"context"
	"image"
	"time"
)

// InputPort injects synthetic mouse and keyboard input.
//
// Every call is instantaneous from the executor's point of view except
// Drag and TypeText, which may take up to their duration or interval.
// Operational failures (unknown key, coordinate off screen, injection
// refused by the OS) must wrap ErrPort, typically via PortError. Any other
// error aborts the running sequence.
type InputPort interface {
	MoveTo(x, y int) error
	Click(x, y int, button Button) error
	DoubleClick(x, y int) error
	Drag(x1, y1, x2, y2 int, button Button, duration time.Duration) error
	// Scroll turns the wheel by amount clicks, at the given point when non-nil.
	Scroll(amount int, at *Point) error
	MouseDown(button Button, at *Point) error
	MouseUp(button Button, at *Point) error
	TypeText(text string, interval time.Duration) error
	PressKey(name string, count int) error
	KeyDown(name string) error
	KeyUp(name string) error
	KeyCombination(names []string) error
	Navigate(direction Direction, steps int) error
}

// VisionPort captures the screen and matches templates.
//
// Capture failures must wrap ErrPort; the poll loop treats them as a
// non-match for that attempt.
type VisionPort interface {
	// CaptureRegion returns the pixels of region, or of the whole primary
	// screen when region is nil. The returned image's bounds start at (0,0).
	CaptureRegion(region *Region) (image.Image, error)

	// LoadTemplate resolves a template reference to an image.
	LoadTemplate(ref string) (image.Image, error)

	// MatchTemplate searches buf for tpl and returns the best match when its
	// score is at least threshold. Coordinates are relative to buf.
	MatchTemplate(buf, tpl image.Image, threshold float64) (Match, bool, error)

	// PixelColor samples a single screen pixel.
	PixelColor(x, y int) (RGB, error)
}

// MultiMatcher is implemented by a VisionPort that can return every match
// of a template instead of only the best one.
type MultiMatcher interface {
	// MatchAll returns up to limit non-overlapping matches scoring at least
	// threshold, best first. Coordinates are relative to buf.
	MatchAll(buf, tpl image.Image, threshold float64, limit int) ([]Match, error)
}

// MQTTClient publishes run events to a broker.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub broadcasts events to WebSocket subscribers.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// MetricsSink receives one point per executed action and one per run.
type MetricsSink interface {
	WriteActionMetric(runID, kind, errorClass string, success bool, duration time.Duration, ts time.Time)
	WriteRunMetric(runID, status, source string, succeeded, failed int, duration time.Duration, ts time.Time)
}

// RunRecorder persists completed runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *Run) error
}

// RunChecker reports whether a run ID is already in the run log. A
// RunRecorder that also implements it lets the executor reject reused IDs
// before anything runs.
type RunChecker interface {
	RunExists(ctx context.Context, id string) (bool, error)
}

// Logger defines the logging interface used across the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
