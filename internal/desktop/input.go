package desktop

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// DefaultDragSteps is used when Config.DragSteps is zero.
const DefaultDragSteps = 20

// Config contains desktop port settings.
// These map to the desktop section of config.yaml.
type Config struct {
	// TemplateDir is where relative template references are resolved.
	TemplateDir string

	// BoundsCheck rejects coordinates outside the primary screen.
	BoundsCheck bool

	// DragSteps is the number of intermediate moves in a drag.
	DragSteps int

	// IgnoreAlpha matches transparent template pixels like opaque ones.
	IgnoreAlpha bool
}

// Input implements automation.InputPort.
//
// Thread Safety: Input holds no mutable state; concurrent calls interleave
// at the operating system level.
type Input struct {
	driver Driver
	cfg    Config
	logger automation.Logger
	sleep  func(time.Duration)
}

// NewInput creates an input port over driver.
func NewInput(driver Driver, cfg Config, logger automation.Logger) *Input {
	if cfg.DragSteps <= 0 {
		cfg.DragSteps = DefaultDragSteps
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Input{driver: driver, cfg: cfg, logger: logger, sleep: time.Sleep}
}

// Position returns the current cursor position.
func (in *Input) Position() automation.Point {
	x, y := in.driver.Location()
	return automation.Point{X: x, Y: y}
}

// MoveTo moves the cursor to (x, y).
func (in *Input) MoveTo(x, y int) error {
	if err := in.checkPoint("move", x, y); err != nil {
		return err
	}
	in.driver.Move(x, y)
	return nil
}

// Click moves to (x, y) and clicks button once.
func (in *Input) Click(x, y int, button automation.Button) error {
	if err := in.MoveTo(x, y); err != nil {
		return err
	}
	in.driver.Click(string(button), false)
	in.logger.Debug("clicked", "x", x, "y", y, "button", button)
	return nil
}

// DoubleClick moves to (x, y) and double-clicks the left button.
func (in *Input) DoubleClick(x, y int) error {
	if err := in.MoveTo(x, y); err != nil {
		return err
	}
	in.driver.Click(string(automation.ButtonLeft), true)
	return nil
}

// Drag presses button at (x1, y1), moves to (x2, y2) in DragSteps steps
// spread over duration, and releases. The button is released even if a
// step fails.
func (in *Input) Drag(x1, y1, x2, y2 int, button automation.Button, duration time.Duration) (err error) {
	if err := in.checkPoint("drag", x1, y1); err != nil {
		return err
	}
	if err := in.checkPoint("drag", x2, y2); err != nil {
		return err
	}

	in.driver.Move(x1, y1)
	if err := in.driver.Toggle(string(button), true); err != nil {
		return automation.PortError("drag press", err)
	}
	defer func() {
		if upErr := in.driver.Toggle(string(button), false); upErr != nil && err == nil {
			err = automation.PortError("drag release", upErr)
		}
	}()

	steps := in.cfg.DragSteps
	pause := duration / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		in.driver.Move(x1+(x2-x1)*i/steps, y1+(y2-y1)*i/steps)
		if pause > 0 {
			in.sleep(pause)
		}
	}
	in.logger.Debug("dragged", "from", automation.Point{X: x1, Y: y1}, "to", automation.Point{X: x2, Y: y2})
	return nil
}

// Scroll turns the wheel by amount clicks, positive up, optionally after
// moving to at.
func (in *Input) Scroll(amount int, at *automation.Point) error {
	if at != nil {
		if err := in.MoveTo(at.X, at.Y); err != nil {
			return err
		}
	}
	in.driver.Scroll(0, amount)
	return nil
}

// MouseDown presses button, optionally after moving to at.
func (in *Input) MouseDown(button automation.Button, at *automation.Point) error {
	return in.toggleButton(button, at, true)
}

// MouseUp releases button, optionally after moving to at.
func (in *Input) MouseUp(button automation.Button, at *automation.Point) error {
	return in.toggleButton(button, at, false)
}

func (in *Input) toggleButton(button automation.Button, at *automation.Point, down bool) error {
	if at != nil {
		if err := in.MoveTo(at.X, at.Y); err != nil {
			return err
		}
	}
	if err := in.driver.Toggle(string(button), down); err != nil {
		return automation.PortError("mouse toggle", err)
	}
	return nil
}

// TypeText types text, pausing interval between characters when non-zero.
func (in *Input) TypeText(text string, interval time.Duration) error {
	// Logged under "text" so the logging package masks it.
	in.logger.Debug("typing", "text", text, "chars", utf8.RuneCountInString(text))
	if interval <= 0 {
		in.driver.TypeStr(text)
		return nil
	}
	for _, r := range text {
		in.driver.TypeStr(string(r))
		in.sleep(interval)
	}
	return nil
}

// PressKey taps name count times.
func (in *Input) PressKey(name string, count int) error {
	key, err := NormaliseKey(name)
	if err != nil {
		return err
	}
	for range max(count, 1) {
		if err := in.driver.KeyTap(key); err != nil {
			return automation.PortError("key tap", err)
		}
	}
	return nil
}

// KeyDown holds name down until KeyUp.
func (in *Input) KeyDown(name string) error {
	return in.toggleKey(name, true)
}

// KeyUp releases name.
func (in *Input) KeyUp(name string) error {
	return in.toggleKey(name, false)
}

func (in *Input) toggleKey(name string, down bool) error {
	key, err := NormaliseKey(name)
	if err != nil {
		return err
	}
	if err := in.driver.KeyToggle(key, down); err != nil {
		return automation.PortError("key toggle", err)
	}
	return nil
}

// KeyCombination taps the last key while holding the others, e.g.
// ["ctrl", "shift", "s"].
func (in *Input) KeyCombination(names []string) error {
	key, mods, err := splitCombination(names)
	if err != nil {
		return err
	}
	if err := in.driver.KeyTap(key, mods...); err != nil {
		return automation.PortError("key combination", err)
	}
	return nil
}

// Navigate presses the arrow key for direction steps times.
func (in *Input) Navigate(direction automation.Direction, steps int) error {
	switch direction {
	case automation.DirectionUp, automation.DirectionDown, automation.DirectionLeft, automation.DirectionRight:
	default:
		return automation.PortError("navigate", fmt.Errorf("invalid direction %q", direction))
	}
	return in.PressKey(string(direction), steps)
}

// checkPoint rejects coordinates outside the primary screen when
// bounds checking is enabled.
func (in *Input) checkPoint(op string, x, y int) error {
	if !in.cfg.BoundsCheck {
		return nil
	}
	return checkBounds(in.driver, op, x, y)
}

func checkBounds(d Driver, op string, x, y int) error {
	w, h := d.ScreenSize()
	if x < 0 || y < 0 || x >= w || y >= h {
		return automation.PortError(op, fmt.Errorf("coordinates (%d,%d) outside screen %dx%d", x, y, w, h))
	}
	return nil
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
