package automation

import "time"

// Typed constructors. Each one goes through Build, so the returned Action is
// valid or the error wraps ErrConstruction.

// Click clicks button at (x, y). An empty button means left.
func Click(x, y int, button Button) (Action, error) {
	return Build(KindClick, Params{At: &Point{X: x, Y: y}, Button: button}, "")
}

// DoubleClick double-clicks the left button at (x, y).
func DoubleClick(x, y int) (Action, error) {
	return Build(KindDoubleClick, Params{At: &Point{X: x, Y: y}}, "")
}

// RightClick clicks the right button at (x, y).
func RightClick(x, y int) (Action, error) {
	return Build(KindRightClick, Params{At: &Point{X: x, Y: y}, Button: ButtonRight}, "")
}

// Drag holds the left button at from, moves to to over duration, and releases.
func Drag(from, to Point, duration time.Duration) (Action, error) {
	return Build(KindDrag, Params{At: &from, To: &to, Duration: duration}, "")
}

// Scroll scrolls by amount wheel clicks; positive is up. When at is nil the
// wheel turns wherever the cursor is.
func Scroll(amount int, at *Point) (Action, error) {
	return Build(KindScroll, Params{Amount: amount, At: at}, "")
}

// Move moves the cursor to (x, y).
func Move(x, y int) (Action, error) {
	return Build(KindMove, Params{At: &Point{X: x, Y: y}}, "")
}

// MouseDown presses and holds button, moving to at first when non-nil.
func MouseDown(button Button, at *Point) (Action, error) {
	return Build(KindMouseDown, Params{Button: button, At: at}, "")
}

// MouseUp releases button, moving to at first when non-nil.
func MouseUp(button Button, at *Point) (Action, error) {
	return Build(KindMouseUp, Params{Button: button, At: at}, "")
}

// HoldMouse presses button, moving to at first when non-nil, holds it for
// d and releases it where the cursor is. Zero d means DefaultHoldDuration.
func HoldMouse(button Button, at *Point, d time.Duration) (Action, error) {
	return Build(KindHoldMouse, Params{Button: button, At: at, Duration: d}, "")
}

// TypeText types text, pausing interval between characters.
func TypeText(text string, interval time.Duration) (Action, error) {
	return Build(KindTypeText, Params{Text: text, Interval: interval}, "")
}

// PressKey taps key count times.
func PressKey(key string, count int) (Action, error) {
	return Build(KindPressKey, Params{Keys: []string{key}, Count: count}, "")
}

// KeyDown presses and holds key.
func KeyDown(key string) (Action, error) {
	return Build(KindKeyDown, Params{Keys: []string{key}}, "")
}

// KeyUp releases key.
func KeyUp(key string) (Action, error) {
	return Build(KindKeyUp, Params{Keys: []string{key}}, "")
}

// HoldKey holds key down for d. Zero d means DefaultHoldDuration.
func HoldKey(key string, d time.Duration) (Action, error) {
	return Build(KindHoldKey, Params{Keys: []string{key}, Duration: d}, "")
}

// KeyCombination presses keys together, e.g. KeyCombination("ctrl", "c").
func KeyCombination(keys ...string) (Action, error) {
	return Build(KindKeyCombination, Params{Keys: keys}, "")
}

// Navigate presses the arrow key for direction steps times.
func Navigate(direction Direction, steps int) (Action, error) {
	return Build(KindNavigate, Params{Direction: direction, Steps: steps}, "")
}

// Wait suspends the sequence for d without touching any port.
func Wait(d time.Duration) (Action, error) {
	return Build(KindWait, Params{Duration: d}, "")
}

// FindImage searches once for template, optionally within region.
func FindImage(template string, threshold float64, region *Region) (Action, error) {
	return Build(KindFindImage, Params{Template: template, Threshold: threshold, Region: region}, "")
}

// WaitForImage polls for template until it appears or timeout elapses.
func WaitForImage(template string, timeout, interval time.Duration, threshold float64) (Action, error) {
	return Build(KindWaitForImage, Params{
		Template:     template,
		Timeout:      timeout,
		PollInterval: interval,
		Threshold:    threshold,
	}, "")
}

// ClickImage finds template once and clicks the centre of the match.
func ClickImage(template string, threshold float64, button Button) (Action, error) {
	return Build(KindClickImage, Params{Template: template, Threshold: threshold, Button: button}, "")
}

// FindAllImages returns up to limit non-overlapping matches of template,
// best first. Zero limit means DefaultFindAllLimit.
func FindAllImages(template string, threshold float64, region *Region, limit int) (Action, error) {
	return Build(KindFindAllImages, Params{Template: template, Threshold: threshold, Region: region, Count: limit}, "")
}

// GetPixelColor samples the colour at (x, y).
func GetPixelColor(x, y int) (Action, error) {
	return Build(KindGetPixelColor, Params{At: &Point{X: x, Y: y}}, "")
}

// WaitForPixelColor polls at until its colour is within tolerance of want
// on every channel.
func WaitForPixelColor(at Point, want RGB, tolerance int, timeout, interval time.Duration) (Action, error) {
	return Build(KindWaitForPixelColor, Params{
		At:           &at,
		Color:        &want,
		Tolerance:    tolerance,
		Timeout:      timeout,
		PollInterval: interval,
	}, "")
}

// WaitForPixelChange polls at until its colour moves at least minChange
// (sum of channel differences) away from the colour seen on the first sample.
func WaitForPixelChange(at Point, minChange int, timeout, interval time.Duration) (Action, error) {
	return Build(KindWaitForPixelChange, Params{
		At:           &at,
		MinChange:    minChange,
		Timeout:      timeout,
		PollInterval: interval,
	}, "")
}
