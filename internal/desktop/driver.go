package desktop

import (
	"image"

	"github.com/go-vgo/robotgo"
)

// Driver is the raw OS input and capture surface used by Input and Screen.
type Driver interface {
	ScreenSize() (width, height int)
	Location() (x, y int)
	Move(x, y int)
	Click(button string, double bool)
	Toggle(button string, down bool) error
	Scroll(x, y int)
	TypeStr(s string)
	KeyTap(key string, modifiers ...string) error
	KeyToggle(key string, down bool) error
	PixelHex(x, y int) string
	Capture(x, y, width, height int) (image.Image, error)
}

// RobotgoDriver drives the local display through robotgo.
type RobotgoDriver struct{}

// NewRobotgoDriver returns a driver for the local display.
func NewRobotgoDriver() *RobotgoDriver { return &RobotgoDriver{} }

func (RobotgoDriver) ScreenSize() (int, int) { return robotgo.GetScreenSize() }

func (RobotgoDriver) Location() (int, int) { return robotgo.Location() }

func (RobotgoDriver) Move(x, y int) { robotgo.Move(x, y) }

func (RobotgoDriver) Click(button string, double bool) { robotgo.Click(button, double) }

func (RobotgoDriver) Toggle(button string, down bool) error {
	if down {
		return robotgo.Toggle(button)
	}
	return robotgo.Toggle(button, "up")
}

func (RobotgoDriver) Scroll(x, y int) { robotgo.Scroll(x, y) }

func (RobotgoDriver) TypeStr(s string) { robotgo.TypeStr(s) }

func (RobotgoDriver) KeyTap(key string, modifiers ...string) error {
	mods := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		mods[i] = m
	}
	return robotgo.KeyTap(key, mods...)
}

func (RobotgoDriver) KeyToggle(key string, down bool) error {
	if down {
		return robotgo.KeyToggle(key, "down")
	}
	return robotgo.KeyToggle(key, "up")
}

func (RobotgoDriver) PixelHex(x, y int) string { return robotgo.GetPixelColor(x, y) }

func (RobotgoDriver) Capture(x, y, width, height int) (image.Image, error) {
	return robotgo.CaptureImg(x, y, width, height)
}
