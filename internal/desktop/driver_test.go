package desktop

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
)

// ─── Fake Driver ────────────────────────────────────────────────────────────

// fakeDriver records every call and serves a fixed screen image.
type fakeDriver struct {
	mu         sync.Mutex
	calls      []string
	width      int
	height     int
	x, y       int
	screen     image.Image
	pixel      string
	captureErr error
	keyErr     error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{width: 1920, height: 1080, pixel: "ff8000"}
}

func (d *fakeDriver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) getCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) joined() string { return strings.Join(d.getCalls(), ";") }

func (d *fakeDriver) ScreenSize() (int, int) { return d.width, d.height }
func (d *fakeDriver) Location() (int, int)   { return d.x, d.y }
func (d *fakeDriver) Move(x, y int) {
	d.x, d.y = x, y
	d.record("move %d,%d", x, y)
}
func (d *fakeDriver) Click(button string, double bool) { d.record("click %s %v", button, double) }
func (d *fakeDriver) Toggle(button string, down bool) error {
	d.record("toggle %s %v", button, down)
	return nil
}
func (d *fakeDriver) Scroll(x, y int)  { d.record("scroll %d,%d", x, y) }
func (d *fakeDriver) TypeStr(s string) { d.record("type %s", s) }
func (d *fakeDriver) KeyTap(key string, modifiers ...string) error {
	d.record("tap %s %v", key, modifiers)
	return d.keyErr
}
func (d *fakeDriver) KeyToggle(key string, down bool) error {
	d.record("keytoggle %s %v", key, down)
	return d.keyErr
}
func (d *fakeDriver) PixelHex(x, y int) string { return d.pixel }
func (d *fakeDriver) Capture(x, y, w, h int) (image.Image, error) {
	d.record("capture %d,%d %dx%d", x, y, w, h)
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	if d.screen == nil {
		return nil, errors.New("no screen")
	}
	// Return the requested window with its original offset, as a real
	// capture of a sub-rectangle would.
	sub := d.screen.(interface {
		SubImage(r image.Rectangle) image.Image
	}).SubImage(image.Rect(x, y, x+w, y+h))
	return sub, nil
}

// ─── Image Helpers ──────────────────────────────────────────────────────────

// noiseImage fills a w x h image with a deterministic pattern.
func noiseImage(w, h int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	s := seed
	for y := range h {
		for x := range w {
			s = s*1664525 + 1013904223
			v := uint8(s >> 24)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

// crop copies the w x h block at (x, y) of src into a new image at (0,0).
func crop(src *image.RGBA, x, y, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for ty := range h {
		for tx := range w {
			out.Set(tx, ty, src.At(x+tx, y+ty))
		}
	}
	return out
}
