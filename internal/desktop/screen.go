package desktop

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // template decoding
	"image/png"
	"os"
	"path/filepath"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// Screen implements automation.VisionPort and automation.MultiMatcher.
type Screen struct {
	driver      Driver
	templateDir string
	boundsCheck bool
	useAlpha    bool
	logger      automation.Logger
}

// NewScreen creates a vision port over driver. Relative template
// references are resolved against cfg.TemplateDir.
func NewScreen(driver Driver, cfg Config, logger automation.Logger) *Screen {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Screen{
		driver:      driver,
		templateDir: cfg.TemplateDir,
		boundsCheck: cfg.BoundsCheck,
		useAlpha:    !cfg.IgnoreAlpha,
		logger:      logger,
	}
}

// CaptureRegion captures region, or the whole primary screen when nil.
// The returned image's bounds start at (0,0).
func (s *Screen) CaptureRegion(region *automation.Region) (image.Image, error) {
	r := s.fullScreen()
	if region != nil {
		r = *region
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, automation.PortError("capture", fmt.Errorf("empty region %dx%d", r.Width, r.Height))
	}

	img, err := s.driver.Capture(r.X, r.Y, r.Width, r.Height)
	if err != nil {
		return nil, automation.PortError("capture", err)
	}
	if img == nil {
		return nil, automation.PortError("capture", fmt.Errorf("no image returned"))
	}
	return toRGBA(img), nil
}

// LoadTemplate decodes a PNG or JPEG template. Relative references are
// resolved against the template directory.
func (s *Screen) LoadTemplate(ref string) (image.Image, error) {
	path := s.templatePath(ref)
	f, err := os.Open(path)
	if err != nil {
		return nil, automation.PortError("load template", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, automation.PortError("load template", fmt.Errorf("decoding %s: %w", path, err))
	}
	s.logger.Debug("template loaded", "path", path, "bounds", img.Bounds().String())
	return toRGBA(img), nil
}

// MatchTemplate finds the best normalised cross-correlation match of tpl
// in buf. ok is false when the best score is below threshold. Fully
// transparent template pixels are ignored unless Config.IgnoreAlpha is set.
func (s *Screen) MatchTemplate(buf, tpl image.Image, threshold float64) (automation.Match, bool, error) {
	m, err := matchTemplate(buf, tpl, s.useAlpha)
	if err != nil {
		return automation.Match{}, false, err
	}
	if m.Score < threshold {
		return automation.Match{}, false, nil
	}
	return m, true, nil
}

// MatchAll returns up to limit non-overlapping matches of tpl in buf
// scoring at least threshold, best first. Zero limit means
// DefaultMatchLimit.
func (s *Screen) MatchAll(buf, tpl image.Image, threshold float64, limit int) ([]automation.Match, error) {
	return matchAll(buf, tpl, s.useAlpha, threshold, limit)
}

// PixelColor samples the screen pixel at (x, y).
func (s *Screen) PixelColor(x, y int) (automation.RGB, error) {
	if s.boundsCheck {
		if err := checkBounds(s.driver, "pixel", x, y); err != nil {
			return automation.RGB{}, err
		}
	}
	hex := s.driver.PixelHex(x, y)
	c, err := automation.ParseColor(hex)
	if err != nil {
		return automation.RGB{}, automation.PortError("pixel", err)
	}
	return c, nil
}

// SaveScreenshot captures region (or the whole screen) and writes it to
// path as PNG.
func (s *Screen) SaveScreenshot(path string, region *automation.Region) error {
	img, err := s.CaptureRegion(region)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating screenshot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating screenshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding screenshot: %w", err)
	}
	return f.Close()
}

func (s *Screen) fullScreen() automation.Region {
	w, h := s.driver.ScreenSize()
	return automation.Region{Width: w, Height: h}
}

func (s *Screen) templatePath(ref string) string {
	if filepath.IsAbs(ref) || s.templateDir == "" {
		return ref
	}
	return filepath.Join(s.templateDir, ref)
}

// toRGBA copies img into an RGBA whose bounds start at (0,0).
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
