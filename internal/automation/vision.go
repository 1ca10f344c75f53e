package automation

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// VisionController runs template searches and pixel queries against a
// VisionPort. Templates are loaded once per reference and cached.
//
// Thread Safety: all methods are safe for concurrent use.
type VisionController struct {
	port   VisionPort
	logger Logger

	mu        sync.RWMutex
	templates map[string]image.Image
}

// NewVisionController creates a controller over port.
func NewVisionController(port VisionPort) *VisionController {
	return &VisionController{
		port:      port,
		logger:    noopLogger{},
		templates: make(map[string]image.Image),
	}
}

// SetLogger sets the logger used for cache and poll diagnostics.
func (v *VisionController) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	v.logger = logger
}

// template returns the cached template for ref, loading it on first use.
func (v *VisionController) template(ref string) (image.Image, error) {
	v.mu.RLock()
	tpl, ok := v.templates[ref]
	v.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, err := v.port.LoadTemplate(ref)
	if err != nil {
		return nil, fmt.Errorf("loading template %q: %w", ref, err)
	}
	if tpl == nil {
		return nil, PortError("load template", fmt.Errorf("%s: no image", ref))
	}

	v.mu.Lock()
	// Another caller may have loaded it meanwhile; keep the first.
	if existing, ok := v.templates[ref]; ok {
		tpl = existing
	} else {
		v.templates[ref] = tpl
	}
	v.mu.Unlock()

	v.logger.Debug("template cached", "template", ref, "bounds", tpl.Bounds().String())
	return tpl, nil
}

// Preload loads refs into the cache so the first search doesn't pay for I/O.
func (v *VisionController) Preload(refs ...string) error {
	for _, ref := range refs {
		if _, err := v.template(ref); err != nil {
			return err
		}
	}
	return nil
}

// ClearCache drops every cached template.
func (v *VisionController) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.templates = make(map[string]image.Image)
}

// CachedTemplates returns the number of cached templates.
func (v *VisionController) CachedTemplates() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.templates)
}

// FindImage captures the screen (or region) once and searches it for the
// template. ok is false when nothing scores at least threshold. The match is
// in absolute screen coordinates.
func (v *VisionController) FindImage(ctx context.Context, ref string, threshold float64, region *Region) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	tpl, err := v.template(ref)
	if err != nil {
		return Match{}, false, err
	}
	return v.find(tpl, ref, threshold, region)
}

func (v *VisionController) find(tpl image.Image, ref string, threshold float64, region *Region) (Match, bool, error) {
	buf, err := v.port.CaptureRegion(region)
	if err != nil {
		return Match{}, false, fmt.Errorf("capturing screen for %q: %w", ref, err)
	}

	m, ok, err := v.port.MatchTemplate(buf, tpl, threshold)
	if err != nil || !ok {
		return Match{}, false, err
	}

	if region != nil {
		m = m.Offset(region.Origin())
	}
	return m, true, nil
}

// FindAllImages captures once and returns every match of the template,
// best first, in screen coordinates. A port without MultiMatcher yields at
// most the single best match.
func (v *VisionController) FindAllImages(ctx context.Context, ref string, threshold float64, region *Region, limit int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	tpl, err := v.template(ref)
	if err != nil {
		return nil, err
	}

	mm, ok := v.port.(MultiMatcher)
	if !ok {
		m, found, err := v.find(tpl, ref, threshold, region)
		if err != nil || !found {
			return nil, err
		}
		return []Match{m}, nil
	}

	buf, err := v.port.CaptureRegion(region)
	if err != nil {
		return nil, fmt.Errorf("capturing screen for %q: %w", ref, err)
	}
	matches, err := mm.MatchAll(buf, tpl, threshold, limit)
	if err != nil {
		return nil, err
	}
	if region != nil {
		for i := range matches {
			matches[i] = matches[i].Offset(region.Origin())
		}
	}
	v.logger.Debug("template matches", "template", ref, "count", len(matches))
	return matches, nil
}

// WaitForImage polls for the template until it appears or timeout elapses.
// A miss returns an error wrapping ErrTimeoutExceeded.
func (v *VisionController) WaitForImage(ctx context.Context, ref string, timeout, interval time.Duration, threshold float64) (Match, error) {
	return v.waitForImage(ctx, ref, nil, timeout, interval, threshold)
}

func (v *VisionController) waitForImage(ctx context.Context, ref string, region *Region, timeout, interval time.Duration, threshold float64) (Match, error) {
	if err := validatePollTiming(timeout, interval); err != nil {
		return Match{}, err
	}

	tpl, err := v.template(ref)
	if err != nil {
		return Match{}, err
	}

	return Poll(ctx, PollConfig{
		Timeout:  timeout,
		Interval: interval,
		Name:     ref,
		Logger:   v.logger,
	}, func(context.Context) (Match, bool, error) {
		return v.find(tpl, ref, threshold, region)
	})
}

// GetPixelColor samples the colour at (x, y).
func (v *VisionController) GetPixelColor(x, y int) (RGB, error) {
	c, err := v.port.PixelColor(x, y)
	if err != nil {
		return RGB{}, fmt.Errorf("sampling pixel (%d,%d): %w", x, y, err)
	}
	return c, nil
}

// WaitForPixelColor polls at until every channel is within tolerance of
// want and returns the colour observed.
func (v *VisionController) WaitForPixelColor(ctx context.Context, at Point, want RGB, tolerance int, timeout, interval time.Duration) (RGB, error) {
	return Poll(ctx, PollConfig{
		Timeout:  timeout,
		Interval: interval,
		Name:     fmt.Sprintf("pixel %s = %s", at, want.Hex()),
		Logger:   v.logger,
	}, func(context.Context) (RGB, bool, error) {
		c, err := v.GetPixelColor(at.X, at.Y)
		if err != nil {
			return RGB{}, false, err
		}
		return c, c.Within(want, tolerance), nil
	})
}

// WaitForPixelChange samples at once as a baseline, then polls until the
// colour differs from it by at least minChange and returns the new colour.
func (v *VisionController) WaitForPixelChange(ctx context.Context, at Point, minChange int, timeout, interval time.Duration) (RGB, error) {
	if err := validatePollTiming(timeout, interval); err != nil {
		return RGB{}, err
	}

	baseline, err := v.GetPixelColor(at.X, at.Y)
	if err != nil {
		return RGB{}, err
	}

	return Poll(ctx, PollConfig{
		Timeout:  timeout,
		Interval: interval,
		Name:     fmt.Sprintf("pixel %s change from %s", at, baseline.Hex()),
		Logger:   v.logger,
	}, func(context.Context) (RGB, bool, error) {
		c, err := v.GetPixelColor(at.X, at.Y)
		if err != nil {
			return RGB{}, false, err
		}
		return c, c.Distance(baseline) >= minChange, nil
	})
}
