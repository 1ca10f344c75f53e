package desktop

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/deskpilot/internal/automation"
)

func TestMatchTemplate_FindsPlantedPatch(t *testing.T) {
	screen := noiseImage(80, 60, 1)
	tpl := crop(screen, 31, 17, 12, 9)

	m, err := matchTemplate(screen, tpl, true)
	if err != nil {
		t.Fatalf("matchTemplate() error = %v", err)
	}
	if m.Score < 0.999 {
		t.Errorf("score = %v, want ~1", m.Score)
	}
	if m.Box != (automation.Region{X: 31, Y: 17, Width: 12, Height: 9}) {
		t.Errorf("box = %+v", m.Box)
	}
	if m.Center != (automation.Point{X: 37, Y: 21}) {
		t.Errorf("center = %v", m.Center)
	}
}

func TestMatchTemplate_Unrelated(t *testing.T) {
	m, err := matchTemplate(noiseImage(60, 60, 1), noiseImage(10, 10, 99), true)
	if err != nil {
		t.Fatalf("matchTemplate() error = %v", err)
	}
	if m.Score > 0.8 {
		t.Errorf("unrelated template scored %v", m.Score)
	}
}

func TestMatchTemplate_TemplateLargerThanScreen(t *testing.T) {
	m, err := matchTemplate(noiseImage(10, 10, 1), noiseImage(20, 5, 1), true)
	if err != nil || m.Score != 0 {
		t.Errorf("matchTemplate() = %+v, %v; want zero match", m, err)
	}
}

func TestMatchTemplate_FlatTemplate(t *testing.T) {
	flat := image.NewRGBA(image.Rect(0, 0, 5, 5))
	if _, err := matchTemplate(noiseImage(20, 20, 1), flat, false); !errors.Is(err, automation.ErrPort) {
		t.Errorf("error = %v, want ErrPort", err)
	}
}

// ─── Transparency ──────────────────────────────────────────────────────────

// ringedIcon returns a noise icon whose outer border pixels are transparent.
func ringedIcon(size, border int, seed uint32) *image.RGBA {
	icon := noiseImage(size, size, seed)
	for y := range size {
		for x := range size {
			if x < border || y < border || x >= size-border || y >= size-border {
				icon.Set(x, y, color.RGBA{})
			}
		}
	}
	return icon
}

// stamp draws the opaque pixels of icon onto dst at (x, y).
func stamp(dst, icon *image.RGBA, x, y int) {
	b := icon.Bounds()
	for ty := range b.Dy() {
		for tx := range b.Dx() {
			if c := icon.RGBAAt(tx, ty); c.A > 0 {
				dst.SetRGBA(x+tx, y+ty, c)
			}
		}
	}
}

func TestMatchTemplate_TransparentPixels(t *testing.T) {
	icon := ringedIcon(12, 3, 5)
	screen := noiseImage(80, 60, 2)
	stamp(screen, icon, 37, 27)

	masked, err := matchTemplate(screen, icon, true)
	if err != nil {
		t.Fatalf("matchTemplate(masked) error = %v", err)
	}
	if masked.Score < 0.999 {
		t.Errorf("masked score = %v, want ~1 over a foreign background", masked.Score)
	}
	if masked.Box != (automation.Region{X: 37, Y: 27, Width: 12, Height: 12}) {
		t.Errorf("masked box = %+v", masked.Box)
	}

	plain, err := matchTemplate(screen, icon, false)
	if err != nil {
		t.Fatalf("matchTemplate(plain) error = %v", err)
	}
	if plain.Score >= 0.9 {
		t.Errorf("unmasked score = %v, want the transparent ring to count against it", plain.Score)
	}
}

func TestMatchTemplate_OpaqueTemplateUnaffectedByMask(t *testing.T) {
	screen := noiseImage(60, 40, 4)
	tpl := crop(screen, 10, 12, 9, 7)

	masked, err := matchTemplate(screen, tpl, true)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := matchTemplate(screen, tpl, false)
	if err != nil {
		t.Fatal(err)
	}
	if masked.Box != plain.Box || math.Abs(masked.Score-plain.Score) > 1e-9 {
		t.Errorf("masked = %+v, plain = %+v; want the same match for an opaque template", masked, plain)
	}
}

func TestMatchTemplate_FullyTransparent(t *testing.T) {
	blank := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if _, err := matchTemplate(noiseImage(20, 20, 1), blank, true); !errors.Is(err, automation.ErrPort) {
		t.Errorf("error = %v, want ErrPort", err)
	}
}

func TestScreen_IgnoreAlpha(t *testing.T) {
	icon := ringedIcon(10, 2, 8)
	screen := noiseImage(50, 50, 6)
	stamp(screen, icon, 20, 15)

	tests := []struct {
		name   string
		cfg    Config
		wantOK bool
	}{
		{"mask by default", Config{}, true},
		{"ignore alpha", Config{IgnoreAlpha: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScreen(newFakeDriver(), tt.cfg, nil)
			_, ok, err := s.MatchTemplate(screen, icon, 0.95)
			if err != nil || ok != tt.wantOK {
				t.Errorf("MatchTemplate() = %v, %v; want %v", ok, err, tt.wantOK)
			}
		})
	}
}

// ─── Find All ──────────────────────────────────────────────────────────────

func TestMatchAll_FindsEveryCopy(t *testing.T) {
	icon := noiseImage(8, 8, 9)
	screen := noiseImage(100, 60, 3)
	want := map[automation.Region]bool{}
	for _, p := range []image.Point{{5, 5}, {40, 20}, {70, 40}} {
		stamp(screen, icon, p.X, p.Y)
		want[automation.Region{X: p.X, Y: p.Y, Width: 8, Height: 8}] = true
	}

	got, err := matchAll(screen, icon, true, 0.95, 0)
	if err != nil {
		t.Fatalf("matchAll() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("matches = %+v, want %d", got, len(want))
	}
	for i, m := range got {
		if !want[m.Box] {
			t.Errorf("unexpected match %+v", m.Box)
		}
		if i > 0 && m.Score > got[i-1].Score {
			t.Error("matches not sorted best first")
		}
	}

	limited, err := matchAll(screen, icon, true, 0.95, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("matchAll(limit 2) = %d matches, %v", len(limited), err)
	}
}

func TestMatchAll_SuppressesOverlaps(t *testing.T) {
	tpl := noiseImage(6, 6, 1)
	got, err := matchAll(noiseImage(40, 30, 7), tpl, true, -1, 0)
	if err != nil {
		t.Fatalf("matchAll() error = %v", err)
	}
	if len(got) == 0 || len(got) > DefaultMatchLimit {
		t.Fatalf("matches = %d", len(got))
	}
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			if overlap(got[i].Box, got[j].Box)*2 > 36 {
				t.Fatalf("matches %+v and %+v overlap", got[i].Box, got[j].Box)
			}
		}
	}
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		a, b automation.Region
		want int
	}{
		{automation.Region{Width: 4, Height: 4}, automation.Region{X: 2, Y: 2, Width: 4, Height: 4}, 4},
		{automation.Region{Width: 4, Height: 4}, automation.Region{X: 4, Width: 4, Height: 4}, 0},
		{automation.Region{Width: 4, Height: 4}, automation.Region{Width: 4, Height: 4}, 16},
	}
	for _, tt := range tests {
		if got := overlap(tt.a, tt.b); got != tt.want {
			t.Errorf("overlap(%+v, %+v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScreen_FindAllImagesWithVisionController(t *testing.T) {
	icon := noiseImage(6, 6, 21)
	d := newFakeDriver()
	screen := noiseImage(120, 80, 13)
	stamp(screen, icon, 65, 35)
	stamp(screen, icon, 85, 60)
	d.screen = screen
	d.width, d.height = 120, 80

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "star.png"), icon)

	v := automation.NewVisionController(NewScreen(d, Config{TemplateDir: dir}, nil))
	region := &automation.Region{X: 60, Y: 30, Width: 40, Height: 40}

	got, err := v.FindAllImages(t.Context(), "star.png", 0.95, region, 0)
	if err != nil {
		t.Fatalf("FindAllImages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %+v, want 2", got)
	}
	for _, m := range got {
		if m.Box != (automation.Region{X: 65, Y: 35, Width: 6, Height: 6}) && m.Box != (automation.Region{X: 85, Y: 60, Width: 6, Height: 6}) {
			t.Errorf("absolute box = %+v", m.Box)
		}
	}
}

func TestScreen_MatchTemplateThreshold(t *testing.T) {
	s := NewScreen(newFakeDriver(), Config{}, nil)
	screen := noiseImage(50, 50, 3)
	tpl := crop(screen, 5, 5, 8, 8)

	if _, ok, err := s.MatchTemplate(screen, tpl, 0.95); err != nil || !ok {
		t.Errorf("MatchTemplate(0.95) = %v, %v", ok, err)
	}
	if _, ok, err := s.MatchTemplate(screen, noiseImage(8, 8, 42), 0.95); err != nil || ok {
		t.Errorf("MatchTemplate(unrelated) = %v, %v; want no match", ok, err)
	}
}

func TestScreen_CaptureRegion(t *testing.T) {
	d := newFakeDriver()
	d.screen = noiseImage(200, 100, 7)
	d.width, d.height = 200, 100
	s := NewScreen(d, Config{}, nil)

	img, err := s.CaptureRegion(&automation.Region{X: 50, Y: 20, Width: 30, Height: 10})
	if err != nil {
		t.Fatalf("CaptureRegion() error = %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 30, 10) {
		t.Errorf("bounds = %v, want origin-based", img.Bounds())
	}
	if img.At(0, 0) != d.screen.At(50, 20) {
		t.Error("captured pixels are not rebased")
	}

	full, err := s.CaptureRegion(nil)
	if err != nil || full.Bounds().Dx() != 200 {
		t.Errorf("full capture = %v, %v", full.Bounds(), err)
	}
}

func TestScreen_CaptureErrors(t *testing.T) {
	d := newFakeDriver()
	d.captureErr = errors.New("display locked")
	s := NewScreen(d, Config{}, nil)

	if _, err := s.CaptureRegion(nil); !errors.Is(err, automation.ErrPort) {
		t.Errorf("error = %v, want ErrPort", err)
	}
	if _, err := s.CaptureRegion(&automation.Region{Width: 0, Height: 4}); !errors.Is(err, automation.ErrPort) {
		t.Errorf("empty region error = %v, want ErrPort", err)
	}
}

func TestScreen_LoadTemplate(t *testing.T) {
	dir := t.TempDir()
	want := noiseImage(6, 4, 5)
	writePNG(t, filepath.Join(dir, "ok.png"), want)

	s := NewScreen(newFakeDriver(), Config{TemplateDir: dir}, nil)

	img, err := s.LoadTemplate("ok.png")
	if err != nil {
		t.Fatalf("LoadTemplate() error = %v", err)
	}
	if img.Bounds() != want.Bounds() || img.At(3, 2) != want.At(3, 2) {
		t.Error("decoded template differs from the file")
	}

	if _, err := s.LoadTemplate(filepath.Join(dir, "ok.png")); err != nil {
		t.Errorf("absolute path error = %v", err)
	}
	if _, err := s.LoadTemplate("missing.png"); !errors.Is(err, automation.ErrPort) {
		t.Errorf("missing template error = %v, want ErrPort", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "bad.png"), []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadTemplate("bad.png"); !errors.Is(err, automation.ErrPort) {
		t.Errorf("corrupt template error = %v, want ErrPort", err)
	}
}

func TestScreen_PixelColor(t *testing.T) {
	d := newFakeDriver()
	s := NewScreen(d, Config{BoundsCheck: true}, nil)

	c, err := s.PixelColor(10, 10)
	if err != nil {
		t.Fatalf("PixelColor() error = %v", err)
	}
	if c != (automation.RGB{R: 0xff, G: 0x80, B: 0x00}) {
		t.Errorf("colour = %v", c)
	}

	if _, err := s.PixelColor(-1, 0); !errors.Is(err, automation.ErrPort) {
		t.Errorf("out of bounds error = %v, want ErrPort", err)
	}

	d.pixel = "zz"
	if _, err := s.PixelColor(1, 1); !errors.Is(err, automation.ErrPort) {
		t.Errorf("bad hex error = %v, want ErrPort", err)
	}
}

func TestScreen_SaveScreenshot(t *testing.T) {
	d := newFakeDriver()
	d.screen = noiseImage(40, 30, 2)
	d.width, d.height = 40, 30
	s := NewScreen(d, Config{}, nil)

	path := filepath.Join(t.TempDir(), "shots", "screen.png")
	if err := s.SaveScreenshot(path, nil); err != nil {
		t.Fatalf("SaveScreenshot() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding screenshot: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Errorf("screenshot bounds = %v", img.Bounds())
	}
}

func TestScreen_WithVisionController(t *testing.T) {
	d := newFakeDriver()
	d.screen = noiseImage(120, 80, 11)
	d.width, d.height = 120, 80

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "button.png"), crop(d.screen.(*image.RGBA), 70, 40, 10, 10))

	v := automation.NewVisionController(NewScreen(d, Config{TemplateDir: dir}, nil))
	region := &automation.Region{X: 60, Y: 30, Width: 40, Height: 40}

	m, ok, err := v.FindImage(t.Context(), "button.png", 0.9, region)
	if err != nil || !ok {
		t.Fatalf("FindImage() = %v, %v", ok, err)
	}
	if m.Box.X != 70 || m.Box.Y != 40 {
		t.Errorf("absolute box = %+v, want at (70,40)", m.Box)
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
