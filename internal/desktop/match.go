package desktop

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// DefaultMatchLimit caps the matches returned by one find-all search.
const DefaultMatchLimit = 100

// grayImage is a luminance plane in row-major order. mask marks the pixels
// that take part in matching; it is nil when every pixel does.
type grayImage struct {
	w, h int
	pix  []float64
	mask []bool
}

// toGray converts img to luma. With useAlpha, fully transparent pixels are
// masked out and the rest are read unpremultiplied.
func toGray(img image.Image, useAlpha bool) grayImage {
	b := img.Bounds()
	g := grayImage{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	var mask []bool
	if useAlpha {
		mask = make([]bool, len(g.pix))
	}
	transparent := false

	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			i := y*g.w + x
			c := img.At(b.Min.X+x, b.Min.Y+y)
			if useAlpha {
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				mask[i] = n.A > 0
				transparent = transparent || n.A == 0
				g.pix[i] = 0.299*float64(n.R) + 0.587*float64(n.G) + 0.114*float64(n.B)
				continue
			}
			r, gr, bl, _ := c.RGBA()
			// ITU-R BT.601 luma on 16-bit channels.
			g.pix[i] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257
		}
	}
	if transparent {
		g.mask = mask
	}
	return g
}

// integral holds summed-area tables of values and squared values, with a
// zero row and column in front.
type integral struct {
	w       int
	sum, sq []float64
}

func newIntegral(g grayImage) integral {
	w := g.w + 1
	in := integral{w: w, sum: make([]float64, w*(g.h+1)), sq: make([]float64, w*(g.h+1))}
	for y := 1; y <= g.h; y++ {
		var rowSum, rowSq float64
		for x := 1; x <= g.w; x++ {
			v := g.pix[(y-1)*g.w+(x-1)]
			rowSum += v
			rowSq += v * v
			in.sum[y*w+x] = in.sum[(y-1)*w+x] + rowSum
			in.sq[y*w+x] = in.sq[(y-1)*w+x] + rowSq
		}
	}
	return in
}

// window returns the sum and sum of squares of the w x h block at (x, y).
func (in integral) window(x, y, w, h int) (sum, sq float64) {
	a, b := y*in.w+x, y*in.w+x+w
	c, d := (y+h)*in.w+x, (y+h)*in.w+x+w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a],
		in.sq[d] - in.sq[b] - in.sq[c] + in.sq[a]
}

// scoreGrid holds the score of every template placement. Flat windows
// score -Inf.
type scoreGrid struct {
	cols, rows int
	tw, th     int
	score      []float64
}

func (g scoreGrid) match(i int) automation.Match {
	x, y := i%g.cols, i/g.cols
	return automation.Match{
		Score:  math.Min(g.score[i], 1),
		Center: automation.Point{X: x + g.tw/2, Y: y + g.th/2},
		Box:    automation.Region{X: x, Y: y, Width: g.tw, Height: g.th},
	}
}

// correlate computes the zero-mean normalised cross-correlation of tpl at
// every position in buf. Masked template pixels are left out of both the
// template and window statistics. A template larger than buf yields an
// empty grid.
func correlate(buf, tpl image.Image, useAlpha bool) (scoreGrid, error) {
	src, t := toGray(buf, false), toGray(tpl, useAlpha)
	if t.w == 0 || t.h == 0 {
		return scoreGrid{}, automation.PortError("match", fmt.Errorf("empty template"))
	}
	if t.w > src.w || t.h > src.h {
		return scoreGrid{}, nil
	}

	// offs are window offsets of the template pixels that count.
	var offs []int
	var tPix []float64
	for ty := 0; ty < t.h; ty++ {
		for tx := 0; tx < t.w; tx++ {
			i := ty*t.w + tx
			if t.mask != nil && !t.mask[i] {
				continue
			}
			offs = append(offs, ty*src.w+tx)
			tPix = append(tPix, t.pix[i])
		}
	}
	if len(offs) == 0 {
		return scoreGrid{}, automation.PortError("match", fmt.Errorf("template is fully transparent"))
	}

	n := float64(len(offs))
	var tMean float64
	for _, v := range tPix {
		tMean += v
	}
	tMean /= n

	tZero := make([]float64, len(tPix))
	var tVar float64
	for i, v := range tPix {
		tZero[i] = v - tMean
		tVar += tZero[i] * tZero[i]
	}
	if tVar == 0 {
		return scoreGrid{}, automation.PortError("match", fmt.Errorf("template has no contrast"))
	}

	g := scoreGrid{cols: src.w - t.w + 1, rows: src.h - t.h + 1, tw: t.w, th: t.h}
	g.score = make([]float64, g.cols*g.rows)

	var ii integral
	if t.mask == nil {
		ii = newIntegral(src)
	}
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			base := y*src.w + x
			var sum, sq, cross float64
			if t.mask == nil {
				sum, sq = ii.window(x, y, t.w, t.h)
				for k, off := range offs {
					cross += src.pix[base+off] * tZero[k]
				}
			} else {
				for k, off := range offs {
					v := src.pix[base+off]
					sum += v
					sq += v * v
					cross += v * tZero[k]
				}
			}

			wVar := sq - sum*sum/n
			if wVar <= 1e-9 {
				g.score[y*g.cols+x] = math.Inf(-1)
				continue
			}
			g.score[y*g.cols+x] = cross / math.Sqrt(tVar*wVar)
		}
	}
	return g, nil
}

// matchTemplate returns the position with the highest score, in buf's
// coordinates. Scores are in [-1, 1]. A template larger than buf scores 0
// with no error. With useAlpha, transparent template pixels match any
// background.
func matchTemplate(buf, tpl image.Image, useAlpha bool) (automation.Match, error) {
	g, err := correlate(buf, tpl, useAlpha)
	if err != nil {
		return automation.Match{}, err
	}

	best := -1
	for i, s := range g.score {
		if !math.IsInf(s, -1) && (best < 0 || s > g.score[best]) {
			best = i
		}
	}
	if best < 0 {
		return automation.Match{}, nil
	}
	return g.match(best), nil
}

// matchAll returns up to limit non-overlapping placements scoring at least
// threshold, best first. A placement is dropped when it covers more than
// half of an already kept match.
func matchAll(buf, tpl image.Image, useAlpha bool, threshold float64, limit int) ([]automation.Match, error) {
	g, err := correlate(buf, tpl, useAlpha)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	var candidates []int
	for i, s := range g.score {
		if s >= threshold {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return g.score[candidates[a]] > g.score[candidates[b]]
	})

	area := g.tw * g.th
	var out []automation.Match
	for _, i := range candidates {
		m := g.match(i)
		keep := true
		for _, k := range out {
			if overlap(m.Box, k.Box)*2 > area {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// overlap returns the intersection area of two regions.
func overlap(a, b automation.Region) int {
	w := min(a.X+a.Width, b.X+b.Width) - max(a.X, b.X)
	h := min(a.Y+a.Height, b.Y+b.Height) - max(a.Y, b.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
