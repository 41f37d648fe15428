package motion

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// Displacement is the estimated shift of frame content from one frame to the
// next, in source pixels. Positive DX moves right, positive DY moves down.
type Displacement struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// BlockMatcher estimates global motion between two frames by searching the
// integer shift that minimises the mean absolute luminance difference of the
// overlapping area on downscaled copies.
type BlockMatcher struct {
	scaleWidth int
	radius     int
}

// minOverlap is the smallest fraction of the frame a candidate shift must keep
// in common for its score to count.
const minOverlap = 0.25

// NewBlockMatcher returns a matcher that downscales frames to scaleWidth pixels
// wide (0 keeps the source size) and searches shifts within +-radius.
func NewBlockMatcher(scaleWidth, radius int) (*BlockMatcher, error) {
	if scaleWidth < 0 {
		return nil, fmt.Errorf("scale width must be >= 0, got %d", scaleWidth)
	}
	if radius < 0 {
		return nil, fmt.Errorf("search radius must be >= 0, got %d", radius)
	}
	return &BlockMatcher{scaleWidth: scaleWidth, radius: radius}, nil
}

// Estimate returns the displacement that maps a onto b.
func (m *BlockMatcher) Estimate(ctx context.Context, a, b image.Image) (Displacement, error) {
	if err := ctx.Err(); err != nil {
		return Displacement{}, err
	}
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return Displacement{}, fmt.Errorf("frame size mismatch: %v vs %v", a.Bounds().Size(), b.Bounds().Size())
	}
	srcW := a.Bounds().Dx()
	if srcW == 0 || a.Bounds().Dy() == 0 {
		return Displacement{}, fmt.Errorf("empty frame")
	}

	la := m.luma(a)
	lb := m.luma(b)

	dx, dy := bestShift(la, lb, m.radius)
	scale := float64(srcW) / float64(la.w)

	return Displacement{DX: float64(dx) * scale, DY: float64(dy) * scale}, nil
}

type plane struct {
	w, h int
	pix  []float64
}

func (p plane) at(x, y int) float64 { return p.pix[y*p.w+x] }

func (m *BlockMatcher) luma(img image.Image) plane {
	if m.scaleWidth > 0 && img.Bounds().Dx() > m.scaleWidth {
		img = resize.Resize(uint(m.scaleWidth), 0, img, resize.Bilinear)
	}
	b := img.Bounds()
	p := plane{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			p.pix[y*p.w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
	}
	return p
}

// bestShift scans every (dx, dy) in the search window. The zero shift is
// scored first and only a strictly better score replaces the current best.
func bestShift(a, b plane, radius int) (int, int) {
	bestDX, bestDY := 0, 0
	best, _ := shiftCost(a, b, 0, 0)

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			cost, ok := shiftCost(a, b, dx, dy)
			if ok && cost < best {
				best, bestDX, bestDY = cost, dx, dy
			}
		}
	}
	return bestDX, bestDY
}

// shiftCost is the mean |b(x+dx, y+dy) - a(x, y)| over the overlap.
func shiftCost(a, b plane, dx, dy int) (float64, bool) {
	x0, x1 := max(0, -dx), min(a.w, a.w-dx)
	y0, y1 := max(0, -dy), min(a.h, a.h-dy)
	if x1 <= x0 || y1 <= y0 {
		return math.Inf(1), false
	}
	area := (x1 - x0) * (y1 - y0)
	if float64(area) < minOverlap*float64(a.w*a.h) {
		return math.Inf(1), false
	}

	var sum float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sum += math.Abs(b.at(x+dx, y+dy) - a.at(x, y))
		}
	}
	return sum / float64(area), true
}
