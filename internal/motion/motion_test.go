package motion

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockNoise fills a w x h canvas with random gray blocks of the given size.
func blockNoise(w, h, block int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(rng.Intn(256))
			for y := by; y < min(by+block, h); y++ {
				for x := bx; x < min(bx+block, w); x++ {
					img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
				}
			}
		}
	}
	return img
}

// window copies a w x h view of base starting at (ox, oy).
func window(base *image.RGBA, ox, oy, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(x, y, base.RGBAAt(ox+x, oy+y))
		}
	}
	return out
}

func TestEstimateIdenticalFrames(t *testing.T) {
	m, err := NewBlockMatcher(0, 4)
	require.NoError(t, err)

	img := blockNoise(48, 32, 1, 1)
	d, err := m.Estimate(context.Background(), img, img)
	require.NoError(t, err)
	assert.Equal(t, Displacement{}, d)
}

func TestEstimateFindsShift(t *testing.T) {
	base := blockNoise(96, 64, 1, 2)
	m, err := NewBlockMatcher(0, 6)
	require.NoError(t, err)

	tests := []struct {
		name   string
		dx, dy int
	}{
		{"right", 3, 0},
		{"down", 0, 2},
		{"up-left", -4, -5},
		{"diagonal", 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// content at a(x,y) reappears at b(x+dx, y+dy)
			a := window(base, 16, 16, 48, 32)
			b := window(base, 16-tt.dx, 16-tt.dy, 48, 32)

			d, err := m.Estimate(context.Background(), a, b)
			require.NoError(t, err)
			assert.Equal(t, Displacement{DX: float64(tt.dx), DY: float64(tt.dy)}, d)
		})
	}
}

func TestEstimateScalesBack(t *testing.T) {
	base := blockNoise(320, 160, 8, 3)
	m, err := NewBlockMatcher(96, 4)
	require.NoError(t, err)

	a := window(base, 64, 32, 192, 96)
	b := window(base, 64-8, 32, 192, 96)

	d, err := m.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, d.DX, 1e-9)
	assert.InDelta(t, 0.0, d.DY, 1e-9)
}

func TestEstimateRejectsMismatchedFrames(t *testing.T) {
	m, err := NewBlockMatcher(0, 2)
	require.NoError(t, err)

	_, err = m.Estimate(context.Background(), blockNoise(8, 8, 1, 1), blockNoise(8, 9, 1, 1))
	assert.Error(t, err)
}

func TestEstimateHonoursContext(t *testing.T) {
	m, err := NewBlockMatcher(0, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := blockNoise(8, 8, 1, 1)
	_, err = m.Estimate(ctx, img, img)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBlockMatcherValidation(t *testing.T) {
	_, err := NewBlockMatcher(-1, 2)
	assert.Error(t, err)
	_, err = NewBlockMatcher(10, -2)
	assert.Error(t, err)
}
