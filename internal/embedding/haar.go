package embedding

import (
	"context"
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"github.com/rivo/duplo/haar"
	"github.com/rs/zerolog"
)

// HaarEmbedder describes a frame by the low-frequency corner of its 2D Haar
// wavelet decomposition. Frames are resized to size x size first, and the
// top-left block x block coefficients of each YIQ channel form the vector.
type HaarEmbedder struct {
	logger zerolog.Logger
	size   int
	block  int
}

// NewHaarEmbedder validates the transform geometry. size must be a power of two.
func NewHaarEmbedder(logger zerolog.Logger, size, block int) (*HaarEmbedder, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("haar size must be a power of two, got %d", size)
	}
	if block <= 0 || block > size {
		return nil, fmt.Errorf("haar block must be in [1, %d], got %d", size, block)
	}
	return &HaarEmbedder{
		logger: logger.With().Str("embedder", "haar").Logger(),
		size:   size,
		block:  block,
	}, nil
}

// Dim is the length of every vector Embed returns.
func (h *HaarEmbedder) Dim() int {
	return h.block * h.block * haar.ColourChannels
}

// Embed transforms every frame independently.
func (h *HaarEmbedder) Embed(ctx context.Context, frames []image.Image) ([][]float64, error) {
	out := make([][]float64, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(frame)
	}

	h.logger.Debug().
		Int("frames", len(frames)).
		Int("dim", h.Dim()).
		Msg("haar embedding complete")
	return out, nil
}

func (h *HaarEmbedder) embedOne(frame image.Image) []float64 {
	scaled := resize.Resize(uint(h.size), uint(h.size), frame, resize.Bilinear)
	m := haar.Transform(scaled)

	vec := make([]float64, 0, h.Dim())
	for ch := 0; ch < haar.ColourChannels; ch++ {
		for y := 0; y < h.block; y++ {
			for x := 0; x < h.block; x++ {
				vec = append(vec, m.Coefs[y*int(m.Width)+x][ch])
			}
		}
	}
	return vec
}

// Close is a no-op for the haar embedder
func (h *HaarEmbedder) Close() error {
	return nil
}
