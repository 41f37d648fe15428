package embedding

import (
	"context"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 255 / w), uint8(y * 255 / h), 128, 255})
		}
	}
	return img
}

func TestHaarEmbedderShape(t *testing.T) {
	h, err := NewHaarEmbedder(zerolog.Nop(), 32, 4)
	require.NoError(t, err)
	assert.Equal(t, 48, h.Dim())

	frames := []image.Image{solid(64, 32, color.RGBA{10, 10, 10, 255}), gradient(64, 32), gradient(64, 32)}
	vecs, err := h.Embed(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, h.Dim())
	}

	// identical frames embed identically, different content does not
	assert.Equal(t, vecs[1], vecs[2])
	assert.Greater(t, floats.Distance(vecs[0], vecs[1], 2), 0.0)
}

func TestHaarEmbedderSeparatesBrightness(t *testing.T) {
	h, err := NewHaarEmbedder(zerolog.Nop(), 16, 2)
	require.NoError(t, err)

	dark := solid(32, 32, color.RGBA{20, 20, 20, 255})
	dim := solid(32, 32, color.RGBA{30, 30, 30, 255})
	bright := solid(32, 32, color.RGBA{240, 240, 240, 255})

	vecs, err := h.Embed(context.Background(), []image.Image{dark, dim, bright})
	require.NoError(t, err)

	near := floats.Distance(vecs[0], vecs[1], 2)
	far := floats.Distance(vecs[0], vecs[2], 2)
	assert.Less(t, near, far)
}

func TestHaarEmbedderEmptyInput(t *testing.T) {
	h, err := NewHaarEmbedder(zerolog.Nop(), 8, 2)
	require.NoError(t, err)

	vecs, err := h.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestHaarEmbedderValidation(t *testing.T) {
	_, err := NewHaarEmbedder(zerolog.Nop(), 24, 4)
	assert.Error(t, err, "size must be a power of two")
	_, err = NewHaarEmbedder(zerolog.Nop(), 16, 0)
	assert.Error(t, err)
	_, err = NewHaarEmbedder(zerolog.Nop(), 16, 32)
	assert.Error(t, err)
}

func TestHaarEmbedderCancelled(t *testing.T) {
	h, err := NewHaarEmbedder(zerolog.Nop(), 8, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Embed(ctx, []image.Image{gradient(8, 8)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPixelValuesLayout(t *testing.T) {
	const size = 4
	dst := make([]float32, 3*size*size)
	pixelValues(solid(8, 8, color.RGBA{255, 0, 0, 255}), size, dst)

	area := size * size
	assert.InDelta(t, (1-pixelMean[0])/pixelStd[0], dst[0], 1e-5)
	assert.InDelta(t, (0-pixelMean[1])/pixelStd[1], dst[area], 1e-5)
	assert.InDelta(t, (0-pixelMean[2])/pixelStd[2], dst[2*area+area-1], 1e-5)
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.Default().Embedding
	p, err := New(zerolog.Nop(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &HaarEmbedder{}, p)
	require.NoError(t, p.Close())

	cfg.Provider = "onnx"
	cfg.ModelPath = "does/not/exist.onnx"
	_, err = New(zerolog.Nop(), cfg)
	assert.Error(t, err)

	cfg.Provider = "clip"
	_, err = New(zerolog.Nop(), cfg)
	assert.Error(t, err)
}

func TestONNXEmbedder(t *testing.T) {
	model := os.Getenv("FLICKER_TEST_ONNX_MODEL")
	if model == "" {
		t.Skip("FLICKER_TEST_ONNX_MODEL not set")
	}

	cfg := config.Default().Embedding
	e, err := NewONNXEmbedder(zerolog.Nop(), ONNXOptions{
		ModelPath:         model,
		SharedLibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
		InputName:         envOr("FLICKER_TEST_ONNX_INPUT", cfg.InputName),
		OutputName:        envOr("FLICKER_TEST_ONNX_OUTPUT", cfg.OutputName),
		InputSize:         cfg.InputSize,
		Dim:               cfg.Dim,
		BatchSize:         2,
	})
	require.NoError(t, err)
	defer e.Close()

	frames := []image.Image{gradient(64, 32), gradient(64, 32), solid(64, 32, color.RGBA{0, 0, 0, 255})}
	vecs, err := e.Embed(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], cfg.Dim)
	assert.InDeltaSlice(t, vecs[0], vecs[1], 1e-4)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
