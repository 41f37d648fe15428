package embedding

import (
	"context"
	"fmt"
	"image"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/rs/zerolog"
)

// Provider maps an ordered frame sequence to one fixed-length vector per frame.
type Provider interface {
	Embed(ctx context.Context, frames []image.Image) ([][]float64, error)
	Close() error
}

// New builds the provider selected by cfg.Provider.
func New(logger zerolog.Logger, cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "haar":
		return NewHaarEmbedder(logger, cfg.HaarSize, cfg.HaarBlock)
	case "onnx":
		return NewONNXEmbedder(logger, ONNXOptions{
			ModelPath:         cfg.ModelPath,
			SharedLibraryPath: cfg.SharedLibraryPath,
			InputName:         cfg.InputName,
			OutputName:        cfg.OutputName,
			InputSize:         cfg.InputSize,
			Dim:               cfg.Dim,
			BatchSize:         cfg.BatchSize,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
