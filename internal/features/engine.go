package features

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/flickerscope/internal/metrics"
	"github.com/keagan/flickerscope/internal/motion"
	"github.com/rs/zerolog"
)

// FrameSource decodes a video into fixed-shape frames in presentation order.
type FrameSource interface {
	Decode(ctx context.Context, path string) ([]image.Image, error)
	FrameRate(ctx context.Context, path string) (float64, error)
}

// Embedder maps frames to one vector each, preserving order.
type Embedder interface {
	Embed(ctx context.Context, frames []image.Image) ([][]float64, error)
}

// MotionEstimator measures the displacement between two frames.
type MotionEstimator interface {
	Estimate(ctx context.Context, a, b image.Image) (motion.Displacement, error)
}

// Config tunes an Engine.
type Config struct {
	CacheDir      string
	EnableCache   bool
	WindowSizeMax int
}

func DefaultConfig() Config {
	return Config{
		CacheDir:      ".cache",
		EnableCache:   true,
		WindowSizeMax: 10,
	}
}

// Engine extracts embeddings, suspect frames, motion and multi-window
// similarities from videos.
type Engine struct {
	logger   zerolog.Logger
	config   Config
	source   FrameSource
	embedder Embedder
	motion   MotionEstimator
	cache    *Cache
}

// NewEngine wires the engine to its collaborators.
func NewEngine(logger zerolog.Logger, cfg Config, source FrameSource, embedder Embedder, est MotionEstimator) (*Engine, error) {
	if source == nil || embedder == nil || est == nil {
		return nil, fmt.Errorf("frame source, embedder and motion estimator are required")
	}
	if cfg.WindowSizeMax < 2 {
		return nil, fmt.Errorf("window size max must be >= 2, got %d", cfg.WindowSizeMax)
	}
	logger = logger.With().Str("component", "features").Logger()

	return &Engine{
		logger:   logger,
		config:   cfg,
		source:   source,
		embedder: embedder,
		motion:   est,
		cache:    NewCache(logger, cfg.CacheDir, cfg.EnableCache),
	}, nil
}

// Cache exposes the engine's content-addressed cache.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Extract returns the cached or freshly computed entry for path. A cache
// write failure is returned together with a valid extraction.
func (e *Engine) Extract(ctx context.Context, path string) (*Extraction, error) {
	return e.extract(ctx, path, e.runLogger(uuid.NewString(), path))
}

// FeatureExtraction runs Extract and derives the multi-window similarity
// matrix and frame rate. As with Extract, an error matching ErrCacheWrite
// comes with a complete Result.
func (e *Engine) FeatureExtraction(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := e.runLogger(runID, path)

	logger.Info().
		Str("cache_dir", e.config.CacheDir).
		Bool("cache", e.config.EnableCache).
		Msg("start flicker feature extraction")

	ex, err := e.extract(ctx, path, logger)
	var warn error
	if err != nil {
		if ex == nil || !errors.Is(err, ErrCacheWrite) {
			return nil, err
		}
		warn = err
	}

	matrixStart := time.Now()
	similarities := WindowMatrix(ex.Entry.Embeddings, e.config.WindowSizeMax)
	metrics.ExtractionDuration.WithLabelValues("window_matrix").Observe(time.Since(matrixStart).Seconds())

	fps, err := e.source.FrameRate(ctx, path)
	if err != nil {
		return nil, stageError(path, ErrDecode, fmt.Errorf("frame rate: %w", err))
	}

	elapsed := time.Since(start)
	metrics.ExtractionDuration.WithLabelValues("total").Observe(elapsed.Seconds())
	logger.Info().
		Dur("elapsed", elapsed).
		Int("frames", ex.Entry.Frames()).
		Int("suspects", len(ex.Entry.Suspects)).
		Float64("fps", fps).
		Bool("cache_hit", ex.CacheHit).
		Msg("feature extraction complete")

	return &Result{
		RunID:                   runID,
		VideoPath:               path,
		Digest:                  ex.Digest,
		FPS:                     fps,
		Embeddings:              ex.Entry.Embeddings,
		Similarities:            similarities,
		Suspects:                ex.Entry.Suspects,
		HorizontalDisplacements: ex.Entry.HorizontalDisplacements,
		VerticalDisplacements:   ex.Entry.VerticalDisplacements,
		CacheHit:                ex.CacheHit,
		Elapsed:                 elapsed,
	}, warn
}

func (e *Engine) runLogger(runID, path string) zerolog.Logger {
	return e.logger.With().Str("run", runID).Str("video", path).Logger()
}

func (e *Engine) extract(ctx context.Context, path string, logger zerolog.Logger) (*Extraction, error) {
	digest, err := Digest(path)
	if err != nil {
		return nil, stageError(path, ErrDecode, err)
	}

	if entry, ok := e.cache.Lookup(digest); ok {
		return &Extraction{Entry: entry, Digest: digest, CacheHit: true}, nil
	}

	entry, err := e.compute(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	ex := &Extraction{Entry: entry, Digest: digest}

	if err := e.cache.Store(digest, entry); err != nil {
		metrics.CacheWriteErrorsTotal.Inc()
		logger.Error().Err(err).Str("digest", digest).Msg("cache write failed")
		return ex, stageError(path, ErrCacheWrite, err)
	}
	return ex, nil
}

// compute owns the decoded frames; they are unreachable once it returns.
func (e *Engine) compute(ctx context.Context, path string, logger zerolog.Logger) (*CacheEntry, error) {
	stageStart := time.Now()
	frames, err := e.source.Decode(ctx, path)
	if err != nil {
		return nil, stageError(path, ErrDecode, err)
	}
	if len(frames) == 0 {
		return nil, stageError(path, ErrDecode, fmt.Errorf("no frames"))
	}
	metrics.FramesDecodedTotal.Add(float64(len(frames)))
	metrics.ExtractionDuration.WithLabelValues("decode").Observe(time.Since(stageStart).Seconds())

	b := frames[0].Bounds()
	logger.Info().
		Int("frames", len(frames)).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("snapshots ok")

	defer func() {
		clear(frames)
		debug.FreeOSMemory()
		logger.Debug().Msg("frames released")
	}()

	stageStart = time.Now()
	embeddings, err := e.embedder.Embed(ctx, frames)
	if err != nil {
		return nil, stageError(path, ErrEmbed, err)
	}
	if err := checkEmbeddings(embeddings, len(frames)); err != nil {
		return nil, stageError(path, ErrEmbed, err)
	}
	metrics.ExtractionDuration.WithLabelValues("embed").Observe(time.Since(stageStart).Seconds())
	logger.Info().Int("dim", len(embeddings[0])).Msg("embedding ok")

	stageStart = time.Now()
	sims := AdjacentSimilarities(embeddings)
	baseline := Baseline(sims)

	suspects := []int{}
	horizontal := make([]float64, 0, len(frames)-1)
	vertical := make([]float64, 0, len(frames)-1)
	err = WalkPairs(len(frames),
		SuspectVisitor(sims, baseline, &suspects),
		MotionVisitor(ctx, frames, e.motion, &horizontal, &vertical),
	)
	if err != nil {
		return nil, stageError(path, ErrMotion, err)
	}
	metrics.ExtractionDuration.WithLabelValues("motion").Observe(time.Since(stageStart).Seconds())
	logger.Info().
		Float64("baseline", baseline).
		Int("suspects", len(suspects)).
		Msg("motion ok")

	return &CacheEntry{
		Embeddings:              embeddings,
		Suspects:                suspects,
		HorizontalDisplacements: horizontal,
		VerticalDisplacements:   vertical,
	}, nil
}

func checkEmbeddings(emb [][]float64, frames int) error {
	if len(emb) != frames {
		return fmt.Errorf("got %d embeddings for %d frames", len(emb), frames)
	}
	dim := len(emb[0])
	if dim == 0 {
		return fmt.Errorf("empty embedding")
	}
	for i, v := range emb {
		if len(v) != dim {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
