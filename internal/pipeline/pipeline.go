package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/keagan/flickerscope/internal/embedding"
	"github.com/keagan/flickerscope/internal/features"
	"github.com/keagan/flickerscope/internal/ffmpeg"
	"github.com/keagan/flickerscope/internal/metrics"
	"github.com/keagan/flickerscope/internal/motion"
	"github.com/keagan/flickerscope/internal/store"
	"github.com/rs/zerolog"
)

// Pipeline runs feature extraction over videos and optionally stores results
type Pipeline struct {
	logger   zerolog.Logger
	engine   *features.Engine
	embedder embedding.Provider
	store    store.Store
}

// New builds the ffmpeg decoder, embedder, motion estimator and engine from
// appCfg. The feature store is opened only when a DSN is configured.
func New(ctx context.Context, logger zerolog.Logger, appCfg *config.Config) (*Pipeline, error) {
	ffmpegExec, err := ffmpeg.New(logger, appCfg.FFmpeg.BinaryPath, appCfg.FFmpeg.Threads)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}
	decoder, err := ffmpeg.NewFrameDecoder(ffmpegExec, appCfg.FFmpeg.FrameWidth, appCfg.FFmpeg.FrameHeight)
	if err != nil {
		return nil, err
	}

	matcher, err := motion.NewBlockMatcher(appCfg.Motion.ScaleWidth, appCfg.Motion.SearchRadius)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(logger, appCfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	engine, err := features.NewEngine(logger, features.Config{
		CacheDir:      appCfg.CacheDir,
		EnableCache:   !appCfg.DisableCache,
		WindowSizeMax: appCfg.Features.WindowSizeMax,
	}, decoder, embedder, matcher)
	if err != nil {
		embedder.Close()
		return nil, err
	}

	var st store.Store
	if appCfg.Store.DSN != "" {
		st, err = store.Open(ctx, appCfg.Store.DSN)
		if err != nil {
			embedder.Close()
			return nil, fmt.Errorf("failed to open feature store: %w", err)
		}
	}

	p := NewWithEngine(logger, engine, st)
	p.embedder = embedder
	return p, nil
}

// NewWithEngine wraps an existing engine. st may be nil.
func NewWithEngine(logger zerolog.Logger, engine *features.Engine, st store.Store) *Pipeline {
	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		engine: engine,
		store:  st,
	}
}

// Store returns the configured feature store, or nil.
func (p *Pipeline) Store() store.Store {
	return p.store
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	var errs []error
	if p.embedder != nil {
		errs = append(errs, p.embedder.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}

// Analyze extracts the features of one video. When the cache could not be
// written the result is still returned alongside the error.
func (p *Pipeline) Analyze(ctx context.Context, input string, opts AnalyzeOptions) (*features.Result, error) {
	if input == "" {
		return nil, fmt.Errorf("input path cannot be empty")
	}

	res, err := p.engine.FeatureExtraction(ctx, input)
	if res == nil {
		return nil, err
	}

	if opts.Store {
		if p.store == nil {
			return res, errors.Join(err, fmt.Errorf("%w: no feature store configured", ErrStoreSave))
		}
		if serr := p.store.Save(ctx, res); serr != nil {
			return res, errors.Join(err, fmt.Errorf("%w: %w", ErrStoreSave, serr))
		}
		p.logger.Debug().Str("digest", res.Digest).Msg("result stored")
	}
	return res, err
}

// Batch analyzes every input in order. A failing video is logged and recorded
// in the report; the batch carries on with the next one. Only context
// cancellation stops it early.
func (p *Pipeline) Batch(ctx context.Context, inputs []string, opts BatchOptions) *BatchReport {
	start := time.Now()
	report := &BatchReport{Succeeded: []string{}, Failed: []Failure{}}

	for _, input := range inputs {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, Failure{Path: input, Stage: "cancelled", Error: ctx.Err().Error()})
			continue
		}

		res, err := p.Analyze(ctx, input, opts.AnalyzeOptions)
		switch {
		case err != nil && (res == nil || errors.Is(err, ErrStoreSave)):
			stage := features.StageOf(err)
			if res != nil {
				stage = StageStore
			}
			p.logger.Error().Err(err).Str("video", input).Str("stage", stage).Msg("video failed")
			metrics.VideosProcessedTotal.WithLabelValues(metrics.StatusFailed).Inc()
			report.Failed = append(report.Failed, Failure{Path: input, Stage: stage, Error: err.Error()})
		default:
			if err != nil {
				p.logger.Warn().Err(err).Str("video", input).Msg("video analyzed with warnings")
			}
			metrics.VideosProcessedTotal.WithLabelValues(metrics.StatusOK).Inc()
			report.Succeeded = append(report.Succeeded, input)
			report.Suspects += len(res.Suspects)
			if res.CacheHit {
				report.CacheHits++
			}
		}

		if opts.OnVideo != nil {
			opts.OnVideo(input, res, err)
		}
	}

	report.Elapsed = time.Since(start)
	p.logger.Info().
		Int("videos", len(inputs)).
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Int("cache_hits", report.CacheHits).
		Dur("elapsed", report.Elapsed).
		Msg("batch complete")
	return report
}
