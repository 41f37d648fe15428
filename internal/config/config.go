package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	CacheDir     string `yaml:"cache_dir" env:"FLICKER_CACHE_DIR"`
	DisableCache bool   `yaml:"disable_cache" env:"FLICKER_DISABLE_CACHE"`
	LogDir       string `yaml:"log_dir" env:"FLICKER_LOG_DIR"`

	Features  FeaturesConfig  `yaml:"features"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Motion    MotionConfig    `yaml:"motion"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type FeaturesConfig struct {
	WindowSizeMax int `yaml:"window_size_max" env:"FLICKER_WINDOW_SIZE_MAX"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" env:"FLICKER_FFMPEG_PATH"`
	Threads    int    `yaml:"threads"`
	// Decoded frames are scaled to FrameWidth x FrameHeight.
	FrameWidth  int `yaml:"frame_width"`
	FrameHeight int `yaml:"frame_height"`
}

// EmbeddingConfig selects and tunes the frame embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider" env:"FLICKER_EMBEDDING_PROVIDER"` // haar | onnx

	HaarSize  int `yaml:"haar_size"`
	HaarBlock int `yaml:"haar_block"`

	ModelPath         string `yaml:"model_path" env:"FLICKER_MODEL_PATH"`
	SharedLibraryPath string `yaml:"shared_library_path" env:"ONNXRUNTIME_LIB"`
	InputName         string `yaml:"input_name"`
	OutputName        string `yaml:"output_name"`
	InputSize         int    `yaml:"input_size"`
	Dim               int    `yaml:"dim"`
	BatchSize         int    `yaml:"batch_size"`
}

type MotionConfig struct {
	ScaleWidth   int `yaml:"scale_width"`
	SearchRadius int `yaml:"search_radius"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn" env:"FLICKER_STORE_DSN"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"FLICKER_METRICS_ADDR"`
}

// Load reads configuration from file or returns defaults. Environment
// variables named in the env tags override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Features.WindowSizeMax < 2 {
		return fmt.Errorf("features.window_size_max must be >= 2, got %d", c.Features.WindowSizeMax)
	}
	if c.FFmpeg.FrameWidth <= 0 || c.FFmpeg.FrameHeight <= 0 {
		return fmt.Errorf("ffmpeg frame size must be positive, got %dx%d", c.FFmpeg.FrameWidth, c.FFmpeg.FrameHeight)
	}
	switch c.Embedding.Provider {
	case "haar", "onnx":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheDir: ".cache",
		LogDir:   ".log",
		Features: FeaturesConfig{
			WindowSizeMax: 10,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:  "ffmpeg",
			Threads:     0,
			FrameWidth:  360,
			FrameHeight: 180,
		},
		Embedding: EmbeddingConfig{
			Provider:   "haar",
			HaarSize:   32,
			HaarBlock:  8,
			ModelPath:  "./models/frame_encoder.onnx",
			InputName:  "input",
			OutputName: "embedding",
			InputSize:  160,
			Dim:        512,
			BatchSize:  32,
		},
		Motion: MotionConfig{
			ScaleWidth:   96,
			SearchRadius: 8,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".flickerscope", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
