package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/keagan/thumbpick/internal/ai"
	"github.com/keagan/thumbpick/internal/ffmpeg"
	"github.com/keagan/thumbpick/internal/pipeline"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix prefixes every environment override, e.g. THUMBPICK_EXTRACTION_TOP_K
const EnvPrefix = "THUMBPICK_"

// Config holds all application configuration
type Config struct {
	// Extraction settings
	Extraction ExtractionConfig `yaml:"extraction" envPrefix:"EXTRACTION_"`

	// AI settings
	AI AIConfig `yaml:"ai" envPrefix:"AI_"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg" envPrefix:"FFMPEG_"`

	// Upload service settings
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`

	source string
}

type ExtractionConfig struct {
	SampleDensity      int        `yaml:"sample_density" env:"SAMPLE_DENSITY"`
	HistThreshold      float64    `yaml:"hist_threshold" env:"HIST_THRESHOLD"`
	TopK               int        `yaml:"top_k" env:"TOP_K"`
	Weights            ai.Weights `yaml:"weights" envPrefix:"WEIGHT_"`
	SharpnessDivisor   float64    `yaml:"sharpness_divisor" env:"SHARPNESS_DIVISOR"`
	PositiveEmotions   []string   `yaml:"positive_emotions" env:"POSITIVE_EMOTIONS"`
	OutputDir          string     `yaml:"output_dir" env:"OUTPUT_DIR"`
	ThumbnailPrefix    string     `yaml:"thumbnail_prefix" env:"THUMBNAIL_PREFIX"`
	ThumbnailExtension string     `yaml:"thumbnail_extension" env:"THUMBNAIL_EXTENSION"`
	JPEGQuality        int        `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	Workers            int        `yaml:"workers" env:"WORKERS"`
}

type AIConfig struct {
	ONNXLibraryPath  string  `yaml:"onnx_library_path" env:"ONNX_LIBRARY_PATH"`
	FaceModelPath    string  `yaml:"face_model_path" env:"FACE_MODEL_PATH"`
	EmotionModelPath string  `yaml:"emotion_model_path" env:"EMOTION_MODEL_PATH"`
	FaceThreshold    float64 `yaml:"face_threshold" env:"FACE_THRESHOLD"`
	NMSThreshold     float64 `yaml:"nms_threshold" env:"NMS_THRESHOLD"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" env:"BINARY_PATH"`
	ProbePath  string `yaml:"probe_path" env:"PROBE_PATH"`
	Threads    int    `yaml:"threads" env:"THREADS"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	MaxFileSizeMB     int64         `yaml:"max_file_size_mb" env:"MAX_FILE_SIZE_MB"`
	AllowedExtensions []string      `yaml:"allowed_extensions" env:"ALLOWED_EXTENSIONS"`
	TempVideoPrefix   string        `yaml:"temp_video_prefix" env:"TEMP_VIDEO_PREFIX"`
	SniffContent      bool          `yaml:"sniff_content" env:"SNIFF_CONTENT"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	TaskHistory       int           `yaml:"task_history" env:"TASK_HISTORY"`
}

// Load reads configuration from file or returns defaults, then applies
// THUMBPICK_* environment overrides
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			cfg.source = path
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

// Source is the file the configuration was read from, or "" for defaults
func (c *Config) Source() string {
	return c.source
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every setting that would make extraction misbehave
func (c *Config) Validate() error {
	var errs []error
	e := c.Extraction

	if e.SampleDensity <= 0 {
		errs = append(errs, fmt.Errorf("extraction.sample_density must be positive, got %d", e.SampleDensity))
	}
	if e.HistThreshold < -1 || e.HistThreshold > 1 {
		errs = append(errs, fmt.Errorf("extraction.hist_threshold must be within [-1, 1], got %g", e.HistThreshold))
	}
	if e.TopK <= 0 {
		errs = append(errs, fmt.Errorf("extraction.top_k must be positive, got %d", e.TopK))
	}
	if e.SharpnessDivisor <= 0 {
		errs = append(errs, fmt.Errorf("extraction.sharpness_divisor must be positive, got %g", e.SharpnessDivisor))
	}
	if e.Workers <= 0 {
		errs = append(errs, fmt.Errorf("extraction.workers must be positive, got %d", e.Workers))
	}
	if e.OutputDir == "" {
		errs = append(errs, errors.New("extraction.output_dir is required"))
	}
	if e.ThumbnailPrefix == "" {
		errs = append(errs, errors.New("extraction.thumbnail_prefix is required"))
	}
	switch strings.ToLower(e.ThumbnailExtension) {
	case ".jpg", ".jpeg", ".png":
	default:
		errs = append(errs, fmt.Errorf("extraction.thumbnail_extension %q is not one of .jpg, .jpeg, .png", e.ThumbnailExtension))
	}
	if e.JPEGQuality < 1 || e.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("extraction.jpeg_quality must be within [1, 100], got %d", e.JPEGQuality))
	}

	if c.Server.MaxFileSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_file_size_mb must be positive, got %d", c.Server.MaxFileSizeMB))
	}
	if len(c.Server.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("server.allowed_extensions is empty"))
	}
	if c.Server.TaskHistory <= 0 {
		errs = append(errs, fmt.Errorf("server.task_history must be positive, got %d", c.Server.TaskHistory))
	}

	return errors.Join(errs...)
}

// Pipeline converts the extraction section to pipeline settings
func (c *Config) Pipeline() pipeline.Config {
	e := c.Extraction
	return pipeline.Config{
		SampleDensity:      e.SampleDensity,
		HistThreshold:      e.HistThreshold,
		TopK:               e.TopK,
		OutputDir:          e.OutputDir,
		ThumbnailPrefix:    e.ThumbnailPrefix,
		ThumbnailExtension: e.ThumbnailExtension,
		JPEGQuality:        e.JPEGQuality,
		Workers:            e.Workers,
	}
}

// Scorer converts the extraction section to scorer settings
func (c *Config) Scorer() ai.ScorerConfig {
	return ai.ScorerConfig{
		Weights:          c.Extraction.Weights,
		SharpnessDivisor: c.Extraction.SharpnessDivisor,
		PositiveEmotions: c.Extraction.PositiveEmotions,
	}
}

// UltraFace returns the face detector settings
func (c *Config) UltraFace() ai.UltraFaceConfig {
	cfg := ai.DefaultUltraFaceConfig()
	cfg.LibraryPath = c.AI.ONNXLibraryPath
	cfg.ModelPath = c.AI.FaceModelPath
	cfg.ConfidenceThresh = c.AI.FaceThreshold
	cfg.NMSThreshold = c.AI.NMSThreshold
	return cfg
}

// FERPlus returns the emotion classifier settings
func (c *Config) FERPlus() ai.FERPlusConfig {
	return ai.FERPlusConfig{
		LibraryPath: c.AI.ONNXLibraryPath,
		ModelPath:   c.AI.EmotionModelPath,
	}
}

// FFmpegOptions returns the executor settings
func (c *Config) FFmpegOptions() ffmpeg.Options {
	return ffmpeg.Options{
		FFmpegPath:  c.FFmpeg.BinaryPath,
		FFprobePath: c.FFmpeg.ProbePath,
		Threads:     c.FFmpeg.Threads,
	}
}

func defaultConfig() *Config {
	p := pipeline.DefaultConfig()
	s := ai.DefaultScorerConfig()
	face := ai.DefaultUltraFaceConfig()

	return &Config{
		Extraction: ExtractionConfig{
			SampleDensity:      p.SampleDensity,
			HistThreshold:      p.HistThreshold,
			TopK:               p.TopK,
			Weights:            s.Weights,
			SharpnessDivisor:   s.SharpnessDivisor,
			PositiveEmotions:   s.PositiveEmotions,
			OutputDir:          p.OutputDir,
			ThumbnailPrefix:    p.ThumbnailPrefix,
			ThumbnailExtension: p.ThumbnailExtension,
			JPEGQuality:        p.JPEGQuality,
			Workers:            p.Workers,
		},
		AI: AIConfig{
			FaceModelPath:    face.ModelPath,
			EmotionModelPath: "./models/emotion-ferplus-8.onnx",
			FaceThreshold:    face.ConfidenceThresh,
			NMSThreshold:     face.NMSThreshold,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
		Server: ServerConfig{
			Addr:              ":8000",
			MaxFileSizeMB:     100,
			AllowedExtensions: []string{".mp4", ".avi", ".mov", ".mkv"},
			TempVideoPrefix:   "temp_video_",
			SniffContent:      true,
			RequestTimeout:    10 * time.Minute,
			TaskHistory:       1000,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".thumbpick", "config.yaml"),
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
	return defaultConfig()
}
