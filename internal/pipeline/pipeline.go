package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keagan/thumbpick/internal/ai"
	"github.com/keagan/thumbpick/internal/metrics"
	"github.com/keagan/thumbpick/pkg/util"
	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
)

// Pipeline orchestrates sampling, filtering, scoring and persistence of
// thumbnails. Runs are serialized: the output directory is wiped at the start
// of every run.
type Pipeline struct {
	logger zerolog.Logger
	config Config
	source VideoSource
	scorer ai.Scorer
	writer ThumbnailWriter

	mu sync.Mutex
}

// New creates a new pipeline instance. The pipeline owns scorer and closes it
// in Close.
func New(logger zerolog.Logger, cfg Config, source VideoSource, scorer ai.Scorer) (*Pipeline, error) {
	if scorer == nil {
		return nil, ErrModelsNotLoaded
	}
	if source == nil {
		return nil, fmt.Errorf("video source is required")
	}

	def := DefaultConfig()
	if cfg.SampleDensity <= 0 {
		cfg.SampleDensity = def.SampleDensity
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.ThumbnailPrefix == "" {
		cfg.ThumbnailPrefix = def.ThumbnailPrefix
	}
	if cfg.ThumbnailExtension == "" {
		cfg.ThumbnailExtension = def.ThumbnailExtension
	}

	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		config: cfg,
		source: source,
		scorer: scorer,
		writer: ThumbnailWriter{
			Dir:         cfg.OutputDir,
			Prefix:      cfg.ThumbnailPrefix,
			Extension:   cfg.ThumbnailExtension,
			JPEGQuality: cfg.JPEGQuality,
		},
	}, nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.config
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	if p.scorer != nil {
		return p.scorer.Close()
	}
	return nil
}

// Extract runs the full pipeline on one video. Expected failures (unopenable
// video, no frames, write errors) are reported in the Result, not returned.
func (p *Pipeline) Extract(ctx context.Context, videoPath string) *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := p.logger.With().Str("video", videoPath).Logger()
	logger.Info().
		Int("density", p.config.SampleDensity).
		Float64("hist_threshold", p.config.HistThreshold).
		Int("top_k", p.config.TopK).
		Int("workers", p.config.Workers).
		Msg("starting extraction")

	start := time.Now()
	res := p.extract(ctx, logger, videoPath)
	res.Stats.Duration = time.Since(start)

	if res.Err != nil {
		metrics.ExtractionsTotal.WithLabelValues(metrics.StatusFailed).Inc()
		logger.Error().
			Err(res.Err).
			Int("sampled", res.Stats.Sampled).
			Int("accepted", res.Stats.Accepted).
			Dur("elapsed", res.Stats.Duration).
			Msg("extraction failed")
		return res
	}

	metrics.ExtractionsTotal.WithLabelValues(metrics.StatusCompleted).Inc()
	logger.Info().
		Int("step", res.Stats.Step).
		Int("sampled", res.Stats.Sampled).
		Int("accepted", res.Stats.Accepted).
		Int("rejected", res.Stats.Rejected).
		Int("detector_failures", res.Stats.DetectorFailures).
		Int("thumbnails", len(res.ThumbnailPaths)).
		Dur("elapsed", res.Stats.Duration).
		Msg("extraction complete")
	return res
}

func (p *Pipeline) extract(ctx context.Context, logger zerolog.Logger, videoPath string) *Result {
	res := &Result{}

	if err := util.ResetDir(p.config.OutputDir); err != nil {
		return res.fail(&OutputWriteError{Path: p.config.OutputDir, Err: err})
	}

	// Stage 1: sequential decode and similarity filtering
	stageStart := time.Now()
	candidates, err := p.collect(ctx, logger, videoPath, &res.Stats)
	metrics.StageDuration.WithLabelValues(metrics.StageDecode).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return res.fail(err)
	}

	// Stage 2: score accepted frames
	stageStart = time.Now()
	err = p.score(ctx, candidates, &res.Stats)
	metrics.StageDuration.WithLabelValues(metrics.StageScore).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return res.fail(err)
	}

	// Stage 3: rank and persist
	stageStart = time.Now()
	ranked := SelectTop(candidates, p.config.TopK)
	paths, err := p.writer.Write(ranked)
	metrics.StageDuration.WithLabelValues(metrics.StageWrite).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return res.fail(err)
	}

	for i, c := range ranked {
		res.Thumbnails = append(res.Thumbnails, Thumbnail{
			Rank:  i + 1,
			Frame: c.Frame.Index,
			Path:  paths[i],
			Score: c.Score,
		})
		logger.Debug().
			Int("rank", i+1).
			Int("frame", c.Frame.Index).
			Float64("score", c.Score.Total).
			Str("path", paths[i]).
			Msg("thumbnail written")
	}

	res.ThumbnailPaths = paths
	return res
}

// collect samples the video and returns the frames kept by the similarity
// filter, in sample order.
func (p *Pipeline) collect(ctx context.Context, logger zerolog.Logger, videoPath string, stats *Stats) ([]Candidate, error) {
	video, err := p.source.OpenVideo(ctx, videoPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open video")
		return nil, ErrVideoOpen
	}
	defer video.Close()

	s := newSampler(video, p.config.SampleDensity)
	stats.Step = s.step
	filter := NewSimilarityFilter(p.config.HistThreshold)

	logger.Debug().Int("frame_count", video.FrameCount()).Int("step", s.step).Msg("sampling video")

	var candidates []Candidate
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := s.next()
		if isEndOfStream(err) {
			break
		}
		if err != nil {
			if stats.Sampled == 0 {
				logger.Warn().Err(err).Msg("decoder failed before the first frame")
				return nil, ErrVideoOpen
			}
			logger.Warn().Err(err).Int("sampled", stats.Sampled).Msg("decode stopped early, keeping frames read so far")
			break
		}

		stats.Sampled++
		metrics.FramesSampledTotal.Inc()

		accepted, corr := filter.Accept(frame)
		if !accepted {
			stats.Rejected++
			metrics.FramesRejectedTotal.Inc()
			logger.Debug().Int("frame", frame.Index).Float64("correlation", corr).Msg("frame rejected as near duplicate")
			continue
		}

		stats.Accepted++
		metrics.FramesAcceptedTotal.Inc()
		logger.Debug().Int("frame", frame.Index).Float64("correlation", corr).Msg("frame accepted")
		candidates = append(candidates, Candidate{Frame: frame})
	}

	if len(candidates) == 0 {
		return nil, ErrNoFramesExtracted
	}
	return candidates, nil
}

// score fills in candidate scores using up to Workers goroutines. Each
// result is stored at its sample position, so the outcome does not depend on
// scheduling.
func (p *Pipeline) score(ctx context.Context, candidates []Candidate, stats *Stats) error {
	errs := make([]error, len(candidates))
	swg := sizedwaitgroup.New(p.config.Workers)

	for i := range candidates {
		if ctx.Err() != nil {
			break
		}

		swg.Add()
		go func(i int) {
			defer swg.Done()
			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()

			score, err := p.scorer.Score(ctx, candidates[i].Frame)
			if err != nil {
				errs[i] = err
				return
			}
			candidates[i].Score = score
		}(i)
	}

	swg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("failed to score frame %d: %w", candidates[i].Frame.Index, err)
		}
	}

	for _, c := range candidates {
		for _, f := range c.Score.Failures {
			stats.DetectorFailures++
			metrics.DetectorFailuresTotal.WithLabelValues(f.Detector).Inc()
		}
	}
	return nil
}
