package main

import (
	"fmt"

	"github.com/keagan/thumbpick/internal/ai"
	"github.com/keagan/thumbpick/internal/config"
	"github.com/keagan/thumbpick/internal/ffmpeg"
	"github.com/keagan/thumbpick/internal/pipeline"
	"github.com/rs/zerolog"
)

// buildPipeline loads the ffmpeg executor and both detection models. The face
// detector is shared: the emotion classifier uses it to find subjects and the
// scorer uses it for face presence, and the scorer closes it once.
func buildPipeline(logger zerolog.Logger, cfg *config.Config) (*pipeline.Pipeline, error) {
	exec, err := ffmpeg.New(logger, cfg.FFmpegOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	faces, err := ai.NewUltraFaceDetector(logger, cfg.UltraFace())
	if err != nil {
		return nil, fmt.Errorf("failed to load face model: %w", err)
	}

	emotions, err := ai.NewFERPlusDetector(logger, faces, cfg.FERPlus())
	if err != nil {
		faces.Close()
		return nil, fmt.Errorf("failed to load emotion model: %w", err)
	}

	scorer := ai.NewWeightedScorer(logger, emotions, faces, cfg.Scorer())
	pipe, err := pipeline.New(logger, cfg.Pipeline(), pipeline.FFmpegSource{Executor: exec}, scorer)
	if err != nil {
		scorer.Close()
		return nil, err
	}
	return pipe, nil
}
