package ai

import (
	"context"
	"strings"

	"github.com/keagan/thumbpick/internal/imgproc"
	"github.com/rs/zerolog"
)

// Scorer evaluates a frame's fitness as a thumbnail
type Scorer interface {
	Score(ctx context.Context, frame *imgproc.Frame) (Score, error)
	Close() error
}

// Score is the breakdown of a frame score. Total is the weighted sum.
type Score struct {
	Emotion      float64
	EmotionLabel string
	Face         float64
	Sharpness    float64
	Total        float64

	// Failures lists detector calls that failed and were scored as 0.
	Failures []*DetectorError
}

// Weights for the three scoring signals. They are meant to sum to 1 but this
// is not enforced.
type Weights struct {
	Emotion   float64 `yaml:"emotion" env:"EMOTION"`
	Sharpness float64 `yaml:"sharpness" env:"SHARPNESS"`
	Face      float64 `yaml:"face" env:"FACE"`
}

// ScorerConfig configures WeightedScorer
type ScorerConfig struct {
	Weights          Weights
	SharpnessDivisor float64
	PositiveEmotions []string
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights: Weights{
			Emotion:   0.5,
			Sharpness: 0.3,
			Face:      0.2,
		},
		SharpnessDivisor: 1000,
		PositiveEmotions: []string{"happy", "surprise", "neutral"},
	}
}

// WeightedScorer combines emotion valence, face presence and sharpness
// linearly. It holds no per-frame state, so the same frame and detector
// responses always produce the same score.
type WeightedScorer struct {
	logger   zerolog.Logger
	emotions EmotionDetector
	faces    FaceDetector
	config   ScorerConfig
	positive map[string]struct{}
}

// NewWeightedScorer creates a scorer over the given detectors
func NewWeightedScorer(logger zerolog.Logger, emotions EmotionDetector, faces FaceDetector, cfg ScorerConfig) *WeightedScorer {
	if cfg.SharpnessDivisor == 0 {
		cfg.SharpnessDivisor = DefaultScorerConfig().SharpnessDivisor
	}

	positive := make(map[string]struct{}, len(cfg.PositiveEmotions))
	for _, label := range cfg.PositiveEmotions {
		positive[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}

	return &WeightedScorer{
		logger:   logger.With().Str("component", "scorer").Logger(),
		emotions: emotions,
		faces:    faces,
		config:   cfg,
		positive: positive,
	}
}

// Score computes the weighted score of one frame. A failing detector degrades
// its own signal to 0 and is reported in Score.Failures; only context
// cancellation is returned as an error.
func (s *WeightedScorer) Score(ctx context.Context, frame *imgproc.Frame) (Score, error) {
	var score Score

	if err := ctx.Err(); err != nil {
		return score, err
	}

	score.Emotion, score.EmotionLabel = s.emotionScore(ctx, frame, &score)
	score.Face = s.faceScore(ctx, frame, &score)
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}

	score.Sharpness = imgproc.Sharpness(frame) / s.config.SharpnessDivisor

	w := s.config.Weights
	score.Total = w.Emotion*score.Emotion + w.Sharpness*score.Sharpness + w.Face*score.Face

	s.logger.Debug().
		Int("frame", frame.Index).
		Float64("emotion", score.Emotion).
		Str("emotion_label", score.EmotionLabel).
		Float64("face", score.Face).
		Float64("sharpness", score.Sharpness).
		Float64("score", score.Total).
		Msg("frame scored")

	return score, nil
}

func (s *WeightedScorer) emotionScore(ctx context.Context, frame *imgproc.Frame, score *Score) (float64, string) {
	detections, err := s.emotions.DetectEmotions(ctx, frame)
	if err != nil {
		s.fail(score, DetectorEmotion, frame, err)
		return 0, ""
	}
	if len(detections) == 0 {
		return 0, ""
	}

	label, prob, ok := detections[0].Dominant()
	if !ok {
		return 0, ""
	}
	if _, positive := s.positive[strings.ToLower(label)]; !positive {
		return 0, label
	}
	return prob, label
}

func (s *WeightedScorer) faceScore(ctx context.Context, frame *imgproc.Frame, score *Score) float64 {
	faces, err := s.faces.DetectFaces(ctx, frame)
	if err != nil {
		s.fail(score, DetectorFace, frame, err)
		return 0
	}
	if len(faces) > 0 {
		return 1
	}
	return 0
}

func (s *WeightedScorer) fail(score *Score, detector string, frame *imgproc.Frame, err error) {
	derr := &DetectorError{Detector: detector, Frame: frame.Index, Err: err}
	score.Failures = append(score.Failures, derr)
	s.logger.Warn().Err(err).Str("detector", detector).Int("frame", frame.Index).Msg("detector failed, using 0")
}

// Close closes both detectors
func (s *WeightedScorer) Close() error {
	var firstErr error
	if s.emotions != nil {
		firstErr = s.emotions.Close()
	}
	if s.faces != nil {
		if err := s.faces.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
