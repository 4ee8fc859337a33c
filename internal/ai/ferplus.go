package ai

import (
	"context"
	"fmt"
	"math"

	"github.com/keagan/thumbpick/internal/imgproc"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const ferPlusInputSize = 64

// ferPlusLabels is the output order of the FER+ network, renamed to the
// labels used in configuration (happy, surprise, neutral, ...).
var ferPlusLabels = []string{"neutral", "happy", "surprise", "sad", "angry", "disgust", "fear", "contempt"}

// FERPlusConfig configures the FER+ emotion classifier
type FERPlusConfig struct {
	LibraryPath string
	ModelPath   string
}

// FERPlusDetector classifies the expression of every face found by its face
// detector. It does not own the face detector and never closes it.
type FERPlusDetector struct {
	logger  zerolog.Logger
	faces   FaceDetector
	session *ort.DynamicAdvancedSession
}

// NewFERPlusDetector loads the FER+ model; faces locates the subjects to classify
func NewFERPlusDetector(logger zerolog.Logger, faces FaceDetector, cfg FERPlusConfig) (*FERPlusDetector, error) {
	if faces == nil {
		return nil, fmt.Errorf("emotion detector needs a face detector")
	}

	sess, err := openSession(cfg.LibraryPath, cfg.ModelPath, []string{"Input3"}, []string{"Plus692_Output_0"})
	if err != nil {
		return nil, err
	}

	logger.Info().Str("model", cfg.ModelPath).Msg("emotion model loaded")

	return &FERPlusDetector{
		logger:  logger.With().Str("detector", "ferplus").Logger(),
		faces:   faces,
		session: sess,
	}, nil
}

// DetectEmotions returns one detection per face, in face detector order.
func (d *FERPlusDetector) DetectEmotions(ctx context.Context, frame *imgproc.Frame) ([]EmotionDetection, error) {
	faces, err := d.faces.DetectFaces(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("face localisation failed: %w", err)
	}

	detections := make([]EmotionDetection, 0, len(faces))
	for _, face := range faces {
		crop := frame.Crop(face.Box)
		if crop == nil {
			continue
		}

		probs, err := d.classify(crop)
		if err != nil {
			return nil, err
		}

		emotions := make(map[string]float64, len(ferPlusLabels))
		for i, label := range ferPlusLabels {
			emotions[label] = probs[i]
		}
		detections = append(detections, EmotionDetection{Box: face.Box, Emotions: emotions})
	}

	d.logger.Debug().Int("frame", frame.Index).Int("subjects", len(detections)).Msg("emotion detection complete")
	return detections, nil
}

func (d *FERPlusDetector) classify(face *imgproc.Frame) ([]float64, error) {
	pixels := grayPlane(face.NRGBA(), ferPlusInputSize, ferPlusInputSize)

	input, err := ort.NewTensor(ort.NewShape(1, 1, ferPlusInputSize, ferPlusInputSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(ferPlusLabels))))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer logits.Destroy()

	if err := d.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{logits}); err != nil {
		return nil, fmt.Errorf("emotion inference failed: %w", err)
	}

	out := logits.GetData()
	if len(out) != len(ferPlusLabels) {
		return nil, fmt.Errorf("unexpected emotion output of %d values", len(out))
	}
	return softmax(out), nil
}

func softmax(logits []float32) []float64 {
	peak := math.Inf(-1)
	for _, v := range logits {
		peak = math.Max(peak, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - peak)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Close releases the session
func (d *FERPlusDetector) Close() error {
	d.logger.Info().Msg("closing emotion model session")
	return closeSession(d.session)
}
