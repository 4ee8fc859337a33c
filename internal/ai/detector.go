package ai

import (
	"context"
	"fmt"
	"image"
	"sort"

	"github.com/keagan/thumbpick/internal/imgproc"
)

// Face is a detected face region in frame pixel coordinates
type Face struct {
	Box        image.Rectangle
	Confidence float64
}

// EmotionDetection is one subject found by an emotion classifier.
// Emotions maps a label to a probability in [0,1].
type EmotionDetection struct {
	Box      image.Rectangle
	Emotions map[string]float64
}

// Dominant returns the highest probability label. Ties resolve to the
// alphabetically smaller label so the choice does not depend on map order.
func (d EmotionDetection) Dominant() (string, float64, bool) {
	if len(d.Emotions) == 0 {
		return "", 0, false
	}

	labels := make([]string, 0, len(d.Emotions))
	for label := range d.Emotions {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best := labels[0]
	for _, label := range labels[1:] {
		if d.Emotions[label] > d.Emotions[best] {
			best = label
		}
	}
	return best, d.Emotions[best], true
}

// FaceDetector finds faces in a frame. An empty slice means no face.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame *imgproc.Frame) ([]Face, error)
	Close() error
}

// EmotionDetector classifies the facial expression of each subject in a
// frame. An empty slice means no subject was found.
type EmotionDetector interface {
	DetectEmotions(ctx context.Context, frame *imgproc.Frame) ([]EmotionDetection, error)
	Close() error
}

// DetectorError reports a failed detector call for a single frame.
type DetectorError struct {
	Detector string
	Frame    int
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("%s detector failed on frame %d: %v", e.Detector, e.Frame, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Detector names used in errors, logs and metrics
const (
	DetectorEmotion = "emotion"
	DetectorFace    = "face"
)
