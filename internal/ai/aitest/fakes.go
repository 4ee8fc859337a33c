// Package aitest provides scripted detectors for tests.
package aitest

import (
	"context"
	"image"
	"sync"

	"github.com/keagan/thumbpick/internal/ai"
	"github.com/keagan/thumbpick/internal/imgproc"
)

// FaceDetector answers from a per-frame-index script. Frames missing from
// Faces get no face; frames listed in Errors fail.
type FaceDetector struct {
	mu     sync.Mutex
	Faces  map[int]int
	Errors map[int]error
	Calls  int
	Closed bool
}

func (d *FaceDetector) DetectFaces(ctx context.Context, frame *imgproc.Frame) ([]ai.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++

	if err := d.Errors[frame.Index]; err != nil {
		return nil, err
	}
	faces := make([]ai.Face, d.Faces[frame.Index])
	for i := range faces {
		faces[i] = ai.Face{Box: image.Rect(0, 0, 1, 1), Confidence: 0.9}
	}
	return faces, nil
}

func (d *FaceDetector) Close() error {
	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return nil
}

// EmotionDetector answers from a per-frame-index script.
type EmotionDetector struct {
	mu       sync.Mutex
	Emotions map[int][]map[string]float64
	Errors   map[int]error
	Calls    int
	Closed   bool
}

func (d *EmotionDetector) DetectEmotions(ctx context.Context, frame *imgproc.Frame) ([]ai.EmotionDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++

	if err := d.Errors[frame.Index]; err != nil {
		return nil, err
	}
	var out []ai.EmotionDetection
	for _, e := range d.Emotions[frame.Index] {
		out = append(out, ai.EmotionDetection{Emotions: e})
	}
	return out, nil
}

func (d *EmotionDetector) Close() error {
	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return nil
}
