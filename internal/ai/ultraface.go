package ai

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/keagan/thumbpick/internal/imgproc"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// UltraFaceConfig configures the UltraFace (RFB-320) face detector
type UltraFaceConfig struct {
	LibraryPath      string
	ModelPath        string
	ConfidenceThresh float64
	NMSThreshold     float64
	InputWidth       int
	InputHeight      int
}

func DefaultUltraFaceConfig() UltraFaceConfig {
	return UltraFaceConfig{
		ModelPath:        "./models/version-RFB-320.onnx",
		ConfidenceThresh: 0.7,
		NMSThreshold:     0.3,
		InputWidth:       320,
		InputHeight:      240,
	}
}

// UltraFaceDetector finds faces with the Ultra-Light-Fast-Generic-Face-Detector
// ONNX export, whose outputs are already decoded to normalized corner boxes.
type UltraFaceDetector struct {
	logger  zerolog.Logger
	config  UltraFaceConfig
	priors  int
	session *ort.DynamicAdvancedSession
}

// NewUltraFaceDetector loads the model at cfg.ModelPath
func NewUltraFaceDetector(logger zerolog.Logger, cfg UltraFaceConfig) (*UltraFaceDetector, error) {
	def := DefaultUltraFaceConfig()
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		cfg.InputWidth, cfg.InputHeight = def.InputWidth, def.InputHeight
	}
	if cfg.ConfidenceThresh <= 0 {
		cfg.ConfidenceThresh = def.ConfidenceThresh
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = def.NMSThreshold
	}

	sess, err := openSession(cfg.LibraryPath, cfg.ModelPath, []string{"input"}, []string{"scores", "boxes"})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("model", cfg.ModelPath).
		Int("input_width", cfg.InputWidth).
		Int("input_height", cfg.InputHeight).
		Msg("face model loaded")

	return &UltraFaceDetector{
		logger:  logger.With().Str("detector", "ultraface").Logger(),
		config:  cfg,
		priors:  ultraFacePriors(cfg.InputWidth, cfg.InputHeight),
		session: sess,
	}, nil
}

// ultraFacePriors counts the anchor boxes the network emits for an input
// size: four feature maps at strides 8/16/32/64 with 3, 2, 2 and 3 boxes per
// cell.
func ultraFacePriors(width, height int) int {
	strides := []int{8, 16, 32, 64}
	boxes := []int{3, 2, 2, 3}

	total := 0
	for i, s := range strides {
		fw := int(math.Ceil(float64(width) / float64(s)))
		fh := int(math.Ceil(float64(height) / float64(s)))
		total += fw * fh * boxes[i]
	}
	return total
}

// DetectFaces runs the network on frame and returns faces above the
// confidence threshold, highest confidence first.
func (d *UltraFaceDetector) DetectFaces(ctx context.Context, frame *imgproc.Frame) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := d.config.InputWidth, d.config.InputHeight
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), planarRGB(frame.NRGBA(), w, h, 127, 128))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	scores, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(d.priors), 2))
	if err != nil {
		return nil, fmt.Errorf("failed to create scores tensor: %w", err)
	}
	defer scores.Destroy()

	boxes, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(d.priors), 4))
	if err != nil {
		return nil, fmt.Errorf("failed to create boxes tensor: %w", err)
	}
	defer boxes.Destroy()

	if err := d.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{scores, boxes}); err != nil {
		return nil, fmt.Errorf("face inference failed: %w", err)
	}

	faces := decodeFaces(scores.GetData(), boxes.GetData(), frame.Width, frame.Height, d.config.ConfidenceThresh)
	faces = suppress(faces, d.config.NMSThreshold)

	d.logger.Debug().Int("frame", frame.Index).Int("faces", len(faces)).Msg("face detection complete")
	return faces, nil
}

// decodeFaces keeps the priors whose face probability exceeds thresh and
// scales their normalized boxes to frame pixels.
func decodeFaces(scores, boxes []float32, width, height int, thresh float64) []Face {
	var faces []Face
	n := len(scores) / 2
	for i := 0; i < n && 4*i+3 < len(boxes); i++ {
		conf := float64(scores[2*i+1])
		if conf <= thresh {
			continue
		}
		box := image.Rect(
			clamp(int(boxes[4*i]*float32(width)), 0, width),
			clamp(int(boxes[4*i+1]*float32(height)), 0, height),
			clamp(int(boxes[4*i+2]*float32(width)), 0, width),
			clamp(int(boxes[4*i+3]*float32(height)), 0, height),
		)
		if box.Empty() {
			continue
		}
		faces = append(faces, Face{Box: box, Confidence: conf})
	}
	return faces
}

// suppress is hard non-maximum suppression. The result is sorted by
// confidence, highest first.
func suppress(faces []Face, iouThresh float64) []Face {
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Confidence > faces[j].Confidence
	})

	kept := make([]Face, 0, len(faces))
	for _, f := range faces {
		overlaps := false
		for _, k := range kept {
			if iou(f.Box, k.Box) > iouThresh {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, f)
		}
	}
	return kept
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Close releases the session
func (d *UltraFaceDetector) Close() error {
	d.logger.Info().Msg("closing face model session")
	return closeSession(d.session)
}
