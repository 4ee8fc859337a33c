package ai

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX runtime environment is process wide. Every detector acquires it on
// construction and releases it on Close; the last release tears it down.
var (
	runtimeMu   sync.Mutex
	runtimeRefs int
)

func acquireRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	runtimeRefs++
	return nil
}

func releaseRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeRefs == 0 {
		return nil
	}
	runtimeRefs--
	if runtimeRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// openSession loads a model with fixed input and output names.
func openSession(libraryPath, modelPath string, inputs, outputs []string) (*ort.DynamicAdvancedSession, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	if err := acquireRuntime(libraryPath); err != nil {
		return nil, err
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, nil)
	if err != nil {
		_ = releaseRuntime()
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	return sess, nil
}

// closeSession destroys sess and releases the runtime reference it holds.
func closeSession(sess *ort.DynamicAdvancedSession) error {
	if sess == nil {
		return nil
	}
	if err := sess.Destroy(); err != nil {
		return err
	}
	return releaseRuntime()
}

// planarRGB resizes img to width x height and lays it out as CHW float32,
// applying (v - mean) / std to every 8-bit sample.
func planarRGB(img image.Image, width, height int, mean, std float32) []float32 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)

	data := make([]float32, 3*width*height)
	plane := width * height
	bounds := resized.Bounds()

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[idx] = (float32(r>>8) - mean) / std
			data[plane+idx] = (float32(g>>8) - mean) / std
			data[2*plane+idx] = (float32(b>>8) - mean) / std
			idx++
		}
	}
	return data
}

// grayPlane resizes img to width x height and returns BT.601 luma samples in
// the 0-255 range.
func grayPlane(img image.Image, width, height int) []float32 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)

	data := make([]float32, width*height)
	bounds := resized.Bounds()

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[idx] = 0.299*float32(r>>8) + 0.587*float32(g>>8) + 0.114*float32(b>>8)
			idx++
		}
	}
	return data
}
