package pipeline

import (
	"errors"
	"time"

	"github.com/keagan/thumbpick/internal/ai"
)

// Config holds pipeline-specific configuration
type Config struct {
	SampleDensity      int
	HistThreshold      float64
	TopK               int
	OutputDir          string
	ThumbnailPrefix    string
	ThumbnailExtension string
	JPEGQuality        int
	Workers            int
}

// DefaultConfig returns the stock extraction settings
func DefaultConfig() Config {
	return Config{
		SampleDensity:      DefaultSampleDensity,
		HistThreshold:      DefaultHistThreshold,
		TopK:               5,
		OutputDir:          "artifacts/thumbnails",
		ThumbnailPrefix:    "thumbnail_",
		ThumbnailExtension: ".jpg",
		JPEGQuality:        95,
		Workers:            1,
	}
}

// Stats counts what happened during one extraction
type Stats struct {
	Step             int
	Sampled          int
	Accepted         int
	Rejected         int
	DetectorFailures int
	Duration         time.Duration
}

// Thumbnail is one persisted frame. Rank starts at 1 for the best score.
type Thumbnail struct {
	Rank  int
	Frame int
	Path  string
	Score ai.Score
}

// Result is the outcome of one extraction: either thumbnail paths in rank
// order or an error, never both.
type Result struct {
	ThumbnailPaths []string
	Thumbnails     []Thumbnail
	Err            error
	// PartialPaths lists thumbnails persisted before a write failure. They
	// are left on disk.
	PartialPaths []string
	Stats        Stats
}

// OK reports whether the extraction produced thumbnails
func (r *Result) OK() bool {
	return r.Err == nil
}

// Message is the error text, or "" on success
func (r *Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r *Result) fail(err error) *Result {
	r.ThumbnailPaths = nil
	r.Thumbnails = nil
	r.Err = err

	var werr *OutputWriteError
	if errors.As(err, &werr) && len(werr.Written) > 0 {
		r.PartialPaths = append([]string(nil), werr.Written...)
	}
	return r
}
