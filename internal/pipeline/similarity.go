package pipeline

import "github.com/keagan/thumbpick/internal/imgproc"

// DefaultHistThreshold is the correlation above which a frame counts as a
// near duplicate of the last accepted one
const DefaultHistThreshold = 0.85

// SimilarityFilter drops frames whose color histogram correlates too closely
// with the last accepted frame. Only that one fingerprint is kept; rejected
// frames never replace it.
type SimilarityFilter struct {
	threshold float64
	last      *imgproc.Histogram
}

func NewSimilarityFilter(threshold float64) *SimilarityFilter {
	return &SimilarityFilter{threshold: threshold}
}

// Accept reports whether frame is kept, and its correlation with the previous
// accepted frame (0 for the first frame).
func (f *SimilarityFilter) Accept(frame *imgproc.Frame) (bool, float64) {
	hist := imgproc.ComputeHistogram(frame)
	if f.last == nil {
		f.last = hist
		return true, 0
	}

	corr := imgproc.Correlation(f.last, hist)
	if corr > f.threshold {
		return false, corr
	}
	f.last = hist
	return true, corr
}
