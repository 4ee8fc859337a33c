package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/keagan/thumbpick/internal/ai"
	"github.com/keagan/thumbpick/internal/imgproc"
)

// Candidate is an accepted frame and its score
type Candidate struct {
	Frame *imgproc.Frame
	Score ai.Score
}

// SelectTop returns the k best candidates by descending total score. Equal
// scores keep the earlier frame first. The input slice is not modified.
func SelectTop(candidates []Candidate, k int) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		return a.Frame.Index < b.Frame.Index
	})

	if k >= 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// ThumbnailWriter persists ranked frames as <Prefix><rank><Extension> in Dir
type ThumbnailWriter struct {
	Dir         string
	Prefix      string
	Extension   string
	JPEGQuality int
}

// Path returns the file name for a 1-based rank
func (w ThumbnailWriter) Path(rank int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s%d%s", w.Prefix, rank, w.Extension))
}

// Write encodes each candidate in rank order. On failure it returns an
// *OutputWriteError listing the files already written.
func (w ThumbnailWriter) Write(ranked []Candidate) ([]string, error) {
	var opts []imaging.EncodeOption
	if w.JPEGQuality > 0 {
		opts = append(opts, imaging.JPEGQuality(w.JPEGQuality))
	}

	written := make([]string, 0, len(ranked))
	for i, c := range ranked {
		path := w.Path(i + 1)
		if err := imaging.Save(c.Frame.NRGBA(), path, opts...); err != nil {
			return written, &OutputWriteError{Path: path, Written: written, Err: err}
		}
		written = append(written, path)
	}
	return written, nil
}
