package pipeline

import (
	"errors"
	"io"

	"github.com/keagan/thumbpick/internal/imgproc"
)

// DefaultSampleDensity is the target number of sampled frames per video
const DefaultSampleDensity = 200

// Step returns the sampling stride for a video: every step-th frame is
// visited. It is at least 1, including for unknown (0) frame counts.
func Step(frameCount, density int) int {
	if density <= 0 {
		density = DefaultSampleDensity
	}
	step := frameCount / density
	if step < 1 {
		return 1
	}
	return step
}

// sampler yields frames whose index is a multiple of step, in order.
// Frames in between are skipped without being decoded to a raster.
type sampler struct {
	video Video
	step  int
	index int
}

func newSampler(video Video, density int) *sampler {
	return &sampler{
		video: video,
		step:  Step(video.FrameCount(), density),
	}
}

// next returns the next sampled frame, or io.EOF at end of stream
func (s *sampler) next() (*imgproc.Frame, error) {
	for s.index%s.step != 0 {
		if err := s.video.Skip(); err != nil {
			return nil, err
		}
		s.index++
	}

	frame, err := s.video.Next()
	if err != nil {
		return nil, err
	}
	frame.Index = s.index
	s.index++
	return frame, nil
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
