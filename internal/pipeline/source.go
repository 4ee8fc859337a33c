package pipeline

import (
	"context"

	"github.com/keagan/thumbpick/internal/ffmpeg"
	"github.com/keagan/thumbpick/internal/imgproc"
)

// Video is an open, forward-only frame stream
type Video interface {
	// FrameCount is the container's frame count; 0 when unknown.
	FrameCount() int
	// Next decodes the next frame, or returns io.EOF at end of stream.
	Next() (*imgproc.Frame, error)
	// Skip advances past the next frame without decoding a raster.
	Skip() error
	Close() error
}

// VideoSource opens videos for sampling
type VideoSource interface {
	OpenVideo(ctx context.Context, path string) (Video, error)
}

// FFmpegSource decodes videos through an ffmpeg executor
type FFmpegSource struct {
	Executor *ffmpeg.Executor
}

func (s FFmpegSource) OpenVideo(ctx context.Context, path string) (Video, error) {
	v, err := s.Executor.OpenVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	return v, nil
}
