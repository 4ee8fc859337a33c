// Package pipelinetest provides an in-memory video source for tests.
package pipelinetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/keagan/thumbpick/internal/imgproc"
	"github.com/keagan/thumbpick/internal/pipeline"
)

// Clip is a scripted video
type Clip struct {
	Frames []*imgproc.Frame
	// FrameCount overrides the reported count; negative reports 0.
	FrameCount int
	// DecodeErr, when set, is returned by Next or Skip at index FailAt.
	DecodeErr error
	FailAt    int
}

// ErrDecode is a stock decode failure for DecodeErr
var ErrDecode = errors.New("decode error")

// Source serves clips by path. Unknown paths fail to open.
type Source struct {
	mu      sync.Mutex
	Clips   map[string]*Clip
	Decoded int
	Skipped int
	Opened  int
	Closed  int
}

func (s *Source) OpenVideo(ctx context.Context, path string) (pipeline.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clip, ok := s.Clips[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such clip", path)
	}
	s.Opened++
	return &video{source: s, clip: clip}, nil
}

type video struct {
	source *Source
	clip   *Clip
	next   int
}

func (v *video) FrameCount() int {
	switch {
	case v.clip.FrameCount < 0:
		return 0
	case v.clip.FrameCount > 0:
		return v.clip.FrameCount
	}
	return len(v.clip.Frames)
}

func (v *video) advance() error {
	if v.clip.DecodeErr != nil && v.next == v.clip.FailAt {
		return v.clip.DecodeErr
	}
	if v.next >= len(v.clip.Frames) {
		return io.EOF
	}
	return nil
}

func (v *video) Next() (*imgproc.Frame, error) {
	if err := v.advance(); err != nil {
		return nil, err
	}
	src := v.clip.Frames[v.next]
	frame := &imgproc.Frame{
		Index:  v.next,
		Width:  src.Width,
		Height: src.Height,
		Pix:    append([]byte(nil), src.Pix...),
	}
	v.next++

	v.source.mu.Lock()
	v.source.Decoded++
	v.source.mu.Unlock()
	return frame, nil
}

func (v *video) Skip() error {
	if err := v.advance(); err != nil {
		return err
	}
	v.next++

	v.source.mu.Lock()
	v.source.Skipped++
	v.source.mu.Unlock()
	return nil
}

func (v *video) Close() error {
	v.source.mu.Lock()
	v.source.Closed++
	v.source.mu.Unlock()
	return nil
}

// Solid returns n frames of one flat color
func Solid(n, width, height int, r, g, b uint8) []*imgproc.Frame {
	frames := make([]*imgproc.Frame, n)
	for i := range frames {
		f := imgproc.NewFrame(width, height)
		f.Fill(r, g, b)
		f.Index = i
		frames[i] = f
	}
	return frames
}

// Distinct returns n frames that are pairwise dissimilar: frame i is a solid
// color whose histogram occupies its own bin.
func Distinct(n, width, height int) []*imgproc.Frame {
	frames := make([]*imgproc.Frame, n)
	for i := range frames {
		c := i % 512
		f := imgproc.NewFrame(width, height)
		f.Fill(uint8(c/64)<<5, uint8(c/8%8)<<5, uint8(c%8)<<5)
		f.Index = i
		frames[i] = f
	}
	return frames
}
