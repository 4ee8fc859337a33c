package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/keagan/thumbpick/internal/imgproc"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// stderrTail bounds how much decoder output is kept for error messages
const stderrTail = 4 << 10

// decodeArgs builds the argument list that decodes every frame of input to
// packed rgb24 on stdout. vsync passthrough keeps ffmpeg from duplicating or
// dropping frames so the n-th raw frame is the n-th decoded frame.
func decodeArgs(input string) []string {
	return ffmpeggo.Input(input).
		Output("pipe:", ffmpeggo.KwArgs{
			"format":  "rawvideo",
			"pix_fmt": "rgb24",
			"vsync":   "passthrough",
		}).
		GetArgs()
}

// Video is a running raw decode of one video file. Frames are read in decode
// order; it is not safe for concurrent use.
type Video struct {
	info      *VideoInfo
	proc      *process
	cancel    context.CancelFunc
	reader    *bufio.Reader
	frameSize int
	next      int
	done      bool
	err       error
	closeOnce sync.Once
}

// OpenVideo probes path and starts decoding it. The returned Video must be
// closed.
func (e *Executor) OpenVideo(ctx context.Context, path string) (*Video, error) {
	info, err := e.ProbeVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%s: invalid dimensions %dx%d", path, info.Width, info.Height)
	}

	// Frame dimensions must match the probed ones, so skip display-matrix
	// rotation.
	args := append([]string{"-noautorotate"}, decodeArgs(path)...)

	logger := e.logger.With().Str("video", path).Logger()
	logger.Debug().Int("frames", info.FrameCount).Msg("starting decoder")

	ctx, cancel := context.WithCancel(ctx)
	proc, err := e.start(ctx, RunOptions{
		Args: args,
		ProgressHandler: func(p *Progress) {
			logger.Debug().
				Int("frame", p.Frame).
				Float64("fps", p.FPS).
				Str("speed", p.Speed).
				Msg("decode progress")
		},
		LogHandler: func(line string) {
			logger.Debug().Str("stderr", line).Msg("decoder output")
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &Video{
		info:      info,
		proc:      proc,
		cancel:    cancel,
		reader:    bufio.NewReaderSize(proc.stdout, 1<<20),
		frameSize: imgproc.FrameSize(info.Width, info.Height),
	}, nil
}

// Info returns the probed metadata
func (v *Video) Info() *VideoInfo { return v.info }

// FrameCount is the probed frame count, which may be an estimate or 0
func (v *Video) FrameCount() int { return v.info.FrameCount }

// Next decodes the next frame. It returns io.EOF once the stream is
// exhausted, or the decoder's error if it failed before producing any frame.
func (v *Video) Next() (*imgproc.Frame, error) {
	if v.done {
		return nil, v.err
	}

	frame := imgproc.NewFrame(v.info.Width, v.info.Height)
	if _, err := io.ReadFull(v.reader, frame.Pix); err != nil {
		return nil, v.finish(err)
	}
	frame.Index = v.next
	v.next++
	return frame, nil
}

// Skip discards the next frame without allocating it
func (v *Video) Skip() error {
	if v.done {
		return v.err
	}

	if _, err := v.reader.Discard(v.frameSize); err != nil {
		return v.finish(err)
	}
	v.next++
	return nil
}

// finish records the terminal state once the pipe stops yielding full frames.
// A truncated last frame counts as end of stream.
func (v *Video) finish(readErr error) error {
	v.done = true
	v.err = io.EOF

	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		v.err = fmt.Errorf("read frame %d: %w", v.next, readErr)
		return v.err
	}

	if err := v.wait(); err != nil && v.next == 0 {
		v.err = err
	}
	return v.err
}

func (v *Video) wait() error {
	var err error
	v.closeOnce.Do(func() {
		err = v.proc.wait()
		v.cancel()
	})
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Close stops the decoder and releases its resources. Closing a partially
// read video is not an error.
func (v *Video) Close() error {
	v.closeOnce.Do(func() {
		v.cancel()
		_ = v.proc.stdout.Close()
		_ = v.proc.wait()
	})
	v.done = true
	if v.err == nil {
		v.err = io.EOF
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
