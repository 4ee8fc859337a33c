package ffmpeg

import "time"

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	FormatName string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	// FrameCount is the container's frame count, or an estimate from
	// duration and frame rate when the container does not record one.
	FrameCount int
	Bitrate    int64
	VideoCodec string
	HasAudio   bool
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame int
	FPS   float64
	Speed string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}
