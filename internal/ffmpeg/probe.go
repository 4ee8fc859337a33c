package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/keagan/thumbpick/pkg/util"
)

// ErrNoVideoStream is returned when a file probes fine but carries no video.
var ErrNoVideoStream = errors.New("no video stream")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return probe.videoInfo(filePath)
}

func (p *probeResult) videoInfo(filePath string) (*VideoInfo, error) {
	info := &VideoInfo{
		FilePath:   filePath,
		FormatName: p.Format.FormatName,
	}

	// Parse duration
	if dur, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	// Parse bitrate
	if br, err := strconv.ParseInt(p.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	found := false
	best := 0
	for _, stream := range p.Streams {
		switch stream.CodecType {
		case "video":
			// Mirror ffmpeg's default stream selection: the largest picture
			// wins and cover art is never decoded.
			if stream.Disposition.AttachedPic == 1 {
				continue
			}
			if found && stream.Width*stream.Height <= best {
				continue
			}
			found = true
			best = stream.Width * stream.Height
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName

			// Calculate FPS from avg_frame_rate, falling back to r_frame_rate
			info.FPS = util.ParseFrameRate(stream.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = util.ParseFrameRate(stream.RFrameRate)
			}

			info.FrameCount = 0
			if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
				info.FrameCount = n
			}
			if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil && dur > 0 {
				info.Duration = time.Duration(dur * float64(time.Second))
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if !found {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNoVideoStream)
	}

	// Containers such as webm and mkv carry no frame count; estimate it
	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration.Seconds() * info.FPS))
	}

	return info, nil
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Disposition  struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
}
