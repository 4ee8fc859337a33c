package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// Options locates the binaries. Empty paths are resolved from PATH.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Threads     int
}

// New creates a new ffmpeg executor
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	ffmpegPath, err := lookup(opts.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}

	ffprobePath, err := lookup(opts.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     opts.Threads,
	}, nil
}

func lookup(configured, name string) (string, error) {
	if configured == "" {
		configured = name
	}
	path, err := exec.LookPath(configured)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", name, err)
	}
	return path, nil
}

// process is a running ffmpeg invocation. Its stderr is parsed for -progress
// blocks and log lines until the process exits.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	// drained is closed once stderr has been fully read
	drained chan struct{}
}

// start launches ffmpeg with opts.Args. Progress blocks go to
// opts.ProgressHandler; other stderr lines go to opts.LogHandler and are kept
// for error messages. The caller must read stdout to EOF or cancel ctx, then
// call wait.
func (e *Executor) start(ctx context.Context, opts RunOptions) (*process, error) {
	if len(opts.Args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	// Build args with threads BEFORE other arguments
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	if e.threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", e.threads))
	}

	args = append(args, "-progress", "pipe:2")
	args = append(args, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &process{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  &tailBuffer{limit: stderrTail},
		drained: make(chan struct{}),
	}

	// Stream stderr (progress + logs)
	go func() {
		defer close(p.drained)
		e.streamOutput(stderr, opts.ProgressHandler, func(line string) {
			if isProgressLine(line) {
				return
			}
			p.stderr.Write([]byte(line + "\n"))
			if opts.LogHandler != nil {
				opts.LogHandler(line)
			}
		})
		// the scanner stops on overlong lines; keep ffmpeg from blocking
		_, _ = io.Copy(io.Discard, stderr)
	}()

	return p, nil
}

// wait reaps the process. Its error carries the tail of ffmpeg's log output.
func (p *process) wait() error {
	<-p.drained
	if err := p.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(p.stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg execution failed: %w", err)
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, msg)
	}
	return nil
}

// isProgressLine matches the key=value lines written by -progress
func isProgressLine(line string) bool {
	key, _, ok := strings.Cut(line, "=")
	if !ok || key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		if logHandler != nil {
			logHandler(line)
		}

		// Parse progress lines
		if strings.HasPrefix(line, "frame=") {
			fmt.Sscanf(line, "frame=%d", &progressData.Frame)
		} else if strings.HasPrefix(line, "fps=") {
			fmt.Sscanf(line, "fps=%f", &progressData.FPS)
		} else if strings.HasPrefix(line, "speed=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				progressData.Speed = strings.TrimSpace(parts[1])
			}
		} else if strings.HasPrefix(line, "progress=") {
			// End of progress block
			if progressHandler != nil && progressData.Frame > 0 {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}
