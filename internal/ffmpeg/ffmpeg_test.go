package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestResults stores results from all tests for final summary
type TestResults struct {
	ExecutorPath  string
	ProbeResults  *VideoInfo
	FramesDecoded int
	DecodeTime    time.Duration
	Errors        []string
}

var globalResults = &TestResults{
	Errors: make([]string, 0),
}

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

// makeTestVideo renders a synthetic clip with lavfi into a temp dir
func makeTestVideo(t *testing.T, name, source string, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	args := append([]string{"-f", "lavfi", "-i", source}, extra...)
	args = append(args, path)

	var frames int
	err := runFFmpeg(newTestExecutor(t), RunOptions{
		Args:            args,
		ProgressHandler: func(p *Progress) { frames = p.Frame },
	})
	if err != nil {
		t.Skipf("could not generate test video: %v", err)
	}
	t.Logf("generated %s (%d frames)", name, frames)
	return path
}

// runFFmpeg runs a command that writes no output to stdout
func runFFmpeg(e *Executor, opts RunOptions) error {
	p, err := e.start(context.Background(), opts)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, p.stdout)
	return p.wait()
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	logger := zerolog.New(os.Stderr)
	e, err := New(logger, Options{Threads: 2})
	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("Executor creation failed: %v", err))
		t.Fatalf("failed to create executor: %v", err)
	}
	return e
}

func TestExecutorCreation(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newTestExecutor(t)
	if e.ffmpegPath == "" {
		t.Error("ffmpeg path is empty")
	}
	if e.ffprobePath == "" {
		t.Error("ffprobe path is empty")
	}

	globalResults.ExecutorPath = e.ffmpegPath
	t.Logf("ffmpeg: %s", e.ffmpegPath)
	t.Logf("ffprobe: %s", e.ffprobePath)
}

func TestExecutorMissingBinary(t *testing.T) {
	_, err := New(zerolog.Nop(), Options{FFmpegPath: "/nonexistent/ffmpeg"})
	if err == nil {
		t.Fatal("expected error for missing ffmpeg binary")
	}
	if !strings.Contains(err.Error(), "ffmpeg not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	args := strings.Join(decodeArgs("in.mp4"), " ")

	for _, want := range []string{"-i in.mp4", "-f rawvideo", "-pix_fmt rgb24", "-vsync passthrough"} {
		if !strings.Contains(args, want) {
			t.Errorf("expected %q in %q", want, args)
		}
	}
	if !strings.HasSuffix(args, "pipe:") {
		t.Errorf("expected args to end with pipe:, got %q", args)
	}
}

func TestProbeVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := makeTestVideo(t, "probe.mp4", "testsrc=duration=2:size=320x240:rate=30", "-pix_fmt", "yuv420p")
	e := newTestExecutor(t)

	info, err := e.ProbeVideo(context.Background(), path)
	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("ProbeVideo failed: %v", err))
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	globalResults.ProbeResults = info

	if info.Width != 320 {
		t.Errorf("expected width 320, got %d", info.Width)
	}
	if info.Height != 240 {
		t.Errorf("expected height 240, got %d", info.Height)
	}
	if info.FrameCount != 60 {
		t.Errorf("expected 60 frames, got %d", info.FrameCount)
	}
	if info.Duration == 0 {
		t.Error("duration is zero")
	}

	t.Logf("Video info: %dx%d, %.2f fps, %d frames, duration: %v",
		info.Width, info.Height, info.FPS, info.FrameCount, info.Duration)
}

func TestProbeVideoEstimatesFrameCount(t *testing.T) {
	skipIfNoFFmpeg(t)

	// Matroska does not record per-stream frame counts
	path := makeTestVideo(t, "probe.mkv", "testsrc=duration=2:size=160x120:rate=25")
	e := newTestExecutor(t)

	info, err := e.ProbeVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	if info.FrameCount < 49 || info.FrameCount > 51 {
		t.Errorf("expected about 50 estimated frames, got %d", info.FrameCount)
	}
}

func TestProbeVideoInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.ProbeVideo(ctx, "nonexistent.mp4")
	if err == nil {
		t.Error("ProbeVideo should fail for non-existent file")
	}
	t.Logf("Error (expected): %v", err)

	invalidPath := filepath.Join(t.TempDir(), "invalid.mp4")
	os.WriteFile(invalidPath, []byte("not a video"), 0644)

	_, err = e.ProbeVideo(ctx, invalidPath)
	if err == nil {
		t.Error("ProbeVideo should fail for invalid video file")
	}
	t.Logf("Error (expected): %v", err)
}

func TestProbeAudioOnly(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := makeTestVideo(t, "tone.wav", "sine=frequency=1000:duration=1")
	e := newTestExecutor(t)

	_, err := e.ProbeVideo(context.Background(), path)
	if !errors.Is(err, ErrNoVideoStream) {
		t.Errorf("expected ErrNoVideoStream, got %v", err)
	}
}

func TestOpenVideoDecodesAllFrames(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := makeTestVideo(t, "decode.mp4", "testsrc=duration=1:size=64x48:rate=20", "-pix_fmt", "yuv420p")
	e := newTestExecutor(t)

	start := time.Now()
	v, err := e.OpenVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}
	defer v.Close()

	if v.FrameCount() != 20 {
		t.Errorf("expected frame count 20, got %d", v.FrameCount())
	}

	decoded := 0
	for i := 0; ; i++ {
		var err error
		if i%2 == 1 {
			err = v.Skip()
		} else {
			frame, ferr := v.Next()
			err = ferr
			if ferr == nil {
				if frame.Index != i {
					t.Errorf("frame %d has index %d", i, frame.Index)
				}
				if verr := frame.Validate(); verr != nil {
					t.Errorf("frame %d invalid: %v", i, verr)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode failed at %d: %v", i, err)
		}
		decoded++
	}

	globalResults.FramesDecoded = decoded
	globalResults.DecodeTime = time.Since(start)

	if decoded != 20 {
		t.Errorf("expected 20 frames, got %d", decoded)
	}

	// Exhausted videos keep reporting EOF
	if _, err := v.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after end, got %v", err)
	}
}

func TestOpenVideoCloseEarly(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := makeTestVideo(t, "early.mp4", "testsrc=duration=3:size=320x240:rate=30", "-pix_fmt", "yuv420p")
	e := newTestExecutor(t)

	v, err := e.OpenVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}
	if _, err := v.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := v.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
}

func TestOpenVideoInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	invalidPath := filepath.Join(t.TempDir(), "broken.mp4")
	os.WriteFile(invalidPath, []byte("definitely not an mp4"), 0644)

	e := newTestExecutor(t)
	if _, err := e.OpenVideo(context.Background(), invalidPath); err == nil {
		t.Error("OpenVideo should fail for invalid video file")
	}
}

func TestStartRejectsEmptyArgs(t *testing.T) {
	e := &Executor{logger: zerolog.Nop(), ffmpegPath: "ffmpeg"}
	if _, err := e.start(context.Background(), RunOptions{}); err == nil {
		t.Error("expected error for empty args")
	}
}

func TestStartReportsProgressAndErrors(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newTestExecutor(t)

	var last Progress
	err := runFFmpeg(e, RunOptions{
		Args:            []string{"-f", "lavfi", "-i", "testsrc=duration=1:size=64x48:rate=20", "-f", "null", "-"},
		ProgressHandler: func(p *Progress) { last = *p },
	})
	if err != nil {
		t.Fatalf("ffmpeg failed: %v", err)
	}
	if last.Frame != 20 {
		t.Errorf("expected final progress at frame 20, got %+v", last)
	}

	var logged []string
	err = runFFmpeg(e, RunOptions{
		Args:       []string{"-i", filepath.Join(t.TempDir(), "missing.mp4"), "-f", "null", "-"},
		LogHandler: func(line string) { logged = append(logged, line) },
	})
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !strings.Contains(err.Error(), "missing.mp4") {
		t.Errorf("expected ffmpeg's message in error, got %v", err)
	}
	for _, line := range logged {
		if isProgressLine(line) {
			t.Errorf("progress line passed to log handler: %q", line)
		}
	}
}

func TestIsProgressLine(t *testing.T) {
	cases := map[string]bool{
		"frame=12":                                true,
		"out_time_us=400000":                      true,
		"progress=end":                            true,
		"stream_0_0_q=-0.0":                       true,
		"[mov,mp4 @ 0x1] moov atom not found":     false,
		"/tmp/a=b.mp4: No such file or directory": false,
		"Conversion failed!":                      false,
		"=oops":                                   false,
	}
	for line, want := range cases {
		if got := isProgressLine(line); got != want {
			t.Errorf("isProgressLine(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestOpenVideoLogsDecodeProgress(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := makeTestVideo(t, "progress.mp4", "testsrc=duration=1:size=64x48:rate=20", "-pix_fmt", "yuv420p")

	var buf bytes.Buffer
	e, err := New(zerolog.New(&buf).Level(zerolog.DebugLevel), Options{})
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}

	v, err := e.OpenVideo(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}
	for {
		if _, err := v.Next(); err != nil {
			if err != io.EOF {
				t.Fatalf("decode failed: %v", err)
			}
			break
		}
	}
	v.Close()

	if !strings.Contains(buf.String(), `"message":"decode progress"`) {
		t.Errorf("expected decode progress in debug log, got: %s", buf.String())
	}
}

func TestStreamOutputParsesProgress(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := "frame=12\nfps=24.5\nspeed=1.5x\nprogress=continue\nframe=0\nprogress=end\n"

	var got []Progress
	var lines int
	e.streamOutput(strings.NewReader(input), func(p *Progress) {
		got = append(got, *p)
	}, func(string) { lines++ })

	if lines != 6 {
		t.Errorf("expected 6 log lines, got %d", lines)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 progress update, got %d", len(got))
	}
	if got[0].Frame != 12 || got[0].FPS != 24.5 || got[0].Speed != "1.5x" {
		t.Errorf("unexpected progress: %+v", got[0])
	}
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	tb.Write([]byte("abc"))
	tb.Write([]byte("defg"))
	if got := tb.String(); got != "defg" {
		t.Errorf("expected defg, got %q", got)
	}
}

// TestMain runs after all tests and prints summary
func TestMain(m *testing.M) {
	code := m.Run()

	// Print summary
	printTestSummary()

	os.Exit(code)
}

func printTestSummary() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🎬 TEST SUMMARY - FFmpeg Layer")
	fmt.Println(strings.Repeat("=", 80))

	if globalResults.ExecutorPath != "" {
		fmt.Printf("\n✓ FFmpeg Binary: %s\n", globalResults.ExecutorPath)
	}

	if globalResults.ProbeResults != nil {
		fmt.Println("\n📹 VIDEO PROBE RESULTS:")
		fmt.Printf("  Resolution:    %dx%d @ %.2f fps\n",
			globalResults.ProbeResults.Width,
			globalResults.ProbeResults.Height,
			globalResults.ProbeResults.FPS)
		fmt.Printf("  Frames:        %d\n", globalResults.ProbeResults.FrameCount)
		fmt.Printf("  Duration:      %v\n", globalResults.ProbeResults.Duration)
		fmt.Printf("  Video Codec:   %s\n", globalResults.ProbeResults.VideoCodec)
	}

	if globalResults.FramesDecoded > 0 {
		fmt.Println("\n🎞️  DECODE RESULTS:")
		fmt.Printf("  Frames:        %d in %v\n", globalResults.FramesDecoded, globalResults.DecodeTime)
	}

	if len(globalResults.Errors) > 0 {
		fmt.Println("\n❌ ERRORS ENCOUNTERED:")
		for i, err := range globalResults.Errors {
			fmt.Printf("  %d. %s\n", i+1, err)
		}
	} else {
		fmt.Println("\n✅ ALL TESTS PASSED - No critical errors")
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}
