package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/keagan/thumbpick/internal/ai"
	"github.com/keagan/thumbpick/internal/ai/aitest"
	"github.com/keagan/thumbpick/internal/imgproc"
	"github.com/keagan/thumbpick/internal/pipeline"
	"github.com/keagan/thumbpick/internal/pipeline/pipelinetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clipPath = "clip.mp4"

func newPipeline(t *testing.T, src pipeline.VideoSource, emotions *aitest.EmotionDetector, faces *aitest.FaceDetector, mutate func(*pipeline.Config)) *pipeline.Pipeline {
	t.Helper()

	if emotions == nil {
		emotions = &aitest.EmotionDetector{}
	}
	if faces == nil {
		faces = &aitest.FaceDetector{}
	}

	cfg := pipeline.DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "thumbnails")
	if mutate != nil {
		mutate(&cfg)
	}

	scorer := ai.NewWeightedScorer(zerolog.Nop(), emotions, faces, ai.DefaultScorerConfig())
	p, err := pipeline.New(zerolog.Nop(), cfg, src, scorer)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func singleClip(clip *pipelinetest.Clip) *pipelinetest.Source {
	return &pipelinetest.Source{Clips: map[string]*pipelinetest.Clip{clipPath: clip}}
}

func frameIndices(res *pipeline.Result) []int {
	out := make([]int, len(res.Thumbnails))
	for i, th := range res.Thumbnails {
		out[i] = th.Frame
	}
	return out
}

// scriptedDetectors gives frame i a happy probability of ((7i) mod 20)/20 and a
// face on every third frame.
func scriptedDetectors(n int) (*aitest.EmotionDetector, *aitest.FaceDetector) {
	emotions := &aitest.EmotionDetector{Emotions: map[int][]map[string]float64{}}
	faces := &aitest.FaceDetector{Faces: map[int]int{}}
	for i := 0; i < n; i++ {
		emotions.Emotions[i] = []map[string]float64{{"happy": float64((i*7)%20) / 20}}
		if i%3 == 0 {
			faces.Faces[i] = 1
		}
	}
	return emotions, faces
}

func TestStep(t *testing.T) {
	cases := []struct {
		frames, density, want int
	}{
		{0, 200, 1},
		{1, 200, 1},
		{199, 200, 1},
		{200, 200, 1},
		{399, 200, 1},
		{400, 200, 2},
		{1000, 200, 5},
		{1000, 0, 5},
		{-5, 200, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, pipeline.Step(c.frames, c.density), "frames=%d density=%d", c.frames, c.density)
	}
}

func TestExtractStaticVideoKeepsOneFrame(t *testing.T) {
	// 10 seconds at 30 fps of one flat color
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Solid(300, 16, 16, 40, 120, 200)})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.Empty(t, res.Message())

	require.Len(t, res.ThumbnailPaths, 1)
	assert.Equal(t, filepath.Join(p.Config().OutputDir, "thumbnail_1.jpg"), res.ThumbnailPaths[0])
	assert.FileExists(t, res.ThumbnailPaths[0])
	assert.Equal(t, []int{0}, frameIndices(res))

	assert.Equal(t, 1, res.Stats.Step)
	assert.Equal(t, 300, res.Stats.Sampled)
	assert.Equal(t, 1, res.Stats.Accepted)
	assert.Equal(t, 299, res.Stats.Rejected)
}

func TestExtractUnopenableVideo(t *testing.T) {
	src := &pipelinetest.Source{}
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), "corrupt.mp4")
	assert.ErrorIs(t, res.Err, pipeline.ErrVideoOpen)
	assert.Equal(t, "Could not open video", res.Message())
	assert.Empty(t, res.ThumbnailPaths)
	assert.Empty(t, res.Thumbnails)
}

func TestExtractDecodeFailureBeforeFirstFrame(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{
		Frames:    pipelinetest.Distinct(10, 8, 8),
		DecodeErr: pipelinetest.ErrDecode,
		FailAt:    0,
	})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	assert.ErrorIs(t, res.Err, pipeline.ErrVideoOpen)
	assert.Equal(t, src.Opened, src.Closed)
}

func TestExtractDecodeFailureMidStreamKeepsFrames(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{
		Frames:    pipelinetest.Distinct(10, 8, 8),
		DecodeErr: pipelinetest.ErrDecode,
		FailAt:    3,
	})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.Len(t, res.ThumbnailPaths, 3)
	assert.Equal(t, 3, res.Stats.Sampled)
}

func TestExtractEmptyVideo(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	assert.ErrorIs(t, res.Err, pipeline.ErrNoFramesExtracted)
	assert.Equal(t, "No frames extracted", res.Message())
	assert.Empty(t, res.ThumbnailPaths)
}

func TestExtractRanksDistinctFrames(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(20, 8, 8)})
	emotions, faces := scriptedDetectors(20)
	p := newPipeline(t, src, emotions, faces, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.Equal(t, 20, res.Stats.Accepted)

	require.Len(t, res.ThumbnailPaths, 5)
	for i, path := range res.ThumbnailPaths {
		assert.Equal(t, filepath.Join(p.Config().OutputDir, "thumbnail_"+string(rune('1'+i))+".jpg"), path)
		assert.FileExists(t, path)
	}

	assert.Equal(t, []int{17, 14, 11, 8, 5}, frameIndices(res))
	for i := 1; i < len(res.Thumbnails); i++ {
		assert.GreaterOrEqual(t, res.Thumbnails[i-1].Score.Total, res.Thumbnails[i].Score.Total)
		assert.Equal(t, i+1, res.Thumbnails[i].Rank)
	}
	assert.InDelta(t, 0.475, res.Thumbnails[0].Score.Total, 1e-12)
}

func TestExtractThumbnailContent(t *testing.T) {
	frames := pipelinetest.Solid(1, 32, 24, 224, 32, 96)
	src := singleClip(&pipelinetest.Clip{Frames: frames})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)

	img, err := imaging.Open(res.ThumbnailPaths[0])
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())

	r, g, b, _ := img.At(16, 12).RGBA()
	assert.InDelta(t, 224, r>>8, 6)
	assert.InDelta(t, 32, g>>8, 6)
	assert.InDelta(t, 96, b>>8, 6)
}

func TestExtractIsDeterministicAcrossWorkers(t *testing.T) {
	var runs [][]int
	for _, workers := range []int{1, 4, 16} {
		src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(20, 8, 8)})
		emotions, faces := scriptedDetectors(20)
		p := newPipeline(t, src, emotions, faces, func(c *pipeline.Config) {
			c.Workers = workers
		})

		res := p.Extract(context.Background(), clipPath)
		require.NoError(t, res.Err)
		runs = append(runs, frameIndices(res))
	}

	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[0], runs[2])
}

func TestExtractRerunGivesSameRanking(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(20, 8, 8)})
	emotions, faces := scriptedDetectors(20)
	p := newPipeline(t, src, emotions, faces, nil)

	first := p.Extract(context.Background(), clipPath)
	require.NoError(t, first.Err)
	second := p.Extract(context.Background(), clipPath)
	require.NoError(t, second.Err)

	assert.Equal(t, first.ThumbnailPaths, second.ThumbnailPaths)
	assert.Equal(t, frameIndices(first), frameIndices(second))
}

func TestExtractFewerFramesThanK(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(3, 8, 8)})
	p := newPipeline(t, src, nil, nil, func(c *pipeline.Config) {
		c.TopK = 5
	})

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.Len(t, res.ThumbnailPaths, 3)
	// All scores tie at 0, so sample order decides
	assert.Equal(t, []int{0, 1, 2}, frameIndices(res))
}

func TestExtractSamplesEveryStepFrame(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(1000, 4, 4)})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)

	assert.Equal(t, 5, res.Stats.Step)
	assert.Equal(t, 200, res.Stats.Sampled)
	assert.Equal(t, 200, src.Decoded)
	assert.Equal(t, 800, src.Skipped)
	for _, idx := range frameIndices(res) {
		assert.Zero(t, idx%5, "frame %d is not on the sampling grid", idx)
	}
	assert.Equal(t, []int{0, 5, 10, 15, 20}, frameIndices(res))
}

func TestExtractUnknownFrameCountVisitsEveryFrame(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(450, 4, 4), FrameCount: -1})
	p := newPipeline(t, src, nil, nil, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Stats.Step)
	assert.Equal(t, 450, res.Stats.Sampled)
	assert.Zero(t, src.Skipped)
}

// gradient returns a 10x10 frame with n blue pixels and the rest black
func gradient(n int) *imgproc.Frame {
	f := imgproc.NewFrame(10, 10)
	for i := 0; i < n; i++ {
		f.Set(i%10, i/10, 0, 0, 224)
	}
	return f
}

func TestExtractComparesAgainstLastAcceptedFrame(t *testing.T) {
	// Neighbouring frames always correlate above the threshold, so only the
	// drift from the last accepted frame can let new frames through.
	var frames []*imgproc.Frame
	for n := 0; n <= 100; n += 10 {
		frames = append(frames, gradient(n))
	}
	src := singleClip(&pipelinetest.Clip{Frames: frames})
	p := newPipeline(t, src, nil, nil, func(c *pipeline.Config) {
		c.TopK = 10
	})

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Stats.Accepted)
	assert.Equal(t, 8, res.Stats.Rejected)
	// thumbnails are in rank order, so only the set is fixed here
	assert.ElementsMatch(t, []int{0, 4, 7}, frameIndices(res))
}

func TestExtractDegradesDetectorFailures(t *testing.T) {
	boom := errors.New("inference crashed")
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(4, 8, 8)})
	emotions := &aitest.EmotionDetector{
		Emotions: map[int][]map[string]float64{2: {{"happy": 0.9}}},
		Errors:   map[int]error{1: boom},
	}
	faces := &aitest.FaceDetector{Errors: map[int]error{1: boom, 3: boom}}
	p := newPipeline(t, src, emotions, faces, nil)

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Stats.DetectorFailures)
	assert.Len(t, res.ThumbnailPaths, 4)
	assert.Equal(t, 2, res.Thumbnails[0].Frame)
}

func TestExtractResetsOutputDir(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Solid(2, 8, 8, 1, 2, 3)})
	p := newPipeline(t, src, nil, nil, nil)

	dir := p.Config().OutputDir
	require.NoError(t, os.MkdirAll(dir, 0755))
	stale := filepath.Join(dir, "thumbnail_4.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	res := p.Extract(context.Background(), clipPath)
	require.NoError(t, res.Err)
	assert.NoFileExists(t, stale)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtractResetsOutputDirOnFailure(t *testing.T) {
	src := &pipelinetest.Source{}
	p := newPipeline(t, src, nil, nil, nil)

	dir := p.Config().OutputDir
	require.NoError(t, os.MkdirAll(dir, 0755))
	stale := filepath.Join(dir, "thumbnail_1.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	res := p.Extract(context.Background(), "missing.mp4")
	require.Error(t, res.Err)
	assert.NoFileExists(t, stale)
	assert.DirExists(t, dir)
}

func TestExtractOutputWriteError(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(3, 8, 8)})
	p := newPipeline(t, src, nil, nil, func(c *pipeline.Config) {
		c.ThumbnailExtension = ".unsupported"
	})

	res := p.Extract(context.Background(), clipPath)
	require.Error(t, res.Err)

	var werr *pipeline.OutputWriteError
	require.ErrorAs(t, res.Err, &werr)
	assert.Empty(t, werr.Written)
	assert.Equal(t, filepath.Join(p.Config().OutputDir, "thumbnail_1.unsupported"), werr.Path)
	assert.Empty(t, res.ThumbnailPaths)
}

func TestExtractCancelled(t *testing.T) {
	src := singleClip(&pipelinetest.Clip{Frames: pipelinetest.Distinct(5, 8, 8)})
	p := newPipeline(t, src, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Extract(ctx, clipPath)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.ThumbnailPaths)
	assert.Equal(t, src.Opened, src.Closed)
}

func TestNewRequiresScorer(t *testing.T) {
	_, err := pipeline.New(zerolog.Nop(), pipeline.DefaultConfig(), &pipelinetest.Source{}, nil)
	assert.ErrorIs(t, err, pipeline.ErrModelsNotLoaded)
}

func TestCloseClosesDetectors(t *testing.T) {
	emotions := &aitest.EmotionDetector{}
	faces := &aitest.FaceDetector{}
	scorer := ai.NewWeightedScorer(zerolog.Nop(), emotions, faces, ai.DefaultScorerConfig())

	p, err := pipeline.New(zerolog.Nop(), pipeline.DefaultConfig(), &pipelinetest.Source{}, scorer)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.True(t, emotions.Closed)
	assert.True(t, faces.Closed)
}
