package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// generateTestVideo renders a synthetic clip with ffmpeg's testsrc.
func generateTestVideo(t *testing.T, seconds, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testsrc.mp4")
	cmd := exec.Command("ffmpeg", "-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=duration=%d:size=320x240:rate=%d", seconds, rate),
		"-pix_fmt", "yuv420p", "-y", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not generate test video: %v\n%s", err, out)
	}
	return path
}

func TestExecutorCreation(t *testing.T) {
	skipIfNoFFmpeg(t)

	logger := zerolog.New(os.Stderr)
	exec, err := New(logger, "ffmpeg", 4)
	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("Executor creation failed: %v", err))
		t.Fatalf("failed to create executor: %v", err)
	}
	if exec.ffmpegPath == "" {
		t.Error("ffmpeg path is empty")
	}
	if exec.ffprobePath == "" {
		t.Error("ffprobe path is empty")
	}

	globalResults.ExecutorPath = exec.ffmpegPath
	t.Logf("ffmpeg: %s", exec.ffmpegPath)
	t.Logf("ffprobe: %s", exec.ffprobePath)
}

func TestExecutorCreationUnknownBinary(t *testing.T) {
	_, err := New(zerolog.Nop(), "definitely-not-ffmpeg-binary", 0)
	assert.Error(t, err)
}

func TestProbeVideo(t *testing.T) {
	skipIfNoFFmpeg(t)
	testVideoPath := generateTestVideo(t, 1, 25)

	exec, err := New(zerolog.New(os.Stderr), "ffmpeg", 2)
	require.NoError(t, err)

	info, err := exec.ProbeVideo(context.Background(), testVideoPath)
	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("ProbeVideo failed: %v", err))
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	globalResults.ProbeResults = info

	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.InDelta(t, 25.0, info.FPS, 0.01)
	assert.NotZero(t, info.Duration)
}

func TestProbeVideoInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	exec, err := New(zerolog.New(os.Stderr), "ffmpeg", 2)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = exec.ProbeVideo(ctx, "nonexistent.mp4")
	assert.Error(t, err, "ProbeVideo should fail for non-existent file")

	invalidPath := filepath.Join(t.TempDir(), "invalid.txt")
	require.NoError(t, os.WriteFile(invalidPath, []byte("not a video"), 0644))
	_, err = exec.ProbeVideo(ctx, invalidPath)
	assert.Error(t, err, "ProbeVideo should fail for invalid video file")
}

func TestDecodeFrames(t *testing.T) {
	skipIfNoFFmpeg(t)
	testVideoPath := generateTestVideo(t, 1, 10)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	exec, err := New(logger, "ffmpeg", 2)
	require.NoError(t, err)

	dec, err := NewFrameDecoder(exec, 64, 48)
	require.NoError(t, err)

	start := time.Now()
	frames, err := dec.Decode(context.Background(), testVideoPath)
	globalResults.DecodeTime = time.Since(start)
	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("Decode failed: %v", err))
		t.Fatalf("Decode failed: %v", err)
	}
	globalResults.FramesDecoded = len(frames)

	assert.Equal(t, 10, len(frames))
	for i, f := range frames {
		assert.Equal(t, image.Rect(0, 0, 64, 48), f.Bounds(), "frame %d", i)
	}

	fps, err := dec.FrameRate(context.Background(), testVideoPath)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fps, 0.01)
}

func TestDecodeMissingFile(t *testing.T) {
	dec, err := NewFrameDecoder(&Executor{logger: zerolog.Nop()}, 8, 8)
	require.NoError(t, err)

	_, err = dec.Decode(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(unwrapAll(err)))
}

func unwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok || u.Unwrap() == nil {
			return err
		}
		err = u.Unwrap()
	}
}

func TestNewFrameDecoderRejectsBadSize(t *testing.T) {
	_, err := NewFrameDecoder(nil, 0, 10)
	assert.Error(t, err)
}

func TestDecodeArgs(t *testing.T) {
	dec, err := NewFrameDecoder(nil, 360, 180)
	require.NoError(t, err)

	args := dec.DecodeArgs("in.mp4")
	joined := strings.Join(args, " ")

	assert.Equal(t, []string{"-i", "in.mp4"}, args[:2])
	assert.Equal(t, "pipe:", args[len(args)-1])
	assert.Contains(t, joined, "rawvideo")
	assert.Contains(t, joined, "rgb24")
	assert.Contains(t, joined, "scale=360:180,setsar=1")
	assert.Contains(t, joined, "0:v:0")
}

func TestFrameCollectorSplitsStream(t *testing.T) {
	c := newFrameCollector(2, 1)
	// two 2x1 frames, written in uneven chunks
	stream := []byte{
		10, 20, 30, 40, 50, 60,
		70, 80, 90, 100, 110, 120,
	}
	for _, chunk := range [][]byte{stream[:4], stream[4:5], stream[5:]} {
		n, err := c.Write(chunk)
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	require.Len(t, c.frames, 2)
	assert.Zero(t, c.pending())

	first := c.frames[0].(*image.RGBA)
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, first.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{40, 50, 60, 255}, first.RGBAAt(1, 0))
	second := c.frames[1].(*image.RGBA)
	assert.Equal(t, color.RGBA{100, 110, 120, 255}, second.RGBAAt(1, 0))
}

func TestFrameCollectorReportsPartialFrame(t *testing.T) {
	c := newFrameCollector(2, 2)
	_, err := c.Write(make([]byte, 5))
	require.NoError(t, err)
	assert.Empty(t, c.frames)
	assert.Equal(t, 5, c.pending())
}

func TestFilterBuilder(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Scale(1920, 1080).SquarePixels().Build()

	expected := "scale=1920:1080,setsar=1"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterBuilderEmpty(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Scale(0, 1080).Build()

	if filter != "" {
		t.Errorf("expected empty string, got %q", filter)
	}
}

func TestStreamOutputParsesProgress(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := strings.Join([]string{
		"frame=12",
		"fps=24.5",
		"out_time=00:00:00.480000",
		"speed=2.1x",
		"progress=continue",
		"frame=0",
		"progress=end",
	}, "\n")

	var got []Progress
	var lines int
	e.streamOutput(strings.NewReader(input),
		func(p *Progress) { got = append(got, *p) },
		func(string) { lines++ })

	require.Len(t, got, 1)
	assert.Equal(t, 12, got[0].Frame)
	assert.InDelta(t, 24.5, got[0].FPS, 1e-9)
	assert.Equal(t, "00:00:00.480000", got[0].Time)
	assert.Equal(t, "2.1x", got[0].Speed)
	assert.Equal(t, 7, lines)
}

// TestMain runs after all tests and prints summary
func TestMain(m *testing.M) {
	code := m.Run()

	if testing.Verbose() {
		printTestSummary()
	}

	os.Exit(code)
}

func printTestSummary() {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("TEST SUMMARY - FFmpeg Layer")
	fmt.Println(strings.Repeat("=", 60))

	if globalResults.ExecutorPath != "" {
		fmt.Printf("FFmpeg binary:  %s\n", globalResults.ExecutorPath)
	}
	if p := globalResults.ProbeResults; p != nil {
		fmt.Printf("Probe:          %dx%d @ %.2f fps, %v\n", p.Width, p.Height, p.FPS, p.Duration)
	}
	fmt.Printf("Frames decoded: %d in %v\n", globalResults.FramesDecoded, globalResults.DecodeTime)

	if len(globalResults.Errors) > 0 {
		fmt.Println("Errors:")
		for i, err := range globalResults.Errors {
			fmt.Printf("  %d. %s\n", i+1, err)
		}
	}
	fmt.Println(strings.Repeat("=", 60))
}
