package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"os"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// FrameDecoder decodes every frame of a video into fixed-shape RGB images by
// piping ffmpeg's rawvideo output.
type FrameDecoder struct {
	exec   *Executor
	width  int
	height int
}

// NewFrameDecoder returns a decoder producing width x height frames.
func NewFrameDecoder(exec *Executor, width, height int) (*FrameDecoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &FrameDecoder{exec: exec, width: width, height: height}, nil
}

// DecodeArgs returns the ffmpeg arguments that write input as packed rgb24
// frames to stdout.
func (d *FrameDecoder) DecodeArgs(input string) []string {
	filter := NewFilterBuilder().Scale(d.width, d.height).SquarePixels().Build()
	return ffmpeggo.Input(input).
		Output("pipe:", ffmpeggo.KwArgs{
			"map":     "0:v:0",
			"vf":      filter,
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
		}).
		GetArgs()
}

// Decode returns the frames of input in presentation order.
func (d *FrameDecoder) Decode(ctx context.Context, input string) ([]image.Image, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("video file: %w", err)
	}

	collector := newFrameCollector(d.width, d.height)
	opts := RunOptions{
		Args:   d.DecodeArgs(input),
		Stdout: collector,
		ProgressHandler: func(p *Progress) {
			d.exec.logger.Debug().
				Int("frame", p.Frame).
				Float64("fps", p.FPS).
				Str("speed", p.Speed).
				Msg("decoding")
		},
	}

	if err := d.exec.Run(ctx, opts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", input, err)
	}
	if collector.pending() != 0 {
		return nil, fmt.Errorf("decode %s: truncated frame (%d trailing bytes)", input, collector.pending())
	}
	if len(collector.frames) == 0 {
		return nil, fmt.Errorf("decode %s: no frames", input)
	}

	d.exec.logger.Info().
		Str("input", input).
		Int("frames", len(collector.frames)).
		Int("width", d.width).
		Int("height", d.height).
		Msg("frames decoded")

	return collector.frames, nil
}

// FrameRate reports the average frame rate of the first video stream.
func (d *FrameDecoder) FrameRate(ctx context.Context, input string) (float64, error) {
	info, err := d.exec.ProbeVideo(ctx, input)
	if err != nil {
		return 0, err
	}
	return info.FPS, nil
}

// frameCollector turns a packed rgb24 byte stream into RGBA images.
type frameCollector struct {
	width, height int
	buf           []byte
	n             int
	frames        []image.Image
}

func newFrameCollector(width, height int) *frameCollector {
	return &frameCollector{
		width:  width,
		height: height,
		buf:    make([]byte, width*height*3),
	}
}

func (c *frameCollector) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		m := copy(c.buf[c.n:], p)
		c.n += m
		p = p[m:]
		if c.n == len(c.buf) {
			c.frames = append(c.frames, c.toRGBA())
			c.n = 0
		}
	}
	return written, nil
}

func (c *frameCollector) pending() int { return c.n }

func (c *frameCollector) toRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	for src, dst := 0, 0; src < len(c.buf); src, dst = src+3, dst+4 {
		img.Pix[dst] = c.buf[src]
		img.Pix[dst+1] = c.buf[src+1]
		img.Pix[dst+2] = c.buf[src+2]
		img.Pix[dst+3] = 0xff
	}
	return img
}
