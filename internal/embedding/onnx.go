package embedding

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions describes an image encoder exported to ONNX. The model takes
// float32[batch, 3, InputSize, InputSize] and returns float32[batch, Dim].
type ONNXOptions struct {
	ModelPath         string
	SharedLibraryPath string
	InputName         string
	OutputName        string
	InputSize         int
	Dim               int
	BatchSize         int
}

// Per-channel normalisation applied to pixel values in [0, 1].
var (
	pixelMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	pixelStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ONNXEmbedder runs frames through an image encoder model in batches.
type ONNXEmbedder struct {
	logger  zerolog.Logger
	opts    ONNXOptions
	session *ort.DynamicAdvancedSession
}

// NewONNXEmbedder initializes the ONNX runtime and loads the model.
func NewONNXEmbedder(logger zerolog.Logger, opts ONNXOptions) (*ONNXEmbedder, error) {
	if _, err := os.Stat(opts.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", opts.ModelPath)
	}
	if opts.InputSize <= 0 || opts.Dim <= 0 {
		return nil, fmt.Errorf("invalid model geometry: input %d, dim %d", opts.InputSize, opts.Dim)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	sess, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		nil,
	)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create encoder session: %w", err)
	}

	logger.Info().
		Str("model", opts.ModelPath).
		Str("input", opts.InputName).
		Str("output", opts.OutputName).
		Int("dim", opts.Dim).
		Msg("encoder model loaded")

	return &ONNXEmbedder{
		logger:  logger.With().Str("embedder", "onnx").Logger(),
		opts:    opts,
		session: sess,
	}, nil
}

// Embed runs the model over frames, BatchSize frames per inference call.
func (e *ONNXEmbedder) Embed(ctx context.Context, frames []image.Image) ([][]float64, error) {
	out := make([][]float64, 0, len(frames))
	for start := 0; start < len(frames); start += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.opts.BatchSize, len(frames))
		vecs, err := e.runBatch(frames[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}

	e.logger.Debug().
		Int("frames", len(frames)).
		Int("batch_size", e.opts.BatchSize).
		Msg("onnx embedding complete")
	return out, nil
}

func (e *ONNXEmbedder) runBatch(batch []image.Image) ([][]float64, error) {
	n := len(batch)
	size := e.opts.InputSize
	plane := 3 * size * size

	data := make([]float32, n*plane)
	for i, frame := range batch {
		pixelValues(frame, size, data[i*plane:(i+1)*plane])
	}

	input, err := ort.NewTensor(ort.NewShape(int64(n), 3, int64(size), int64(size)), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(e.opts.Dim)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("encoder inference failed: %w", err)
	}

	raw := output.GetData()
	if len(raw) != n*e.opts.Dim {
		return nil, fmt.Errorf("unexpected output length %d, want %d", len(raw), n*e.opts.Dim)
	}

	vecs := make([][]float64, n)
	for i := range vecs {
		v := make([]float64, e.opts.Dim)
		for j := range v {
			v[j] = float64(raw[i*e.opts.Dim+j])
		}
		vecs[i] = v
	}
	return vecs, nil
}

// pixelValues writes frame as normalised CHW float32 into dst, which must
// hold 3*size*size values.
func pixelValues(frame image.Image, size int, dst []float32) {
	resized := resize.Resize(uint(size), uint(size), frame, resize.Bilinear)
	bounds := resized.Bounds()
	area := size * size

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			dst[idx] = (float32(r>>8)/255.0 - pixelMean[0]) / pixelStd[0]
			dst[area+idx] = (float32(g>>8)/255.0 - pixelMean[1]) / pixelStd[1]
			dst[2*area+idx] = (float32(b>>8)/255.0 - pixelMean[2]) / pixelStd[2]
			idx++
		}
	}
}

// Close releases the session and the ONNX environment.
func (e *ONNXEmbedder) Close() error {
	e.logger.Info().Msg("closing encoder session")
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return err
		}
	}
	return ort.DestroyEnvironment()
}
