package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session runs a forward pass for a single preprocessed image.
type Session interface {
	// Run takes an NHWC [1,H,W,3] input and returns the raw output scores.
	Run(input []float32) ([]float32, error)
	Close() error
}

// SessionLoader creates a session for cfg from the weights at path.
type SessionLoader func(ctx context.Context, cfg ModelConfig, path string) (Session, error)

// ONNXRuntime owns the process-wide ONNX Runtime environment.
type ONNXRuntime struct {
	libPath string

	mu      sync.Mutex
	started bool
}

// NewONNXRuntime prepares a runtime backed by the shared library at libPath.
// An empty path lets onnxruntime_go use its platform default.
func NewONNXRuntime(libPath string) *ONNXRuntime {
	return &ONNXRuntime{libPath: libPath}
}

func (r *ONNXRuntime) ensureStarted() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	if r.libPath != "" {
		ort.SetSharedLibraryPath(r.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	r.started = true
	return nil
}

// Load implements SessionLoader.
func (r *ONNXRuntime) Load(_ context.Context, cfg ModelConfig, path string) (Session, error) {
	if err := r.ensureStarted(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("%s: expected one input and at least one output, got %d/%d", path, len(inputs), len(outputs))
	}

	channelsFirst, err := inputLayout(inputs[0].Dimensions, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	h, w := int64(cfg.InputHeight), int64(cfg.InputWidth)
	inputShape := ort.NewShape(1, h, w, 3)
	if channelsFirst {
		inputShape = ort.NewShape(1, 3, h, w)
	}
	outputShape := concreteShape(outputs[0].Dimensions)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:       session,
		input:         inputTensor,
		output:        outputTensor,
		channelsFirst: channelsFirst,
		height:        cfg.InputHeight,
		width:         cfg.InputWidth,
	}, nil
}

// Close tears down the environment. Sessions must be closed first.
func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false
	return ort.DestroyEnvironment()
}

// inputLayout reports whether the network wants NCHW input. Dynamic
// dimensions (-1) are accepted; fixed ones must match the model config.
func inputLayout(dims ort.Shape, cfg ModelConfig) (bool, error) {
	if len(dims) != 4 {
		return false, fmt.Errorf("expected rank 4 input, got %v", dims)
	}
	matches := func(got int64, want int) bool { return got <= 0 || got == int64(want) }

	switch {
	case dims[3] == 3 && matches(dims[1], cfg.InputHeight) && matches(dims[2], cfg.InputWidth):
		return false, nil
	case dims[1] == 3 && matches(dims[2], cfg.InputHeight) && matches(dims[3], cfg.InputWidth):
		return true, nil
	}
	return false, fmt.Errorf("input shape %v does not fit %dx%d RGB", dims, cfg.InputWidth, cfg.InputHeight)
}

// concreteShape replaces dynamic dimensions with 1, the batch size we run.
func concreteShape(dims ort.Shape) ort.Shape {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return ort.NewShape(out...)
}

// onnxSession binds preallocated tensors to a session, so runs on the same
// session are serialized.
type onnxSession struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	input         *ort.Tensor[float32]
	output        *ort.Tensor[float32]
	channelsFirst bool
	height, width int
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, session expects %d", len(input), len(dst))
	}
	if s.channelsFirst {
		nhwcToNCHW(input, dst, s.height, s.width)
	} else {
		copy(dst, input)
	}

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.output.GetData()
	return append([]float32(nil), out...), nil
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, destroy := range []func() error{s.session.Destroy, s.input.Destroy, s.output.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func nhwcToNCHW(src, dst []float32, h, w int) {
	plane := h * w
	for i := 0; i < plane; i++ {
		dst[i] = src[i*3]
		dst[plane+i] = src[i*3+1]
		dst[2*plane+i] = src[i*3+2]
	}
}
