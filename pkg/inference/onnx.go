package inference

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig describes a model artifact and how to call it.
type OnnxConfig struct {
	// ModelPath is the exported .onnx artifact.
	ModelPath string
	// SharedLibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	// OutputShape is the shape of the single output, batch dimension included.
	OutputShape []int64
}

// Env constants for model settings.
const (
	ModelPathEnv       = "MODEL_PATH"
	OnnxRuntimeLibEnv  = "ONNXRUNTIME_LIB"
	ModelInputNameEnv  = "MODEL_INPUT_NAME"
	ModelOutputNameEnv = "MODEL_OUTPUT_NAME"
	EmbeddingDimEnv    = "EMBEDDING_DIM"
)

// LoadOnnxConfigWithEnv returns a config for a model with outputs output values per
// image, overridden from the environment.
func LoadOnnxConfigWithEnv(outputs int64) *OnnxConfig {
	cfg := &OnnxConfig{
		ModelPath:   "model.onnx",
		InputName:   "input",
		OutputName:  "output",
		OutputShape: []int64{1, outputs},
	}
	if v := os.Getenv(ModelPathEnv); v != "" {
		cfg.ModelPath = v
	}
	if v := os.Getenv(OnnxRuntimeLibEnv); v != "" {
		cfg.SharedLibraryPath = v
	}
	if v := os.Getenv(ModelInputNameEnv); v != "" {
		cfg.InputName = v
	}
	if v := os.Getenv(ModelOutputNameEnv); v != "" {
		cfg.OutputName = v
	}
	return cfg
}

// EmbeddingDimFromEnv reads EMBEDDING_DIM, falling back to def.
func EmbeddingDimFromEnv(def int64) int64 {
	if v := os.Getenv(EmbeddingDimEnv); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if !ort.IsInitialized() {
			ortInitErr = ort.InitializeEnvironment()
		}
	})
	return ortInitErr
}

// OnnxEngine runs an ONNX model through onnxruntime.
type OnnxEngine struct {
	session     *ort.DynamicAdvancedSession
	outputShape ort.Shape
	logger      zerolog.Logger
}

// NewOnnxEngine loads the model once. The returned engine must be closed.
func NewOnnxEngine(cfg *OnnxConfig, logger zerolog.Logger) (*OnnxEngine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	if len(cfg.OutputShape) == 0 {
		return nil, fmt.Errorf("model output shape cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model artifact unavailable: %w", err)
	}
	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err)
	}
	l := logger.With().Str("component", "OnnxEngine").Str("model", cfg.ModelPath).Logger()
	l.Info().Ints64("output_shape", cfg.OutputShape).Msg("Model loaded.")
	return &OnnxEngine{
		session:     session,
		outputShape: ort.NewShape(cfg.OutputShape...),
		logger:      l,
	}, nil
}

// Run executes the model on a single input tensor.
func (e *OnnxEngine) Run(_ context.Context, input Tensor) ([]float32, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()

	out, err := ort.NewEmptyTensor[float32](e.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer func() { _ = out.Destroy() }()

	if err := e.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	data := out.GetData()
	result := make([]float32, len(data))
	copy(result, data)
	return result, nil
}

// Close releases the session. The runtime environment stays initialized for the
// life of the process.
func (e *OnnxEngine) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}
