// Package inference is the boundary to the numeric model runtime. An Engine turns a
// preprocessed tensor into a flat output vector: a class distribution or an
// embedding, depending on the model it was loaded with.
package inference

import (
	"context"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int64) Tensor {
	return Tensor{Shape: shape, Data: make([]float32, elements(shape))}
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	if n := elements(t.Shape); int64(len(t.Data)) != n {
		return fmt.Errorf("tensor shape %v needs %d values, has %d", t.Shape, n, len(t.Data))
	}
	return nil
}

func elements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Engine runs a loaded model. Implementations are read-only after load and
// deterministic for a given input.
type Engine interface {
	Run(ctx context.Context, input Tensor) ([]float32, error)
	Close() error
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, input Tensor) ([]float32, error)

// Run calls f(ctx, input).
func (f EngineFunc) Run(ctx context.Context, input Tensor) ([]float32, error) {
	return f(ctx, input)
}

// Close is a no-op.
func (f EngineFunc) Close() error { return nil }
