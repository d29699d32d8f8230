// Package classify holds the two classification pipelines the workers run: a
// fixed-class expression classifier and an embedding based crest matcher. Both
// satisfy Classifier, so the consumer runtime is written once.
package classify

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-imagepipeline/pkg/inference"
)

// SentinelLabel is reported whenever a payload cannot be classified.
const SentinelLabel = "ERROR"

// Result is a single prediction. Scores are confidences in [0,1] for the fixed-class
// classifier and cosine similarities in [-1,1] for the matcher; they are not
// comparable across the two.
type Result struct {
	Label    string
	Score    float64
	HasScore bool
}

// IsSentinel reports whether r is the failure result.
func (r Result) IsSentinel() bool {
	return r.Label == SentinelLabel
}

// Classifier turns raw image bytes into a Result in two steps.
type Classifier interface {
	// Name identifies the pipeline in logs and metrics.
	Name() string
	Preprocess(data []byte) (inference.Tensor, error)
	Infer(ctx context.Context, input inference.Tensor) (Result, error)
	// Sentinel is the result reported when either step fails.
	Sentinel() Result
}

// Classify runs both steps of c on data. On failure it returns c's sentinel
// together with the error, so callers can always report a result.
func Classify(ctx context.Context, c Classifier, data []byte) (Result, error) {
	tensor, err := c.Preprocess(data)
	if err != nil {
		return c.Sentinel(), fmt.Errorf("preprocess: %w", err)
	}
	res, err := c.Infer(ctx, tensor)
	if err != nil {
		return c.Sentinel(), fmt.Errorf("infer: %w", err)
	}
	return res, nil
}
