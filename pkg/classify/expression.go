package classify

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/illmade-knight/go-imagepipeline/pkg/inference"
	"github.com/illmade-knight/go-imagepipeline/pkg/preprocess"
)

// ExpressionLabels are the classes of the expression model, in output order.
var ExpressionLabels = []string{"happy", "sad"}

var errInvalidProbability = errors.New("distribution contains a non-numeric value")

// ExpressionClassifier classifies 48x48 grayscale faces into ExpressionLabels.
type ExpressionClassifier struct {
	pre    *preprocess.Preprocessor
	engine inference.Engine
	labels []string
}

// NewExpressionClassifier wraps an engine that returns one probability per label.
func NewExpressionClassifier(engine inference.Engine) *ExpressionClassifier {
	return &ExpressionClassifier{
		pre:    preprocess.NewGrayscale(preprocess.ExpressionSize, preprocess.ExpressionSize),
		engine: engine,
		labels: ExpressionLabels,
	}
}

func (c *ExpressionClassifier) Name() string { return "expression" }

func (c *ExpressionClassifier) Preprocess(data []byte) (inference.Tensor, error) {
	return c.pre.Preprocess(data)
}

func (c *ExpressionClassifier) Infer(ctx context.Context, input inference.Tensor) (Result, error) {
	dist, err := c.engine.Run(ctx, input)
	if err != nil {
		return Result{}, err
	}
	return Decide(c.labels, dist)
}

// Sentinel is ERROR with a score of zero.
func (c *ExpressionClassifier) Sentinel() Result {
	return Result{Label: SentinelLabel, Score: 0, HasScore: true}
}

// Decide picks the argmax of dist and reports its probability. Equal maxima keep the
// lowest index.
func Decide(labels []string, dist []float32) (Result, error) {
	if len(dist) != len(labels) {
		return Result{}, fmt.Errorf("model returned %d probabilities for %d labels", len(dist), len(labels))
	}
	best := 0
	for i, p := range dist {
		if math.IsNaN(float64(p)) {
			return Result{}, fmt.Errorf("%w at index %d", errInvalidProbability, i)
		}
		if p > dist[best] {
			best = i
		}
	}
	return Result{Label: labels[best], Score: float64(dist[best]), HasScore: true}, nil
}
