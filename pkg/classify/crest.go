package classify

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-imagepipeline/pkg/inference"
	"github.com/illmade-knight/go-imagepipeline/pkg/matcher"
	"github.com/illmade-knight/go-imagepipeline/pkg/preprocess"
)

// CrestMatcher embeds a 224x224 RGB image and reports the closest reference crest.
type CrestMatcher struct {
	pre    *preprocess.Preprocessor
	engine inference.Engine
	refs   *matcher.ReferenceSet
}

// NewCrestMatcher wraps an embedding engine and a loaded reference set.
func NewCrestMatcher(engine inference.Engine, refs *matcher.ReferenceSet) *CrestMatcher {
	return &CrestMatcher{
		pre:    preprocess.NewRGB(preprocess.CrestSize, preprocess.CrestSize),
		engine: engine,
		refs:   refs,
	}
}

func (c *CrestMatcher) Name() string { return "crest" }

func (c *CrestMatcher) Preprocess(data []byte) (inference.Tensor, error) {
	return c.pre.Preprocess(data)
}

func (c *CrestMatcher) Infer(ctx context.Context, input inference.Tensor) (Result, error) {
	out, err := c.engine.Run(ctx, input)
	if err != nil {
		return Result{}, err
	}
	query := make([]float64, len(out))
	for i, v := range out {
		query[i] = float64(v)
	}
	m, err := c.refs.Nearest(query)
	if err != nil {
		return Result{}, fmt.Errorf("nearest reference: %w", err)
	}
	return Result{Label: m.Label, Score: m.Similarity, HasScore: true}, nil
}

// Sentinel is ERROR without a score.
func (c *CrestMatcher) Sentinel() Result {
	return Result{Label: SentinelLabel}
}
