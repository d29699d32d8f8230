// Command crest-worker matches team crest images from team_queue against a set of
// reference embeddings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-imagepipeline/pkg/classify"
	"github.com/illmade-knight/go-imagepipeline/pkg/inference"
	"github.com/illmade-knight/go-imagepipeline/pkg/matcher"
	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/illmade-knight/go-imagepipeline/pkg/microservice"
	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/illmade-knight/go-imagepipeline/pkg/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const defaultEmbeddingDim = 1280

func main() {
	_ = godotenv.Load()

	baseCfg := microservice.LoadBaseConfigWithEnv("crest-worker")
	logger := microservice.NewLogger(baseCfg, os.Stderr)

	if err := run(baseCfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Crest worker failed.")
	}
}

func run(baseCfg *microservice.BaseConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rabbitCfg, err := messagepipeline.LoadRabbitMQConfigWithEnv(true)
	if err != nil {
		return err
	}

	embeddingsPath, labelsPath := matcher.ReferenceFilesFromEnv()
	refs, err := matcher.LoadReferenceSet(embeddingsPath, labelsPath)
	if err != nil {
		return fmt.Errorf("failed to load reference crests: %w", err)
	}
	dim := inference.EmbeddingDimFromEnv(defaultEmbeddingDim)
	if int64(refs.Dim()) != dim {
		return fmt.Errorf("%w: reference embeddings have %d values, model produces %d", matcher.ErrDimensionMismatch, refs.Dim(), dim)
	}
	logger.Info().Int("references", refs.Len()).Int("dim", refs.Dim()).Msg("Reference crests loaded.")

	engine, err := inference.NewOnnxEngine(inference.LoadOnnxConfigWithEnv(dim), logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := worker.ServeConfig{
		Base:   baseCfg,
		Rabbit: rabbitCfg,
		Worker: worker.LoadConfigWithEnv(types.ClassTeam),
	}
	return worker.Serve(ctx, cfg, classify.NewCrestMatcher(engine, refs), logger)
}
