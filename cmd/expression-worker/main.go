// Command expression-worker classifies face images from face_queue as happy or sad.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-imagepipeline/pkg/classify"
	"github.com/illmade-knight/go-imagepipeline/pkg/inference"
	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/illmade-knight/go-imagepipeline/pkg/microservice"
	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/illmade-knight/go-imagepipeline/pkg/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	baseCfg := microservice.LoadBaseConfigWithEnv("expression-worker")
	logger := microservice.NewLogger(baseCfg, os.Stderr)

	if err := run(baseCfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Expression worker failed.")
	}
}

func run(baseCfg *microservice.BaseConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rabbitCfg, err := messagepipeline.LoadRabbitMQConfigWithEnv(true)
	if err != nil {
		return err
	}

	engine, err := inference.NewOnnxEngine(inference.LoadOnnxConfigWithEnv(int64(len(classify.ExpressionLabels))), logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := worker.ServeConfig{
		Base:   baseCfg,
		Rabbit: rabbitCfg,
		Worker: worker.LoadConfigWithEnv(types.ClassFace),
	}
	return worker.Serve(ctx, cfg, classify.NewExpressionClassifier(engine), logger)
}
