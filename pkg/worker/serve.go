package worker

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-imagepipeline/pkg/classify"
	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/illmade-knight/go-imagepipeline/pkg/microservice"
	"github.com/rs/zerolog"
)

// ServeConfig collects what a worker process needs besides its classifier.
type ServeConfig struct {
	Base   *microservice.BaseConfig
	Rabbit *messagepipeline.RabbitMQConfig
	Worker *Config
	// Dial defaults to messagepipeline.DialAMQP.
	Dial messagepipeline.Dialer
}

// Serve connects to the broker, consumes the queue bound to cfg.Worker.Class with
// classifier until ctx is cancelled, then stops consumer, HTTP server and
// connection in that order.
func Serve(ctx context.Context, cfg ServeConfig, classifier classify.Classifier, logger zerolog.Logger) error {
	queue, ok := messagepipeline.ImageTopology().QueueFor(string(cfg.Worker.Class))
	if !ok {
		return fmt.Errorf("no queue is bound to class %q", cfg.Worker.Class)
	}

	conn, err := messagepipeline.NewRabbitConnection(cfg.Rabbit, cfg.Dial, nil, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Connect(ctx); err != nil {
		return err
	}

	consumer, err := messagepipeline.NewRabbitConsumer(messagepipeline.LoadDefaultRabbitConsumerConfig(queue), conn, logger)
	if err != nil {
		return err
	}

	metrics := microservice.NewMetrics()
	w, err := New(cfg.Worker, consumer, classifier, metrics, logger)
	if err != nil {
		return err
	}

	server := microservice.NewBaseServer(logger, cfg.Base.HTTPPort, metrics.Registry, conn.IsConnected)
	if err := server.Start(); err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	logger.Info().Str("queue", queue).Msg("Waiting for images.")

	<-ctx.Done()
	logger.Info().Int64("processed_count", w.Processed()).Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Base.ShutdownTimeout)
	defer cancel()
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Worker did not stop cleanly.")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not stop cleanly.")
	}
	return nil
}
