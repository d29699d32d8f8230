// Command dispatcher publishes a random face and a random crest image to the image
// analysis exchange on a fixed period.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-imagepipeline/pkg/cache"
	"github.com/illmade-knight/go-imagepipeline/pkg/dispatcher"
	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/illmade-knight/go-imagepipeline/pkg/microservice"
	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	baseCfg := microservice.LoadBaseConfigWithEnv("dispatcher")
	logger := microservice.NewLogger(baseCfg, os.Stderr)

	if err := run(baseCfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Dispatcher failed.")
	}
}

func run(baseCfg *microservice.BaseConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := dispatcher.LoadConfigWithEnv()
	corpora := make([]dispatcher.Corpus, 0, len(types.Classes))
	for _, class := range types.Classes {
		dir := cfg.FacesDir
		if class == types.ClassTeam {
			dir = cfg.CrestsDir
		}
		files, err := dispatcher.ScanCorpus(dir, dispatcher.ImageExtensions)
		if err != nil {
			return err
		}
		logger.Info().Str("class", string(class)).Str("dir", dir).Int("images", len(files)).Msg("Corpus loaded.")
		corpora = append(corpora, dispatcher.Corpus{Class: class, Files: files})
	}

	var redisCfg *cache.RedisConfig
	if rc, ok := cache.LoadRedisConfigWithEnv(); ok {
		redisCfg = rc
	}
	images, err := dispatcher.NewImageReader(ctx, cfg.ImageCacheSize, redisCfg, logger)
	if err != nil {
		return err
	}
	defer images.Close()

	rabbitCfg, err := messagepipeline.LoadRabbitMQConfigWithEnv(false)
	if err != nil {
		return err
	}
	topology := messagepipeline.ImageTopology()
	conn, err := messagepipeline.NewRabbitConnection(rabbitCfg, nil, topology.Declare, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	publisher, err := messagepipeline.NewRabbitPublisher(conn, topology.Exchange, logger)
	if err != nil {
		return err
	}
	metrics := microservice.NewMetrics()
	d, err := dispatcher.New(cfg, corpora, images, publisher, metrics, logger)
	if err != nil {
		return err
	}

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	server := microservice.NewBaseServer(logger, baseCfg.HTTPPort, metrics.Registry, conn.IsConnected)
	if err := server.Start(); err != nil {
		return err
	}

	err = d.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), baseCfg.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("HTTP server did not stop cleanly.")
	}
	_ = publisher.Stop(shutdownCtx)
	return err
}
