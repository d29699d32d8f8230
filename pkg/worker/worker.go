// Package worker is the consumer runtime shared by the classification processes.
// It decodes image envelopes, runs a classify.Classifier on each one, logs the
// result with a running count and settles every delivery with an ack, whether
// or not processing succeeded.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-imagepipeline/pkg/classify"
	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/illmade-knight/go-imagepipeline/pkg/microservice"
	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/rs/zerolog"
)

// Worker consumes one queue and classifies each delivery in turn.
type Worker struct {
	cfg        *Config
	classifier classify.Classifier
	metrics    *microservice.Metrics
	logger     zerolog.Logger
	service    *messagepipeline.StreamingService[types.ImageMessage]
	processed  atomic.Int64
}

// New wires a Worker on top of consumer. Deliveries are handled by a single
// goroutine and failures are acknowledged, never requeued.
func New(
	cfg *Config,
	consumer messagepipeline.MessageConsumer,
	classifier classify.Classifier,
	metrics *microservice.Metrics,
	logger zerolog.Logger,
) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("worker config cannot be nil")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}

	w := &Worker{
		cfg:        cfg,
		classifier: classifier,
		metrics:    metrics,
		logger: logger.With().
			Str("component", "Worker").
			Str("classifier", classifier.Name()).
			Str("class", string(cfg.Class)).
			Logger(),
	}

	guarded := messagepipeline.WithPayloadValidation[types.ImageMessage](w.decode, 1, cfg.MaxPayloadBytes, w.logger)
	transformer := func(ctx context.Context, msg *messagepipeline.Message) (*types.ImageMessage, bool, error) {
		im, skip, err := guarded(ctx, msg)
		// decode never skips, so a skip here comes from the size guard.
		if skip {
			w.logDiscarded(msg, fmt.Errorf("payload of %d bytes is outside the accepted size", len(msg.Payload)))
		}
		return im, skip, err
	}
	service, err := messagepipeline.NewStreamingService[types.ImageMessage](
		messagepipeline.StreamingServiceConfig{NumWorkers: 1, AckOnFailure: true},
		consumer,
		transformer,
		w.process,
		w.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}
	w.service = service
	return w, nil
}

// Start begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	return w.service.Start(ctx)
}

// Stop stops consuming and waits for the in-flight delivery to settle.
func (w *Worker) Stop(ctx context.Context) error {
	return w.service.Stop(ctx)
}

// Processed is the number of deliveries classified so far, sentinel results included.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

func (w *Worker) decode(_ context.Context, msg *messagepipeline.Message) (*types.ImageMessage, bool, error) {
	im, err := types.DecodeImageMessage(msg.Payload)
	if err != nil {
		w.metrics.MalformedMessages.Inc()
		w.logDiscarded(msg, err)
		return nil, false, err
	}
	if im.Class != "" && im.Class != w.cfg.Class {
		w.logger.Warn().Str("msg_id", msg.ID).Str("tipo", string(im.Class)).Msg("Envelope class does not match this queue, classifying anyway.")
	}
	return im, false, nil
}

// logDiscarded reports a delivery that never reached the classifier. It carries the
// sentinel result and the current count, which discarded deliveries do not advance.
func (w *Worker) logDiscarded(msg *messagepipeline.Message, err error) {
	res := w.classifier.Sentinel()
	event := w.logger.Error().Err(err).
		Str("msg_id", msg.ID).
		Str("file_name", msg.ID).
		Str("label", res.Label).
		Int64("processed_count", w.processed.Load())
	if res.HasScore {
		event = event.Float64("score", res.Score)
	}
	event.Msg("Envelope discarded.")
}

func (w *Worker) process(ctx context.Context, original messagepipeline.Message, im *types.ImageMessage) error {
	start := time.Now()
	res, err := classify.Classify(ctx, w.classifier, im.ImageData)
	w.metrics.ClassifyDuration.WithLabelValues(w.classifier.Name()).Observe(time.Since(start).Seconds())

	count := w.processed.Add(1)
	w.metrics.Processed.WithLabelValues(w.classifier.Name()).Inc()

	fileName := im.FileName
	if fileName == "" {
		fileName = im.ID
	}

	var event *zerolog.Event
	if err != nil {
		w.metrics.ClassifyErrors.WithLabelValues(w.classifier.Name()).Inc()
		event = w.logger.Error().Err(err)
	} else {
		event = w.logger.Info()
	}
	event = event.
		Str("msg_id", original.ID).
		Str("file_name", fileName).
		Str("label", res.Label).
		Int64("processed_count", count)
	if res.HasScore {
		event = event.Float64("score", res.Score)
	}
	event.Msg("Image classified.")

	// Classification failures are reported through the sentinel result; the
	// delivery is always consumed.
	return nil
}
