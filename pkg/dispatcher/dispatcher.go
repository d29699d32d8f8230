// Package dispatcher periodically publishes one randomly chosen image per class to
// the image analysis exchange.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-imagepipeline/pkg/cache"
	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/illmade-knight/go-imagepipeline/pkg/microservice"
	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNoImages is returned at construction when every corpus is empty.
var ErrNoImages = errors.New("no images found in any corpus")

// RandomSource picks an index in [0, n).
type RandomSource interface {
	IntN(n int) int
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRandomSource replaces the default random source, for example with a seeded one.
func WithRandomSource(r RandomSource) Option {
	return func(d *Dispatcher) { d.rng = r }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDGenerator replaces the UUID message id generator.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) { d.newID = newID }
}

// Dispatcher owns the corpora and publishes one message per non-empty class per cycle.
type Dispatcher struct {
	cfg       *Config
	corpora   []Corpus
	images    cache.Fetcher[string, []byte]
	publisher messagepipeline.SimplePublisher
	metrics   *microservice.Metrics
	logger    zerolog.Logger

	rng   RandomSource
	now   func() time.Time
	newID func() string

	sent atomic.Int64
}

// New creates a Dispatcher. The corpora are used as given and never rescanned.
func New(
	cfg *Config,
	corpora []Corpus,
	images cache.Fetcher[string, []byte],
	publisher messagepipeline.SimplePublisher,
	metrics *microservice.Metrics,
	logger zerolog.Logger,
	opts ...Option,
) (*Dispatcher, error) {
	if cfg == nil || images == nil || publisher == nil || metrics == nil {
		return nil, fmt.Errorf("dispatcher config, image reader, publisher and metrics are required")
	}
	total := 0
	for _, c := range corpora {
		total += len(c.Files)
	}
	if total == 0 {
		return nil, ErrNoImages
	}

	d := &Dispatcher{
		cfg:       cfg,
		corpora:   corpora,
		images:    images,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "Dispatcher").Logger(),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Sent is the number of messages published so far.
func (d *Dispatcher) Sent() int64 {
	return d.sent.Load()
}

// Run publishes a cycle every Interval until ctx is cancelled. A cycle with any
// failure is followed by ErrorBackoff instead.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Dur("interval", d.cfg.Interval).Msg("Dispatcher started.")
	for {
		wait := d.cfg.Interval
		if err := d.Cycle(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Dur("backoff", d.cfg.ErrorBackoff).Msg("Dispatch cycle failed.")
			wait = d.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info().Int64("sent", d.Sent()).Msg("Dispatcher stopped.")
			return nil
		case <-timer.C:
		}
	}
}

// Cycle publishes one image for each non-empty corpus. A failure for one class does
// not prevent the others from being published; all failures are returned joined.
func (d *Dispatcher) Cycle(ctx context.Context) error {
	var errs []error
	for _, c := range d.corpora {
		if len(c.Files) == 0 {
			continue
		}
		if err := d.dispatch(ctx, c); err != nil {
			d.metrics.PublishFailures.WithLabelValues(string(c.Class)).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", c.Class, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatch(ctx context.Context, c Corpus) error {
	path := c.Files[d.rng.IntN(len(c.Files))]
	data, err := d.images.Fetch(ctx, path)
	if err != nil {
		return err
	}

	msg := &types.ImageMessage{
		ID:        d.newID(),
		Class:     c.Class,
		FileName:  path,
		Timestamp: d.now().UnixMilli(),
		ImageData: data,
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	attrs := map[string]string{messagepipeline.PublishAttrMessageID: msg.ID}
	if err := d.publisher.Publish(ctx, string(c.Class), payload, attrs); err != nil {
		return err
	}

	d.metrics.Dispatched.WithLabelValues(string(c.Class)).Inc()
	d.logger.Debug().Str("msg_id", msg.ID).Str("class", string(c.Class)).Str("file_name", path).Msg("Image dispatched.")

	if n := d.sent.Add(1); d.cfg.StatusEvery > 0 && n%d.cfg.StatusEvery == 0 {
		d.logger.Info().
			Int64("sent", n).
			Str("file_name", path).
			Float64("size_kb", float64(len(data))/1024).
			Msg("Dispatch status.")
	}
	return nil
}
