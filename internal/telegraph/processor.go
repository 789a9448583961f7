package telegraph

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/zulandar/signalbox/internal/lark"
	"github.com/zulandar/signalbox/internal/metrics"
)

const (
	// DefaultWorkers is the default number of events processed concurrently.
	DefaultWorkers = 8
	// DefaultQueueSize is the default number of events buffered ahead of the workers.
	DefaultQueueSize = 256
	// DefaultEventTimeout bounds the processing of one event.
	DefaultEventTimeout = 2 * time.Minute
)

// EventHandler processes one decoded webhook envelope.
type EventHandler interface {
	HandleEvent(ctx context.Context, env *lark.Envelope)
}

// Processor decouples webhook acknowledgment from event handling: Enqueue
// never blocks, and a bounded pool of workers drains the queue.
type Processor struct {
	handler EventHandler
	queue   chan *lark.Envelope
	sem     *semaphore.Weighted
	workers int64
	timeout time.Duration
	logger  zerolog.Logger
}

// ProcessorOpts holds parameters for creating a Processor.
type ProcessorOpts struct {
	Handler   EventHandler
	Workers   int           // defaults to DefaultWorkers
	QueueSize int           // defaults to DefaultQueueSize
	Timeout   time.Duration // defaults to DefaultEventTimeout
	Logger    zerolog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(opts ProcessorOpts) (*Processor, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("telegraph: processor: handler is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEventTimeout
	}
	return &Processor{
		handler: opts.Handler,
		queue:   make(chan *lark.Envelope, opts.QueueSize),
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		workers: int64(opts.Workers),
		timeout: opts.Timeout,
		logger:  opts.Logger.With().Str("component", "processor").Logger(),
	}, nil
}

// Enqueue schedules env for processing. It reports false when the queue is
// full and the event was dropped.
func (p *Processor) Enqueue(env *lark.Envelope) bool {
	select {
	case p.queue <- env:
		return true
	default:
		p.logger.Warn().Str("event_id", env.Header.EventID).Msg("event queue full, dropping")
		metrics.Events.WithLabelValues("dropped").Inc()
		return false
	}
}

// Run drains the queue until ctx is cancelled, then waits for in-flight
// events to finish. Queued events not yet started are discarded.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Acquiring the full weight waits for every worker to release.
			if err := p.sem.Acquire(context.Background(), p.workers); err != nil {
				return fmt.Errorf("telegraph: processor: drain: %w", err)
			}
			p.sem.Release(p.workers)
			return nil
		case env := <-p.queue:
			if err := p.sem.Acquire(ctx, 1); err != nil {
				continue
			}
			go p.process(ctx, env)
		}
	}
}

// process handles one event inside a catch-all so a panic never takes the
// worker pool down.
func (p *Processor) process(ctx context.Context, env *lark.Envelope) {
	defer p.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("event_id", env.Header.EventID).Msg("event processing panicked")
			metrics.Events.WithLabelValues("failed").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	p.handler.HandleEvent(ctx, env)
}
