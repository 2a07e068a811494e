package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tickstream/capture/internal/feed"
	"github.com/tickstream/capture/internal/model"
	"github.com/tickstream/capture/internal/queue"
	"github.com/tickstream/capture/internal/validate"
)

// Router consumes raw feed events, parses and validates them, and enqueues
// accepted records into the per-variant ingestion buffers.
type Router interface {
	// Start begins routing events from the input channel.
	Start(ctx context.Context) error

	// Stop shuts the router down after the input drains or ctx expires.
	Stop(ctx context.Context) error

	// Stats returns current routing counters.
	Stats() Stats
}

// Stats contains routing counters. Received counts every parsed record after
// array fan-out, including records later rejected or dropped.
type Stats struct {
	Received    model.VariantCounts
	Routed      int64
	Rejected    int64
	ParseErrors int64
}

type router struct {
	logger    *slog.Logger
	input     <-chan feed.RawEvent
	queues    *queue.Set
	validator *validate.Validator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	received    model.VariantCounts
	routed      int64
	rejected    int64
	parseErrors int64
}

// New creates a router draining input into queues. The validator's timestamp
// state is owned by the route loop; no other goroutine may use it.
func New(input <-chan feed.RawEvent, queues *queue.Set, validator *validate.Validator, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		logger:    logger,
		input:     input,
		queues:    queues,
		validator: validator,
	}
}

func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("router started")
	return nil
}

func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("router stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Received:    r.received,
		Routed:      r.routed,
		Rejected:    r.rejected,
		ParseErrors: r.parseErrors,
	}
}

// routeLoop drains the input channel until it closes or the router stops.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			r.drainRemaining()
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("feed input closed")
				return
			}
			r.route(raw)
		}
	}
}

// drainRemaining routes whatever is still buffered in the input channel at
// shutdown. The feed is closed before the router stops, so this terminates.
func (r *router) drainRemaining() {
	for {
		select {
		case raw, ok := <-r.input:
			if !ok {
				return
			}
			r.route(raw)
		default:
			return
		}
	}
}

// route parses one raw event and enqueues the resulting records. A parse
// failure discards the whole wire message; a validation rejection discards
// only the offending record.
func (r *router) route(raw feed.RawEvent) {
	events, err := parseEvents(raw)
	if err != nil {
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		r.logger.Warn("unparseable payload",
			"variant", raw.Variant.String(),
			"error", err,
		)
		return
	}

	for i := range events {
		ev := events[i]

		r.mu.Lock()
		r.received.Add(ev.Variant, 1)
		r.mu.Unlock()

		if err := r.validator.Check(&ev); err != nil {
			r.mu.Lock()
			r.rejected++
			r.mu.Unlock()
			r.logger.Debug("record rejected", "error", err)
			continue
		}

		// Drops under pressure are accounted by the buffer itself.
		if _, ok := r.queues.For(ev.Variant).Enqueue(r.ctx, ev); ok {
			r.mu.Lock()
			r.routed++
			r.mu.Unlock()
		}
	}
}
