package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/tickstream/capture/internal/model"
	"github.com/tickstream/capture/internal/queue"
)

// Store is the durable write target. InsertBatch commits all events of one
// variant atomically and returns the committed count. Transient errors are
// retried by the sink; anything else fails the batch.
type Store interface {
	InsertBatch(ctx context.Context, variant model.Variant, events []model.Event) (int, error)
}

// Config configures the sink.
type Config struct {
	BatchSize    int           // Batch closes at this many events
	BatchTimeout time.Duration // Batch closes this long after its first event
	MaxRetries   int           // Flush attempts per batch before the batch is lost
	RetryBackoff time.Duration // Base delay between attempts, doubled each retry
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Committed model.VariantCounts
	Lost      int64 // Events in batches that exhausted retries
	Flushes   int64
	Failures  int64 // Batches that exhausted retries
}

// Sink drains the per-variant buffers into batched store writes. One drain
// goroutine per variant keeps at most one flush in flight per variant, which
// preserves commit order within a variant.
type Sink struct {
	cfg    Config
	store  Store
	queues *queue.Set
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Forced-flush signal, one slot per variant.
	force [3]chan struct{}

	mu        sync.Mutex
	committed model.VariantCounts
	lost      int64
	flushes   int64
	failures  int64
}

// New creates a sink draining queues into store.
func New(cfg Config, queues *queue.Set, store Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		cfg:    cfg,
		store:  store,
		queues: queues,
		logger: logger,
	}
	for i := range s.force {
		s.force[i] = make(chan struct{}, 1)
	}
	return s
}

// Start launches one drain loop per variant.
func (s *Sink) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, v := range model.Variants {
		s.wg.Add(1)
		go s.drainLoop(v)
	}

	s.logger.Info("storage sink started",
		"batch_size", s.cfg.BatchSize,
		"batch_timeout", s.cfg.BatchTimeout,
	)
	return nil
}

// Stop closes the input buffers, drains everything still queued, and commits
// final partial batches. Returns once all drain loops exit or ctx expires.
func (s *Sink) Stop(ctx context.Context) error {
	s.logger.Info("stopping storage sink")

	// Closing the buffers ends the drain loops after they empty.
	s.queues.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("storage sink stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Flush forces every open batch to commit regardless of size or age. Called
// by the memory governor; also safe to call at any time.
func (s *Sink) Flush() {
	for _, ch := range s.force {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stats returns a snapshot of sink counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Committed: s.committed,
		Lost:      s.lost,
		Flushes:   s.flushes,
		Failures:  s.failures,
	}
}

// drainLoop accumulates one variant's events into batches and commits them.
// The loop exits after the buffer closes and the final partial batch commits.
func (s *Sink) drainLoop(v model.Variant) {
	defer s.wg.Done()

	buf := s.queues.For(v)
	batch := make([]model.Event, 0, s.cfg.BatchSize)
	var opened time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.commit(v, batch)
		batch = batch[:0]
	}
	defer flush()

	for {
		// Pull whatever is already queued, up to one batch.
		for len(batch) < s.cfg.BatchSize {
			ev, ok := buf.TryDequeue()
			if !ok {
				break
			}
			if len(batch) == 0 {
				opened = time.Now()
			}
			batch = append(batch, ev)
		}

		if len(batch) >= s.cfg.BatchSize {
			flush()
			continue
		}

		if len(batch) == 0 {
			// Nothing held: block until the next event, shutdown, or close.
			ev, ok := buf.Dequeue(s.ctx)
			if !ok {
				return
			}
			opened = time.Now()
			batch = append(batch, ev)
			continue
		}

		// Open partial batch: commit on age, forced flush, or shutdown;
		// otherwise poll for more events.
		if time.Since(opened) >= s.cfg.BatchTimeout {
			flush()
			continue
		}
		if buf.Closed() && buf.Len() == 0 {
			flush()
			continue
		}

		wait := s.cfg.BatchTimeout - time.Since(opened)
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-s.force[v]:
			flush()
		case <-s.ctx.Done():
			// Hard cancellation: the deferred flush commits what we hold.
			return
		case <-time.After(wait):
		}
	}
}

const pollInterval = 10 * time.Millisecond

// commit flushes one batch with bounded retries. On exhaustion the events
// are counted lost; the session continues for other batches and variants.
func (s *Sink) commit(v model.Variant, batch []model.Event) {
	start := time.Now()
	var committed int

	err := retry.Do(
		func() error {
			n, err := s.store.InsertBatch(s.ctx, v, batch)
			if err != nil {
				return err
			}
			committed = n
			return nil
		},
		retry.Attempts(uint(s.cfg.MaxRetries)),
		retry.Delay(s.cfg.RetryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warn("batch flush retry",
				"variant", v.String(),
				"attempt", attempt+1,
				"count", len(batch),
				"error", err,
			)
		}),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++

	if err != nil {
		s.failures++
		s.lost += int64(len(batch))
		s.logger.Error("batch lost after retries",
			"variant", v.String(),
			"count", len(batch),
			"error", err,
		)
		return
	}

	s.committed.Add(v, int64(committed))
	s.logger.Debug("batch committed",
		"variant", v.String(),
		"count", committed,
		"duration", time.Since(start),
	)
}
