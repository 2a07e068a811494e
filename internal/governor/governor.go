package governor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/tickstream/capture/internal/model"
	"github.com/tickstream/capture/internal/queue"
)

// Flusher forces open batches to commit. Implemented by the storage sink.
type Flusher interface {
	Flush()
}

// Pauser stops and restarts event intake. Implemented by the feed manager.
type Pauser interface {
	Pause()
	Resume()
}

// Config configures the governor.
type Config struct {
	ThresholdMB   int           // Heap estimate above this triggers action
	CheckInterval time.Duration // Sampling period
}

// Stats is a snapshot of governor counters.
type Stats struct {
	LastSample   model.ResourceSample
	ForcedFlush  int64
	PausedTotal  int64 // Times the feed was paused
	PausedNow    bool
	SamplesTaken int64
}

// Governor samples memory on a fixed interval and applies escalating
// backpressure: forced flush first, feed pause if the next sample is still
// over threshold, resume on recovery.
type Governor struct {
	cfg     Config
	queues  *queue.Set
	flusher Flusher
	pauser  Pauser
	logger  *slog.Logger

	// heapMB is swappable so tests can script memory pressure.
	heapMB func() float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	last         model.ResourceSample
	overLastTick bool
	paused       bool
	forcedFlush  int64
	pausedTotal  int64
	samples      int64
}

// New creates a governor watching queues, flushing through flusher and
// pausing through pauser.
func New(cfg Config, queues *queue.Set, flusher Flusher, pauser Pauser, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cfg:     cfg,
		queues:  queues,
		flusher: flusher,
		pauser:  pauser,
		logger:  logger,
		heapMB:  liveHeapMB,
	}
}

// liveHeapMB reads the current heap allocation in MiB.
func liveHeapMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1 << 20)
}

// Start launches the sampling loop.
func (g *Governor) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	g.wg.Add(1)
	go g.sampleLoop()

	g.logger.Info("memory governor started",
		"threshold_mb", g.cfg.ThresholdMB,
		"interval", g.cfg.CheckInterval,
	)
	return nil
}

// Stop ends the sampling loop after the current sample. If the feed was left
// paused it is resumed so shutdown drains normally.
func (g *Governor) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	wasPaused := g.paused
	g.paused = false
	g.mu.Unlock()
	if wasPaused {
		g.pauser.Resume()
	}

	g.logger.Info("memory governor stopped")
	return nil
}

// Stats returns a snapshot of governor counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		LastSample:   g.last,
		ForcedFlush:  g.forcedFlush,
		PausedTotal:  g.pausedTotal,
		PausedNow:    g.paused,
		SamplesTaken: g.samples,
	}
}

func (g *Governor) sampleLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.check()
		}
	}
}

// check takes one sample and applies the escalation policy. The forced
// flush and the pause never happen on the same sample; the pause requires
// the pressure to survive a flush into the next tick.
func (g *Governor) check() {
	depths := g.queues.Depths()
	sample := model.ResourceSample{
		Timestamp:  time.Now(),
		HeapMB:     g.heapMB(),
		QueueDepth: depths,
		TotalDepth: depths.Total(),
	}

	g.mu.Lock()
	g.last = sample
	g.samples++
	over := sample.HeapMB > float64(g.cfg.ThresholdMB)
	wasOver := g.overLastTick
	paused := g.paused
	g.overLastTick = over
	g.mu.Unlock()

	switch {
	case over && !wasOver:
		// First sample over threshold: force a flush and re-check next tick.
		g.logger.Warn("memory over threshold, forcing flush",
			"heap_mb", sample.HeapMB,
			"threshold_mb", g.cfg.ThresholdMB,
			"queue_depth", sample.QueueDepth.Total(),
		)
		g.flusher.Flush()
		g.mu.Lock()
		g.forcedFlush++
		g.mu.Unlock()

	case over && wasOver && !paused:
		// Flush did not relieve the pressure: stop pulling from the feed.
		g.logger.Warn("memory still over threshold after flush, pausing feed",
			"heap_mb", sample.HeapMB,
		)
		g.pauser.Pause()
		g.mu.Lock()
		g.paused = true
		g.pausedTotal++
		g.mu.Unlock()

	case !over && paused:
		g.logger.Info("memory recovered, resuming feed", "heap_mb", sample.HeapMB)
		g.pauser.Resume()
		g.mu.Lock()
		g.paused = false
		g.mu.Unlock()
	}
}
