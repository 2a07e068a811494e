package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tickstream/capture/internal/feed"
	"github.com/tickstream/capture/internal/governor"
	"github.com/tickstream/capture/internal/model"
	"github.com/tickstream/capture/internal/queue"
	"github.com/tickstream/capture/internal/router"
	"github.com/tickstream/capture/internal/sink"
)

// Sources are the read-only stat providers the collector samples. Any nil
// source is skipped.
type Sources struct {
	Feed     func() feed.ManagerStats
	Router   func() router.Stats
	Sink     func() sink.Stats
	Governor func() governor.Stats
	Queues   *queue.Set
}

// Config configures the collector.
type Config struct {
	Interval time.Duration
}

// Snapshot is one consolidated telemetry sample.
type Snapshot struct {
	Timestamp     time.Time
	RatesPerSec   model.VariantCounts // Received rates since the last sample
	QueueDepth    model.VariantCounts
	HeapMB        float64
	Committed     model.VariantCounts
	Rejected      int64
	Dropped       int64
	Lost          int64
	ParseErrors   int64
	ConnState     model.ConnectionState
	FeedPaused    bool
}

// Collector samples the pipeline on a fixed interval, logs a snapshot line,
// and updates the Prometheus metrics.
type Collector struct {
	cfg     Config
	sources Sources
	metrics *Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	last         Snapshot
	prevReceived model.VariantCounts
	prevCommit   model.VariantCounts
	prevRejected int64
	prevDropped  int64
	prevLost     int64
	prevParse    int64
	prevFlushes  int64
	prevSample   time.Time
}

// New creates a collector. metrics may be nil to disable Prometheus export.
func New(cfg Config, sources Sources, metrics *Metrics, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:     cfg,
		sources: sources,
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the sampling loop.
func (c *Collector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.prevSample = time.Now()

	c.wg.Add(1)
	go c.loop()

	c.logger.Info("telemetry collector started", "interval", c.cfg.Interval)
	return nil
}

// Stop ends the sampling loop after a final sample.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// One last sample so the final counters are reported.
	c.sample()
	c.logger.Info("telemetry collector stopped")
	return nil
}

// Last returns the most recent snapshot.
func (c *Collector) Last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Collector) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

// sample gathers one snapshot, logs it, and pushes metric updates.
func (c *Collector) sample() {
	now := time.Now()
	snap := Snapshot{Timestamp: now}

	var received model.VariantCounts
	if c.sources.Router != nil {
		rs := c.sources.Router()
		received = rs.Received
		snap.Rejected = rs.Rejected
		snap.ParseErrors = rs.ParseErrors
	}
	var flushes int64
	if c.sources.Sink != nil {
		ss := c.sources.Sink()
		snap.Committed = ss.Committed
		snap.Lost = ss.Lost
		flushes = ss.Flushes
	}
	if c.sources.Queues != nil {
		snap.QueueDepth = c.sources.Queues.Depths()
		snap.Dropped = c.sources.Queues.Dropped()
	}
	if c.sources.Governor != nil {
		gs := c.sources.Governor()
		snap.HeapMB = gs.LastSample.HeapMB
		snap.FeedPaused = gs.PausedNow
	}
	if c.sources.Feed != nil {
		snap.ConnState = c.sources.Feed().State
	}

	c.mu.Lock()
	elapsed := now.Sub(c.prevSample).Seconds()
	if elapsed > 0 {
		snap.RatesPerSec = model.VariantCounts{
			Quotes: int64(float64(received.Quotes-c.prevReceived.Quotes) / elapsed),
			Trades: int64(float64(received.Trades-c.prevReceived.Trades) / elapsed),
			Depth:  int64(float64(received.Depth-c.prevReceived.Depth) / elapsed),
		}
	}
	dRecv := model.VariantCounts{
		Quotes: received.Quotes - c.prevReceived.Quotes,
		Trades: received.Trades - c.prevReceived.Trades,
		Depth:  received.Depth - c.prevReceived.Depth,
	}
	dCommit := model.VariantCounts{
		Quotes: snap.Committed.Quotes - c.prevCommit.Quotes,
		Trades: snap.Committed.Trades - c.prevCommit.Trades,
		Depth:  snap.Committed.Depth - c.prevCommit.Depth,
	}
	dRejected := snap.Rejected - c.prevRejected
	dDropped := snap.Dropped - c.prevDropped
	dLost := snap.Lost - c.prevLost
	dParse := snap.ParseErrors - c.prevParse
	dFlushes := flushes - c.prevFlushes
	c.prevReceived = received
	c.prevCommit = snap.Committed
	c.prevRejected = snap.Rejected
	c.prevDropped = snap.Dropped
	c.prevLost = snap.Lost
	c.prevParse = snap.ParseErrors
	c.prevFlushes = flushes
	c.prevSample = now
	c.last = snap
	c.mu.Unlock()

	c.logger.Info("telemetry",
		"quotes_per_sec", snap.RatesPerSec.Quotes,
		"trades_per_sec", snap.RatesPerSec.Trades,
		"depth_per_sec", snap.RatesPerSec.Depth,
		"queue_depth", snap.QueueDepth.Total(),
		"heap_mb", snap.HeapMB,
		"committed", snap.Committed.Total(),
		"rejected", snap.Rejected,
		"dropped", snap.Dropped,
		"lost", snap.Lost,
		"parse_errors", snap.ParseErrors,
		"connection", snap.ConnState.String(),
		"paused", snap.FeedPaused,
	)

	if c.metrics != nil {
		c.publish(snap, dRecv, dCommit, dRejected, dDropped, dLost, dParse, dFlushes)
	}
}

func (c *Collector) publish(snap Snapshot, dRecv, dCommit model.VariantCounts, dRejected, dDropped, dLost, dParse, dFlushes int64) {
	for _, v := range model.Variants {
		name := v.String()
		c.metrics.QueueDepth.WithLabelValues(name).Set(float64(depthFor(snap.QueueDepth, v)))
		c.metrics.EventsReceived.WithLabelValues(name).Add(nonNegative(depthFor(dRecv, v)))
		c.metrics.EventsCommitted.WithLabelValues(name).Add(nonNegative(depthFor(dCommit, v)))
	}
	c.metrics.EventsRejected.Add(nonNegative(dRejected))
	c.metrics.EventsDropped.Add(nonNegative(dDropped))
	c.metrics.EventsLost.Add(nonNegative(dLost))
	c.metrics.ParseErrors.Add(nonNegative(dParse))
	c.metrics.BatchFlushes.Add(nonNegative(dFlushes))

	c.metrics.HeapMB.Set(snap.HeapMB)
	c.metrics.ConnectionState.Set(float64(snap.ConnState))
	if snap.FeedPaused {
		c.metrics.FeedPaused.Set(1)
	} else {
		c.metrics.FeedPaused.Set(0)
	}
}

func depthFor(c model.VariantCounts, v model.Variant) int64 {
	switch v {
	case model.VariantQuote:
		return c.Quotes
	case model.VariantTrade:
		return c.Trades
	default:
		return c.Depth
	}
}

func nonNegative(n int64) float64 {
	if n < 0 {
		return 0
	}
	return float64(n)
}
