package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tickstream/capture/internal/model"
	"github.com/tickstream/capture/internal/queue"
	"github.com/tickstream/capture/internal/router"
	"github.com/tickstream/capture/internal/sink"
)

// Feed is the slice of the feed manager the session manager drives.
type Feed interface {
	Start(ctx context.Context) error
	Fatal() <-chan error
	Close() error
}

// Router is the slice of the router the session manager drives.
type Router interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() router.Stats
}

// Sink is the slice of the storage sink the session manager drives.
type Sink interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() sink.Stats
}

// Governor is the slice of the memory governor the session manager drives.
type Governor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Recorder persists session rows. Implemented by the PostgreSQL store; nil
// disables persistence (tests, dry runs).
type Recorder interface {
	BeginSession(ctx context.Context, sess *model.Session) error
	FinishSession(ctx context.Context, sess *model.Session) error
}

// Config configures the session manager.
type Config struct {
	ContractID string
	Duration   time.Duration // 0 means run until stopped
	StopGrace  time.Duration // Per-component shutdown budget
}

// Manager owns one capture session from start to finalization.
type Manager struct {
	cfg      Config
	feed     Feed
	router   Router
	queues   *queue.Set
	sink     Sink
	governor Governor
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	session *model.Session

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a session manager over the assembled pipeline components.
func New(cfg Config, feed Feed, rt Router, queues *queue.Set, sk Sink, gov Governor, rec Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		feed:     feed,
		router:   rt,
		queues:   queues,
		sink:     sk,
		governor: gov,
		recorder: rec,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start allocates the session, persists its start row, and activates the
// pipeline: sink and router first so consumers are ready, then the feed,
// then the governor.
func (m *Manager) Start(ctx context.Context) error {
	start := time.Now()
	sess := &model.Session{
		ID:         model.NewSessionID(start),
		ContractID: m.cfg.ContractID,
		StartTS:    start.UnixMicro(),
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.BeginSession(ctx, sess); err != nil {
			return fmt.Errorf("persist session start: %w", err)
		}
	}

	// Component lifetimes are decoupled from the caller's context: a canceled
	// ctx ends Run, and Stop shuts the components down in drain order. Tying
	// them to ctx directly would kill the drain loops before Stop could
	// flush what is still queued.
	runCtx := context.WithoutCancel(ctx)

	if err := m.sink.Start(runCtx); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}
	if err := m.router.Start(runCtx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if err := m.feed.Start(runCtx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	if m.governor != nil {
		if err := m.governor.Start(runCtx); err != nil {
			return fmt.Errorf("start governor: %w", err)
		}
	}

	m.logger.Info("session started",
		"session_id", sess.ID,
		"contract", sess.ContractID,
		"duration", m.cfg.Duration,
	)
	return nil
}

// Run blocks until the session ends: duration expiry, a fatal feed error,
// context cancellation, or an external Stop. Returns the fatal feed error
// when that is what ended the run.
func (m *Manager) Run(ctx context.Context) error {
	var expiry <-chan time.Time
	if m.cfg.Duration > 0 {
		timer := time.NewTimer(m.cfg.Duration)
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		m.Stop(model.StopUserRequested)
		return nil
	case <-expiry:
		m.logger.Info("session duration expired")
		m.Stop(model.StopDurationExpired)
		return nil
	case err := <-m.feed.Fatal():
		m.logger.Error("fatal feed error", "error", err)
		m.Stop(model.StopFatalConnection)
		return err
	}
}

// Stop finalizes the session exactly once: the feed stops producing, the
// router drains its input, the sink drains the queues and commits final
// partial batches, and only then are the counters frozen and persisted.
// Subsequent calls have no effect.
func (m *Manager) Stop(reason model.StopReason) {
	m.stopOnce.Do(func() {
		m.logger.Info("stopping session", "reason", string(reason))
		defer close(m.done)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StopGrace)
		defer cancel()

		if m.governor != nil {
			if err := m.governor.Stop(ctx); err != nil {
				m.logger.Warn("governor stop", "error", err)
			}
		}

		// Closing the feed closes its event channel, which lets the router
		// finish its input before stopping.
		if err := m.feed.Close(); err != nil {
			m.logger.Warn("feed close", "error", err)
		}
		if err := m.router.Stop(ctx); err != nil {
			m.logger.Warn("router stop", "error", err)
		}
		if err := m.sink.Stop(ctx); err != nil {
			m.logger.Warn("sink stop", "error", err)
		}

		m.finalize(reason)
	})
}

// finalize freezes the session counters and persists the end row.
func (m *Manager) finalize(reason model.StopReason) {
	rtStats := m.router.Stats()
	skStats := m.sink.Stats()

	m.mu.Lock()
	sess := m.session
	sess.EndTS = time.Now().UnixMicro()
	sess.Reason = reason
	sess.Received = rtStats.Received
	sess.Committed = skStats.Committed
	sess.Rejected = rtStats.Rejected
	sess.ParseErrors = rtStats.ParseErrors
	sess.Dropped = m.queues.Dropped()
	sess.Lost = skStats.Lost
	snapshot := *sess
	m.mu.Unlock()

	if !snapshot.Reconciles() {
		m.logger.Error("session counters do not reconcile",
			"received", snapshot.Received.Total(),
			"committed", snapshot.Committed.Total(),
			"rejected", snapshot.Rejected,
			"dropped", snapshot.Dropped,
			"lost", snapshot.Lost,
		)
	}

	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StopGrace)
		defer cancel()
		if err := m.recorder.FinishSession(ctx, &snapshot); err != nil {
			m.logger.Error("persist session end", "error", err)
		}
	}

	m.logger.Info("session finalized",
		"session_id", snapshot.ID,
		"reason", string(reason),
		"received", snapshot.Received.Total(),
		"committed", snapshot.Committed.Total(),
		"rejected", snapshot.Rejected,
		"dropped", snapshot.Dropped,
		"lost", snapshot.Lost,
		"parse_errors", snapshot.ParseErrors,
	)
}

// Session returns a copy of the current session.
func (m *Manager) Session() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return model.Session{}
	}
	return *m.session
}

// Done is closed once the session is finalized.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
