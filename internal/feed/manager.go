package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tickstream/capture/internal/model"
)

// Manager owns the hub connection and its reconnection state machine. It is
// the pipeline's single producer: raw events flow out of Events(), terminal
// failures out of Fatal().
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// newClient is swappable so tests can inject a fake hub.
	newClient func(ClientConfig, *slog.Logger) Client

	events chan RawEvent
	fatal  chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	resumed  *sync.Cond
	state    model.ConnectionState
	attempts int
	paused   bool

	forwarded int64

	closeOnce sync.Once
}

// ManagerStats is a snapshot of manager state for telemetry.
type ManagerStats struct {
	State     model.ConnectionState
	Attempts  int
	Paused    bool
	Forwarded int64
}

// NewManager creates a feed connection manager in the Disconnected state.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		events:    make(chan RawEvent, cfg.EventBufferSize),
		fatal:     make(chan error, 1),
		state:     model.StateDisconnected,
	}
	m.resumed = sync.NewCond(&m.mu)
	return m
}

// Start begins the connect/stream/reconnect loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("feed manager started",
		"contract", m.cfg.ContractID,
		"max_attempts", m.cfg.ReconnectMaxAttempts,
	)
	return nil
}

// Events returns the outgoing raw event channel. It is closed when the
// manager reaches a terminal state.
func (m *Manager) Events() <-chan RawEvent {
	return m.events
}

// Fatal returns a channel that receives the terminal error when the
// reconnect attempt bound is exhausted.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot for telemetry.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:     m.state,
		Attempts:  m.attempts,
		Paused:    m.paused,
		Forwarded: m.forwarded,
	}
}

// Pause stops pulling new events while keeping the connection alive. Called
// by the memory governor.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return
	}
	m.paused = true
	m.logger.Warn("feed paused")
}

// Resume re-enables event pulling after a Pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return
	}
	m.paused = false
	m.resumed.Broadcast()
	m.logger.Info("feed resumed")
}

// Close releases the connection and moves to Closed from any state.
// Idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Lock()
		m.paused = false
		m.resumed.Broadcast()
		m.mu.Unlock()

		m.wg.Wait()
		m.transition(model.StateClosed)
		m.logger.Info("feed manager closed")
	})
	return nil
}

// transition moves the state machine and logs the edge. Terminal states are
// never left except for Failed → Closed on Close().
func (m *Manager) transition(to model.ConnectionState) {
	m.mu.Lock()
	from := m.state
	if from == to || (from.Terminal() && !(from == model.StateFailed && to == model.StateClosed)) {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Debug("connection state", "from", from.String(), "to", to.String())
}

// run drives connect → stream → reconnect until a terminal state.
func (m *Manager) run() {
	defer m.wg.Done()
	defer close(m.events)

	for {
		if m.ctx.Err() != nil {
			return
		}

		client, err := m.connect()
		if err != nil {
			if !m.backoff() {
				return
			}
			continue
		}

		// Streaming until the connection errors or the manager stops.
		err = m.stream(client)
		client.Close()

		if m.ctx.Err() != nil {
			return
		}

		m.logger.Warn("connection lost", "error", err)
		m.transition(model.StateReconnecting)
	}
}

// connect dials a fresh client and issues subscriptions. On failure the
// attempt counter advances; on success it resets.
func (m *Manager) connect() (Client, error) {
	m.transition(model.StateConnecting)

	client := m.newClient(ClientConfig{
		URL:          m.cfg.URL,
		Token:        m.cfg.Token,
		DialTimeout:  m.cfg.DialTimeout,
		ReadTimeout:  m.cfg.ReadTimeout,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}, m.logger)

	if err := client.Connect(m.ctx); err != nil {
		m.mu.Lock()
		m.attempts++
		attempts := m.attempts
		m.mu.Unlock()

		m.logger.Warn("connect failed",
			"attempt", attempts,
			"max_attempts", m.cfg.ReconnectMaxAttempts,
			"error", err,
		)
		return nil, err
	}

	if err := m.subscribe(client); err != nil {
		client.Close()
		m.mu.Lock()
		m.attempts++
		m.mu.Unlock()
		m.logger.Warn("subscribe failed", "error", err)
		return nil, err
	}

	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.transition(model.StateStreaming)
	m.logger.Info("streaming", "contract", m.cfg.ContractID)

	return client, nil
}

// subscribe issues the per-variant subscription invocations.
func (m *Manager) subscribe(client Client) error {
	if m.cfg.EnableQuotes {
		if err := client.Invoke(subscribeQuotes, m.cfg.ContractID); err != nil {
			return err
		}
	}
	if m.cfg.EnableTrades {
		if err := client.Invoke(subscribeTrades, m.cfg.ContractID); err != nil {
			return err
		}
	}
	if m.cfg.EnableDepth {
		if err := client.Invoke(subscribeDepth, m.cfg.ContractID); err != nil {
			return err
		}
	}
	return nil
}

// backoff sleeps before the next attempt; returns false once the bound is
// exhausted (state → Failed, fatal error surfaced).
func (m *Manager) backoff() bool {
	m.mu.Lock()
	attempts := m.attempts
	m.mu.Unlock()

	if attempts >= m.cfg.ReconnectMaxAttempts {
		m.transition(model.StateFailed)
		m.logger.Error("reconnect attempts exhausted", "attempts", attempts)
		select {
		case m.fatal <- ErrAttemptsExceeded:
		default:
		}
		return false
	}

	// Exponential backoff capped at the max delay.
	wait := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= m.cfg.ReconnectMaxDelay {
			wait = m.cfg.ReconnectMaxDelay
			break
		}
	}

	m.transition(model.StateReconnecting)
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// stream forwards hub records as raw events until an error or shutdown.
// While paused it stops pulling from the client, which backpressures the
// socket without dropping the connection.
func (m *Manager) stream(client Client) error {
	for {
		if !m.awaitResumed() {
			return nil
		}

		select {
		case <-m.ctx.Done():
			return nil

		case err := <-client.Errors():
			return err

		case rec, ok := <-client.Records():
			if !ok {
				return ErrNotConnected
			}
			// A pause can land while this select is already blocked on the
			// record channel; re-check before forwarding so the record waits
			// out the pause instead of slipping through.
			if !m.awaitResumed() {
				return nil
			}
			m.forward(rec)
		}
	}
}

// awaitResumed blocks while paused; returns false on shutdown.
func (m *Manager) awaitResumed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.paused && m.ctx.Err() == nil {
		m.resumed.Wait()
	}
	return m.ctx.Err() == nil
}

// forward parses one hub record and emits raw events for known targets.
func (m *Manager) forward(rec TimestampedRecord) {
	var msg hubMessage
	if err := json.Unmarshal(rec.Data, &msg); err != nil {
		m.logger.Debug("unparseable hub record", "error", err)
		return
	}
	if msg.Type != hubInvocation {
		return
	}

	var variant model.Variant
	switch msg.Target {
	case targetQuote:
		variant = model.VariantQuote
	case targetTrade:
		variant = model.VariantTrade
	case targetDepth:
		variant = model.VariantDepth
	default:
		return
	}

	contractID, payload := splitArguments(msg.Arguments)
	if contractID == "" {
		contractID = m.cfg.ContractID
	}
	if payload == nil {
		return
	}

	ev := RawEvent{
		Variant:    variant,
		ContractID: contractID,
		Payload:    payload,
		ReceivedAt: rec.ReceivedAt,
	}

	select {
	case m.events <- ev:
		m.mu.Lock()
		m.forwarded++
		m.mu.Unlock()
	case <-m.ctx.Done():
	}
}

// splitArguments extracts [contractID, payload] from invocation arguments;
// single-argument invocations carry only the payload.
func splitArguments(args []json.RawMessage) (string, json.RawMessage) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return "", args[0]
	default:
		var contractID string
		if err := json.Unmarshal(args[0], &contractID); err != nil {
			return "", args[len(args)-1]
		}
		return contractID, args[1]
	}
}
