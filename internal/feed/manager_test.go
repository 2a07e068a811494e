package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tickstream/capture/internal/model"
)

// fakeClient is a scriptable hub client for manager tests.
type fakeClient struct {
	connectErr error
	records    chan TimestampedRecord
	errs       chan error

	mu        sync.Mutex
	connected bool
	closed    bool
	invoked   []string
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		records:    make(chan TimestampedRecord, 100),
		errs:       make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeClient) Invoke(target string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, target)
	return nil
}

func (f *fakeClient) Records() <-chan TimestampedRecord { return f.records }
func (f *fakeClient) Errors() <-chan error              { return f.errs }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) push(t *testing.T, record string) {
	t.Helper()
	select {
	case f.records <- TimestampedRecord{Data: []byte(record), ReceivedAt: time.Now()}:
	case <-time.After(time.Second):
		t.Fatal("fake client record buffer full")
	}
}

// clientScript hands out fake clients in order, repeating the last one.
type clientScript struct {
	mu      sync.Mutex
	clients []*fakeClient
	next    int
}

func (s *clientScript) newClient() *fakeClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.clients[s.next]
	if s.next < len(s.clients)-1 {
		s.next++
	}
	return c
}

func testManagerConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://test"
	cfg.Token = "tok"
	cfg.ContractID = "CON.F.US.MNQ.M25"
	cfg.ReconnectMaxAttempts = 3
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestManager(cfg Config, script *clientScript) *Manager {
	m := NewManager(cfg, nil)
	m.newClient = func(ClientConfig, *slog.Logger) Client {
		return script.newClient()
	}
	return m
}

func waitForState(t *testing.T, m *Manager, want model.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestManager_StreamsAndForwards(t *testing.T) {
	client := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{client}}

	m := newTestManager(testManagerConfig(), script)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Close()

	waitForState(t, m, model.StateStreaming)

	client.push(t, `{"type":1,"target":"GatewayQuote","arguments":["CON.F.US.MNQ.M25",{"bestBid":1.0}]}`)

	select {
	case ev := <-m.Events():
		if ev.Variant != model.VariantQuote {
			t.Errorf("variant = %s, want quote", ev.Variant)
		}
		if ev.ContractID != "CON.F.US.MNQ.M25" {
			t.Errorf("contract = %q", ev.ContractID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}

	// All three subscriptions were issued.
	client.mu.Lock()
	n := len(client.invoked)
	client.mu.Unlock()
	if n != 3 {
		t.Errorf("invoked %d subscriptions, want 3", n)
	}
}

func TestManager_VariantTogglesLimitSubscriptions(t *testing.T) {
	client := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{client}}

	cfg := testManagerConfig()
	cfg.EnableTrades = false
	cfg.EnableDepth = false

	m := newTestManager(cfg, script)
	m.Start(context.Background())
	defer m.Close()

	waitForState(t, m, model.StateStreaming)

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.invoked) != 1 || client.invoked[0] != subscribeQuotes {
		t.Errorf("invoked = %v, want only %q", client.invoked, subscribeQuotes)
	}
}

func TestManager_FailsAfterMaxAttempts(t *testing.T) {
	dialErr := errors.New("dial refused")
	script := &clientScript{clients: []*fakeClient{newFakeClient(dialErr)}}

	m := newTestManager(testManagerConfig(), script)
	m.Start(context.Background())
	defer m.Close()

	waitForState(t, m, model.StateFailed)

	select {
	case err := <-m.Fatal():
		if !errors.Is(err, ErrAttemptsExceeded) {
			t.Errorf("fatal error = %v, want ErrAttemptsExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error surfaced")
	}

	// The events channel closes on terminal failure.
	select {
	case _, ok := <-m.Events():
		if ok {
			t.Error("unexpected event after failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after failure")
	}
}

func TestManager_SuccessResetsAttemptCounter(t *testing.T) {
	dialErr := fmt.Errorf("transient dial failure")
	good := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{
		newFakeClient(dialErr),
		newFakeClient(dialErr),
		good,
	}}

	m := newTestManager(testManagerConfig(), script)
	m.Start(context.Background())
	defer m.Close()

	waitForState(t, m, model.StateStreaming)

	if stats := m.Stats(); stats.Attempts != 0 {
		t.Errorf("Attempts = %d after successful connect, want 0", stats.Attempts)
	}
}

func TestManager_ReconnectsOnConnectionError(t *testing.T) {
	first := newFakeClient(nil)
	second := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{first, second}}

	m := newTestManager(testManagerConfig(), script)
	m.Start(context.Background())
	defer m.Close()

	waitForState(t, m, model.StateStreaming)

	first.errs <- errors.New("read: connection reset")

	// A fresh client takes over and streaming resumes.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if second.IsConnected() && m.State() == model.StateStreaming {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !second.IsConnected() {
		t.Fatal("manager did not reconnect with a fresh client")
	}

	second.push(t, `{"type":1,"target":"GatewayTrade","arguments":["CON.F.US.MNQ.M25",[{"price":1.5,"volume":2}]]}`)
	select {
	case ev := <-m.Events():
		if ev.Variant != model.VariantTrade {
			t.Errorf("variant = %s, want trade", ev.Variant)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestManager_PauseStopsPulling(t *testing.T) {
	client := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{client}}

	m := newTestManager(testManagerConfig(), script)
	m.Start(context.Background())
	defer m.Close()

	waitForState(t, m, model.StateStreaming)

	m.Pause()
	m.Pause() // Repeat is a no-op

	client.push(t, `{"type":1,"target":"GatewayQuote","arguments":["C",{"bestBid":1}]}`)

	select {
	case <-m.Events():
		t.Fatal("event forwarded while paused")
	case <-time.After(50 * time.Millisecond):
	}

	// Connection stays up while paused.
	if !client.IsConnected() {
		t.Error("pause must keep the connection alive")
	}
	if !m.Stats().Paused {
		t.Error("Stats should report paused")
	}

	m.Resume()
	select {
	case ev := <-m.Events():
		if ev.Variant != model.VariantQuote {
			t.Errorf("variant = %s", ev.Variant)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after resume")
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	client := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{client}}

	m := newTestManager(testManagerConfig(), script)
	m.Start(context.Background())

	waitForState(t, m, model.StateStreaming)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.State() != model.StateClosed {
		t.Errorf("state = %s, want closed", m.State())
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if m.State() != model.StateClosed {
		t.Errorf("state changed after second Close: %s", m.State())
	}
}

func TestManager_IgnoresUnknownTargets(t *testing.T) {
	client := newFakeClient(nil)
	script := &clientScript{clients: []*fakeClient{client}}

	m := newTestManager(testManagerConfig(), script)
	m.Start(context.Background())
	defer m.Close()

	waitForState(t, m, model.StateStreaming)

	client.push(t, `{"type":1,"target":"GatewayOrder","arguments":["C",{}]}`)
	client.push(t, `{"type":3,"invocationId":"1"}`)
	client.push(t, `{"type":1,"target":"GatewayDepth","arguments":["C",[{"price":1,"volume":1,"type":4}]]}`)

	select {
	case ev := <-m.Events():
		if ev.Variant != model.VariantDepth {
			t.Errorf("variant = %s, want depth (unknown targets skipped)", ev.Variant)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("depth event not forwarded")
	}
}
