package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single connection to the market data hub.
type Client interface {
	// Connect dials the websocket and completes the hub handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. Idempotent.
	Close() error

	// Invoke sends a hub invocation (fire-and-forget).
	Invoke(target string, args ...any) error

	// Records returns the channel of raw hub records. Sends block, so a
	// stalled consumer backpressures the read loop onto the socket.
	Records() <-chan TimestampedRecord

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements Client over gorilla/websocket.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	records chan TimestampedRecord
	errors  chan error
	done    chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastRecvAt time.Time
	closed     bool
}

// NewClient creates a new hub client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:     cfg,
		logger:  logger,
		records: make(chan TimestampedRecord, cfg.BufferSize),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Connect dials the websocket and completes the hub handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastRecvAt = time.Now()
	c.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	// Hub protocol handshake; the server acks with an empty record.
	if err := c.sendRecord(handshakeRequest{Protocol: "json", Version: 1}); err != nil {
		conn.Close()
		return fmt.Errorf("hub handshake: %w", err)
	}

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("hub connected", "url", c.cfg.URL)
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}
	return nil
}

// Invoke sends a hub invocation message.
func (c *client) Invoke(target string, args ...any) error {
	rawArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal argument %d: %w", i, err)
		}
		rawArgs[i] = data
	}
	return c.sendRecord(hubMessage{
		Type:      hubInvocation,
		Target:    target,
		Arguments: rawArgs,
	})
}

// Records returns the record channel.
func (c *client) Records() <-chan TimestampedRecord {
	return c.records
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// touch records traffic for staleness detection.
func (c *client) touch() {
	c.mu.Lock()
	c.lastRecvAt = time.Now()
	c.mu.Unlock()
}

// sendRecord marshals v and writes it as one 0x1e-terminated record.
func (c *client) sendRecord(v any) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected || conn != nil
	c.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, recordSeparator)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads websocket messages, splits them into hub records, answers
// pings, and forwards data records. Sends to the record channel block so
// downstream pressure reaches the socket.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		c.touch()

		// A websocket message may carry several 0x1e-delimited records.
		for _, rec := range bytes.Split(data, []byte{recordSeparator}) {
			if len(rec) == 0 {
				continue
			}

			if kind := recordType(rec); kind == hubPing {
				c.sendRecord(hubMessage{Type: hubPing})
				continue
			} else if kind == hubClose {
				select {
				case c.errors <- fmt.Errorf("server closed hub connection"):
				default:
				}
				return
			}

			select {
			case c.records <- TimestampedRecord{Data: rec, ReceivedAt: receivedAt}:
			case <-c.done:
				return
			}
		}
	}
}

// recordType extracts the hub message type without a full parse of the
// arguments.
func recordType(rec []byte) int {
	var probe struct {
		Type int `json:"type"`
	}
	if err := json.Unmarshal(rec, &probe); err != nil {
		return -1
	}
	return probe.Type
}

// heartbeatLoop pings the server and flags stale connections.
func (c *client) heartbeatLoop() {
	interval := c.cfg.ReadTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			lastRecv := c.lastRecvAt
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if c.cfg.ReadTimeout > 0 && time.Since(lastRecv) > c.cfg.ReadTimeout {
				c.logger.Warn("no traffic received, connection stale",
					"last_recv", lastRecv,
					"timeout", c.cfg.ReadTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
