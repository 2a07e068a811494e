package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tickstream/capture/internal/model"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAttemptsExceeded = errors.New("reconnect attempts exceeded")
)

// recordSeparator delimits records in the SignalR JSON framing.
const recordSeparator = 0x1e

// Hub message types (SignalR JSON protocol).
const (
	hubInvocation = 1
	hubPing       = 6
	hubClose      = 7
)

// Invocation targets delivered by the market hub.
const (
	targetQuote = "GatewayQuote"
	targetTrade = "GatewayTrade"
	targetDepth = "GatewayDepth"
)

// Subscription commands sent to the market hub.
const (
	subscribeQuotes = "SubscribeContractQuotes"
	subscribeTrades = "SubscribeContractTrades"
	subscribeDepth  = "SubscribeContractMarketDepth"
)

// hubMessage is the wire envelope for one SignalR record.
type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// handshakeRequest opens the hub protocol after the websocket dial.
type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// TimestampedRecord wraps one raw hub record with its receive timestamp.
type TimestampedRecord struct {
	Data       []byte    // One 0x1e-delimited record
	ReceivedAt time.Time // Local timestamp when the read returned
}

// RawEvent is a market data event handed to the router. Payload is the
// second invocation argument (the variant-specific body); trade and depth
// payloads are arrays the router fans out.
type RawEvent struct {
	Variant    model.Variant
	ContractID string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// ClientConfig configures a single hub connection.
type ClientConfig struct {
	URL          string        // Hub websocket URL
	Token        string        // Bearer token for the Authorization header
	DialTimeout  time.Duration // Websocket handshake timeout
	ReadTimeout  time.Duration // Max time without any traffic before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Record channel buffer size
}

// Config configures the connection manager.
type Config struct {
	URL        string
	Token      string
	ContractID string

	DialTimeout          time.Duration
	ReadTimeout          time.Duration
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	EnableQuotes bool
	EnableTrades bool
	EnableDepth  bool

	EventBufferSize int // Buffer size of the outgoing event channel
}

// DefaultConfig returns sensible defaults for everything but credentials.
func DefaultConfig() Config {
	return Config{
		DialTimeout:          30 * time.Second,
		ReadTimeout:          60 * time.Second,
		ReconnectMaxAttempts: 5,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		EnableQuotes:         true,
		EnableTrades:         true,
		EnableDepth:          true,
		EventBufferSize:      1000,
	}
}
