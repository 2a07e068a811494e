package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockHubServer creates a test websocket server speaking the hub framing.
func mockHubServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		Token:        "test-token",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

// readHandshake consumes the client's handshake record.
func readHandshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read handshake: %v", err)
		return
	}
	var hs handshakeRequest
	rec := bytes.TrimSuffix(data, []byte{recordSeparator})
	if err := json.Unmarshal(rec, &hs); err != nil {
		t.Errorf("parse handshake %q: %v", data, err)
	}
	if hs.Protocol != "json" || hs.Version != 1 {
		t.Errorf("handshake = %+v, want json v1", hs)
	}
	// Ack with an empty record.
	conn.WriteMessage(websocket.TextMessage, []byte{'{', '}', recordSeparator})
}

func TestClient_ConnectAndClose(t *testing.T) {
	server := mockHubServer(t, func(conn *websocket.Conn) {
		readHandshake(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected after Connect")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected not connected after Close")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestClient_ConnectAfterCloseFails(t *testing.T) {
	client := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)
	client.Close()

	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_ReceivesDataRecords(t *testing.T) {
	invocation := `{"type":1,"target":"GatewayQuote","arguments":["CON.F.US.MNQ.M25",{"bestBid":18001.25}]}`

	server := mockHubServer(t, func(conn *websocket.Conn) {
		readHandshake(t, conn)
		// Two records in one websocket message, plus a ping record.
		payload := invocation + string(rune(recordSeparator)) + `{"type":6}` + string(rune(recordSeparator))
		conn.WriteMessage(websocket.TextMessage, []byte(payload))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case rec := <-client.Records():
		var msg hubMessage
		if err := json.Unmarshal(rec.Data, &msg); err != nil {
			t.Fatalf("parse record: %v", err)
		}
		if msg.Target != targetQuote {
			t.Errorf("target = %q, want %q", msg.Target, targetQuote)
		}
		if rec.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no record received")
	}

	// The ping record is answered, not forwarded.
	select {
	case rec := <-client.Records():
		t.Errorf("unexpected extra record: %s", rec.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_InvokeWritesRecord(t *testing.T) {
	got := make(chan []byte, 1)
	server := mockHubServer(t, func(conn *websocket.Conn) {
		readHandshake(t, conn)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- data
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Invoke(subscribeQuotes, "CON.F.US.MNQ.M25"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	select {
	case data := <-got:
		if data[len(data)-1] != recordSeparator {
			t.Error("record missing separator terminator")
		}
		var msg hubMessage
		if err := json.Unmarshal(bytes.TrimSuffix(data, []byte{recordSeparator}), &msg); err != nil {
			t.Fatalf("parse invocation: %v", err)
		}
		if msg.Type != hubInvocation || msg.Target != subscribeQuotes {
			t.Errorf("invocation = %+v", msg)
		}
		var contract string
		if err := json.Unmarshal(msg.Arguments[0], &contract); err != nil || contract != "CON.F.US.MNQ.M25" {
			t.Errorf("argument = %s (err %v)", msg.Arguments[0], err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive invocation")
	}
}

func TestClient_ErrorOnServerDisconnect(t *testing.T) {
	server := mockHubServer(t, func(conn *websocket.Conn) {
		readHandshake(t, conn)
		// Abruptly drop the connection.
		conn.Close()
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("expected non-nil connection error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced after server disconnect")
	}
}

func TestRecordType(t *testing.T) {
	cases := []struct {
		rec  string
		want int
	}{
		{`{"type":1,"target":"GatewayTrade"}`, hubInvocation},
		{`{"type":6}`, hubPing},
		{`{"type":7}`, hubClose},
		{`not json`, -1},
	}
	for _, tc := range cases {
		if got := recordType([]byte(tc.rec)); got != tc.want {
			t.Errorf("recordType(%q) = %d, want %d", tc.rec, got, tc.want)
		}
	}
}
