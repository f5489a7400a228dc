package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       100,
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
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
		t.Error("expected IsConnected to return true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestClient_AuthorizationHeader(t *testing.T) {
	var got string
	var mu sync.Mutex
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.APIKey = "secret"
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	if got != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
	}
}

// readFrame decodes the next client frame on the server side.
func readFrame(conn *websocket.Conn) (Message, error) {
	var msg Message
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(data, &msg)
	return msg, err
}

func writeFrame(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func sendFrame(t *testing.T, c Client, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(data); err != nil {
		t.Fatalf("Send(%s) failed: %v", msg.Type, err)
	}
}

func nextFrame(t *testing.T, c Client) (Message, time.Time) {
	t.Helper()
	select {
	case raw := <-c.Messages():
		var msg Message
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			t.Fatalf("undecodable frame %q: %v", raw.Data, err)
		}
		return msg, raw.ReceivedAt
	case err := <-c.Errors():
		t.Fatalf("transport error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return Message{}, time.Time{}
}

// TestClient_SubscribeTickHeartbeat walks one session: the server answers a
// subscribe with a tick for that topic and echoes heartbeats.
func TestClient_SubscribeTickHeartbeat(t *testing.T) {
	commands := make(chan Message, 4)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			msg, err := readFrame(conn)
			if err != nil {
				return
			}
			commands <- msg
			var reply Message
			switch msg.Type {
			case TypeSubscribe:
				reply = Message{
					Type:    TypeTick,
					Topic:   msg.Topic,
					Payload: json.RawMessage(`{"symbol":"` + msg.Topic + `","price":"101.5"}`),
					TS:      1700000000000,
				}
			case TypeHeartbeat:
				reply = msg
			default:
				continue
			}
			if err := writeFrame(conn, reply); err != nil {
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

	sendFrame(t, client, Message{Type: TypeSubscribe, Topic: "AAPL"})
	if cmd := <-commands; cmd.Type != TypeSubscribe || cmd.Topic != "AAPL" {
		t.Errorf("server got %+v, want subscribe AAPL", cmd)
	}

	tick, receivedAt := nextFrame(t, client)
	if tick.Type != TypeTick || tick.Topic != "AAPL" || tick.TS != 1700000000000 {
		t.Errorf("tick frame = %+v", tick)
	}
	if !strings.Contains(string(tick.Payload), `"price":"101.5"`) {
		t.Errorf("tick payload = %s", tick.Payload)
	}
	if receivedAt.IsZero() {
		t.Error("ReceivedAt should not be zero")
	}

	sendFrame(t, client, Message{Type: TypeHeartbeat, TS: 42})
	<-commands
	echo, _ := nextFrame(t, client)
	if echo.Type != TypeHeartbeat || echo.TS != 42 {
		t.Errorf("heartbeat echo = %+v, want heartbeat ts=42", echo)
	}
}

func TestClient_TicksArriveInOrder(t *testing.T) {
	const n = 20
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 1; i <= n; i++ {
			tick := Message{Type: TypeTick, Topic: "MSFT", TS: int64(i)}
			if err := writeFrame(conn, tick); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for want := int64(1); want <= n; want++ {
		msg, _ := nextFrame(t, client)
		if msg.TS != want {
			t.Fatalf("tick ts = %d, want %d", msg.TS, want)
		}
	}
}

func TestClient_ErrorOnServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return immediately, closing the connection.
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
			t.Error("expected non-nil transport error")
		}
	case <-time.After(time.Second):
		t.Fatal("no error after server closed the connection")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)

	if err := client.Send([]byte("test")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)
	client.Close()

	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
