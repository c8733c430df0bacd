package lilyvoice

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testConfig(endpoint string) *Config {
	return &Config{
		Endpoint:                  endpoint,
		ClientID:                  "default_user",
		HeartbeatInterval:         40 * time.Millisecond,
		ReconnectDelay:            30 * time.Millisecond,
		RegistrationRetryInterval: 15 * time.Millisecond,
		RegistrationMaxAttempts:   10,
	}
}

// newWSServer runs handle once per accepted websocket connection.
func newWSServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// registeringServer acknowledges the first registration frame and then
// keeps reading, answering pings, until the client goes away.
func registeringServer(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		text := string(data)
		switch {
		case strings.HasPrefix(text, "register:"):
			if err := conn.WriteMessage(websocket.TextMessage, []byte("registered")); err != nil {
				return
			}
		case text == "ping":
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSessionRegistersOnConnect(t *testing.T) {
	url := newWSServer(t, registeringServer)

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	recorder := &statusRecorder{}
	session.SubscribeStatus(recorder.record)

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return session.Status().Registered }) {
		t.Fatalf("session never registered, state=%s", session.State())
	}
	if session.State() != StateRegistered {
		t.Errorf("expected state %s, got %s", StateRegistered, session.State())
	}

	found := false
	for _, st := range recorder.all() {
		if st.Connected && st.Registered {
			found = true
		}
	}
	if !found {
		t.Error("no {connected:true, registered:true} status was broadcast")
	}
}

func TestRegistrationAttemptsCapped(t *testing.T) {
	var registerFrames int64
	url := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		// Never acknowledge, just count.
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.HasPrefix(string(data), "register:") {
				atomic.AddInt64(&registerFrames, 1)
			}
		}
	})

	cfg := testConfig(url)
	session := NewSession(cfg, nil)
	defer session.Disconnect()

	recorder := &statusRecorder{}
	session.SubscribeStatus(recorder.record)

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Enough time for the cap plus several would-be extra retries.
	settle := time.Duration(cfg.RegistrationMaxAttempts+5) * cfg.RegistrationRetryInterval
	time.Sleep(settle + 100*time.Millisecond)

	if got := session.RegistrationAttempts(); got != cfg.RegistrationMaxAttempts {
		t.Errorf("expected %d registration attempts, got %d", cfg.RegistrationMaxAttempts, got)
	}
	if got := atomic.LoadInt64(&registerFrames); got != int64(cfg.RegistrationMaxAttempts) {
		t.Errorf("server saw %d registration frames, want %d", got, cfg.RegistrationMaxAttempts)
	}
	if session.State() != StateUnregistered {
		t.Errorf("expected state %s, got %s", StateUnregistered, session.State())
	}

	connectedEvents := 0
	for _, st := range recorder.all() {
		if st.Connected {
			connectedEvents++
			if st.Registered {
				t.Error("session reported registered without an ack")
			}
		}
	}
	if connectedEvents != 1 {
		t.Errorf("expected exactly one connected status event, got %d", connectedEvents)
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	var dials int64
	url := newWSServer(t, func(conn *websocket.Conn) {
		n := atomic.AddInt64(&dials, 1)
		if n == 1 {
			// Drop the first connection straight away.
			conn.Close()
			return
		}
		registeringServer(conn)
	})

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return session.Status().Registered }) {
		t.Fatalf("session did not recover after server close, state=%s", session.State())
	}
	if atomic.LoadInt64(&dials) < 2 {
		t.Errorf("expected at least 2 dials, got %d", dials)
	}
}

func TestReconnectAfterDialFailure(t *testing.T) {
	var dials int64
	// Refuse the upgrade for the first request so the dial itself fails.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&dials, 1) == 1 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		registeringServer(conn)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return session.Status().Registered }) {
		t.Fatalf("session did not recover after dial failure, state=%s", session.State())
	}
}

func TestRegisteredAckIdempotent(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.HasPrefix(string(data), "register:") {
				// Ack twice: the second must be a no-op.
				conn.WriteMessage(websocket.TextMessage, []byte("registered"))
				conn.WriteMessage(websocket.TextMessage, []byte("registered"))
			}
		}
	})

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	recorder := &statusRecorder{}
	session.SubscribeStatus(recorder.record)

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return session.Status().Registered }) {
		t.Fatal("session never registered")
	}
	attempts := session.RegistrationAttempts()
	time.Sleep(100 * time.Millisecond)

	registeredEvents := 0
	for _, st := range recorder.all() {
		if st.Registered {
			registeredEvents++
		}
	}
	if registeredEvents != 1 {
		t.Errorf("expected exactly one registered status event, got %d", registeredEvents)
	}
	if got := session.RegistrationAttempts(); got != attempts {
		t.Errorf("duplicate ack changed attempt counter: %d -> %d", attempts, got)
	}
}

func TestDisconnectStopsReconnect(t *testing.T) {
	var dials int64
	url := newWSServer(t, func(conn *websocket.Conn) {
		atomic.AddInt64(&dials, 1)
		registeringServer(conn)
	})

	cfg := testConfig(url)
	session := NewSession(cfg, nil)

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return session.Status().Registered }) {
		t.Fatal("session never registered")
	}

	session.Disconnect()
	before := atomic.LoadInt64(&dials)

	// Give belated close events and any stray reconnect timers time to
	// fire; none may produce a new dial.
	time.Sleep(5 * cfg.ReconnectDelay)

	if after := atomic.LoadInt64(&dials); after != before {
		t.Errorf("reconnect happened after Disconnect: %d -> %d dials", before, after)
	}
	if session.State() != StateClosing {
		t.Errorf("expected terminal state %s, got %s", StateClosing, session.State())
	}
	if st := session.Status(); st.Connected || st.Registered {
		t.Errorf("status not cleared after Disconnect: %+v", st)
	}
	if err := session.Connect(); !IsErrorCode(err, ErrCodeSessionClosing) {
		t.Errorf("Connect after Disconnect: want %s error, got %v", ErrCodeSessionClosing, err)
	}
}

func TestConnectIsIdempotentRestart(t *testing.T) {
	var dials int64
	url := newWSServer(t, func(conn *websocket.Conn) {
		atomic.AddInt64(&dials, 1)
		registeringServer(conn)
	})

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return session.Status().Registered }) {
		t.Fatal("session never registered")
	}

	// Second Connect tears down and re-establishes.
	if err := session.Connect(); err != nil {
		t.Fatalf("restart Connect failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool {
		return session.Status().Registered && atomic.LoadInt64(&dials) >= 2
	}) {
		t.Fatalf("session did not re-register after restart, dials=%d", dials)
	}
}

func TestSendRequiresOpenSocket(t *testing.T) {
	session := NewSession(testConfig("ws://localhost:1"), nil)

	if err := session.SendText("hello"); !IsErrorCode(err, ErrCodeNotConnected) {
		t.Errorf("want %s error, got %v", ErrCodeNotConnected, err)
	}
	if err := session.SendBinary([]byte{1, 2, 3}); !IsErrorCode(err, ErrCodeNotConnected) {
		t.Errorf("want %s error, got %v", ErrCodeNotConnected, err)
	}
}

func TestProtocolFramesConsumedMessagesForwarded(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.HasPrefix(string(data), "register:") {
				conn.WriteMessage(websocket.TextMessage, []byte("registered"))
				conn.WriteMessage(websocket.TextMessage, []byte("pong"))
				conn.WriteMessage(websocket.TextMessage, []byte("hello there"))
				conn.WriteMessage(websocket.BinaryMessage, []byte{0xAB, 0xCD})
			}
		}
	})

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	var mu sync.Mutex
	var texts []string
	var binaries [][]byte
	session.SubscribeMessages(func(text string) {
		mu.Lock()
		texts = append(texts, text)
		mu.Unlock()
	})
	session.SubscribeBinary(func(data []byte) {
		mu.Lock()
		binaries = append(binaries, data)
		mu.Unlock()
	})

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) > 0 && len(binaries) > 0
	}) {
		t.Fatal("application frames were not forwarded")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, text := range texts {
		if text == "pong" || text == "registered" {
			t.Errorf("protocol frame %q leaked to message listeners", text)
		}
	}
	if texts[0] != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", texts[0])
	}
	if len(binaries[0]) != 2 {
		t.Errorf("binary frame mangled: %v", binaries[0])
	}
}

func TestHeartbeatSent(t *testing.T) {
	var pings int64
	url := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch {
			case string(data) == "ping":
				atomic.AddInt64(&pings, 1)
				conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			case strings.HasPrefix(string(data), "register:"):
				conn.WriteMessage(websocket.TextMessage, []byte("registered"))
			}
		}
	})

	session := NewSession(testConfig(url), nil)
	defer session.Disconnect()

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&pings) >= 2 }) {
		t.Errorf("expected repeated heartbeats, got %d", pings)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	session := NewSession(testConfig("ws://localhost:1"), nil)

	var calls int64
	unsubscribe := session.SubscribeStatus(func(Status) {
		atomic.AddInt64(&calls, 1)
	})
	unsubscribe()
	unsubscribe() // removal is idempotent

	session.emitStatus(Status{Connected: true})
	if atomic.LoadInt64(&calls) != 0 {
		t.Errorf("unsubscribed handler was invoked %d times", calls)
	}
}

func TestIsProtocolFrame(t *testing.T) {
	for _, frame := range []string{"ping", "pong", "registered", "register:default_user"} {
		if !IsProtocolFrame(frame) {
			t.Errorf("expected %q to be a protocol frame", frame)
		}
	}
	for _, frame := range []string{"hello", "", "pinged", "registration"} {
		if IsProtocolFrame(frame) {
			t.Errorf("did not expect %q to be a protocol frame", frame)
		}
	}
}
