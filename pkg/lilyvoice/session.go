package lilyvoice

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Protocol frames exchanged with the conversation backend. Everything else
// on the text channel is an application message and is forwarded verbatim.
const (
	frameHeartbeat          = "ping"
	frameHeartbeatAck       = "pong"
	frameRegistrationAck    = "registered"
	frameRegistrationPrefix = "register:"
)

// Session maintains the persistent websocket connection to the backend and
// drives the heartbeat, registration and reconnect sub-protocols.
//
// A Session moves through Disconnected -> Connecting -> Unregistered ->
// Registered. Any socket loss drops it back to Disconnected and schedules a
// reconnect after a fixed delay; Disconnect is the only way out of that
// loop and is terminal for the instance.
//
// Every connect/teardown bumps the generation counter. Goroutines and
// timers capture the generation they were started for and no-op once the
// session has moved on, so a superseded read loop or a late reconnect timer
// can never touch fresh state.
type Session struct {
	cfg *Config
	log *Logger

	mu          sync.Mutex
	state       ConnectionState
	conn        *websocket.Conn
	gen         uint64
	closing     bool
	regAttempts int

	statusSubs map[int]StatusHandler
	textSubs   map[int]MessageHandler
	binarySubs map[int]BinaryHandler
	nextSubID  int

	writeMu sync.Mutex
}

func NewSession(cfg *Config, logger *Logger) *Session {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &Session{
		cfg:        cfg,
		log:        logger.WithComponent("Session"),
		state:      StateDisconnected,
		statusSubs: make(map[int]StatusHandler),
		textSubs:   make(map[int]MessageHandler),
		binarySubs: make(map[int]BinaryHandler),
	}
}

// Connect opens a socket to the configured endpoint. If a connection is
// already established or in progress it is torn down first, so Connect
// doubles as a restart. Returns an error only after Disconnect.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return newSessionClosingError()
	}

	s.gen++
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	s.log.LogConnectionEvent("connecting", StateConnecting, map[string]interface{}{
		"endpoint": s.cfg.Endpoint,
	})
	s.emitStatus(Status{})

	go s.dial(gen)
	return nil
}

func (s *Session) dial(gen uint64) {
	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.Endpoint, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket dial failed")
		s.socketClosed(gen, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = StateUnregistered
	s.regAttempts = 0
	s.mu.Unlock()

	s.log.LogConnectionEvent("connected", StateUnregistered, nil)
	s.emitStatus(Status{Connected: true})

	go s.readLoop(gen, conn)
	go s.heartbeatLoop(gen, conn)
	go s.registrationLoop(gen, conn)
}

func (s *Session) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.socketClosed(gen, err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.handleText(gen, string(data))
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *Session) handleText(gen uint64, text string) {
	switch text {
	case frameRegistrationAck:
		s.markRegistered(gen)
	case frameHeartbeatAck:
		s.log.Debug("Heartbeat acknowledged")
	default:
		s.mu.Lock()
		handlers := make([]MessageHandler, 0, len(s.textSubs))
		for _, h := range s.textSubs {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()

		// Invoked synchronously so all listeners observe this frame
		// before the next one is read off the socket.
		for _, h := range handlers {
			h(text)
		}
	}
}

func (s *Session) handleBinary(data []byte) {
	s.mu.Lock()
	handlers := make([]BinaryHandler, 0, len(s.binarySubs))
	for _, h := range s.binarySubs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (s *Session) markRegistered(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateUnregistered {
		// Duplicate ack or superseded connection.
		s.mu.Unlock()
		return
	}
	s.state = StateRegistered
	attempts := s.regAttempts
	s.mu.Unlock()

	s.log.LogConnectionEvent("registered", StateRegistered, map[string]interface{}{
		"attempts": attempts,
	})
	s.emitStatus(Status{Connected: true, Registered: true})
}

// socketClosed handles any loss of the socket: read errors, dial failures
// and remote closes all funnel through here exactly once per generation.
func (s *Session) socketClosed(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closing {
		s.mu.Unlock()
		return
	}
	s.gen++
	next := s.gen
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	delay := s.cfg.ReconnectDelay
	s.mu.Unlock()

	s.log.WithError(err).LogConnectionEvent("disconnected", StateDisconnected, map[string]interface{}{
		"reconnect_in": delay.String(),
	})
	s.emitStatus(Status{})

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		stale := next != s.gen || s.closing
		s.mu.Unlock()
		if stale {
			return
		}
		if cerr := s.Connect(); cerr != nil {
			s.log.WithError(cerr).Warn("Scheduled reconnect aborted")
		}
	})
}

func (s *Session) heartbeatLoop(gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		stale := gen != s.gen
		open := s.conn == conn && (s.state == StateUnregistered || s.state == StateRegistered)
		s.mu.Unlock()

		if stale {
			return
		}
		if !open {
			// The socket stopped delivering close events; force the
			// issue so the read loop unblocks and reconnects.
			conn.Close()
			return
		}
		if err := s.writeFrame(conn, websocket.TextMessage, []byte(frameHeartbeat)); err != nil {
			s.log.WithError(err).Warn("Heartbeat send failed, closing socket")
			conn.Close()
			return
		}
		s.log.Debug("Heartbeat sent")
	}
}

// registrationLoop announces the client id until the backend acknowledges
// or the attempt cap is reached. Hitting the cap leaves the connection up:
// liveness still works, but audio stays gated off until the next socket.
func (s *Session) registrationLoop(gen uint64, conn *websocket.Conn) {
	for {
		s.mu.Lock()
		if gen != s.gen || s.conn != conn || s.state != StateUnregistered {
			s.mu.Unlock()
			return
		}
		if s.regAttempts >= s.cfg.RegistrationMaxAttempts {
			s.mu.Unlock()
			s.log.LogClientError(NewClientError(
				"registration attempts exhausted, staying unregistered",
				ErrCodeRegistrationExhausted,
			).AddDetail("attempts", s.cfg.RegistrationMaxAttempts))
			return
		}
		s.regAttempts++
		attempt := s.regAttempts
		s.mu.Unlock()

		frame := frameRegistrationPrefix + s.cfg.ClientID
		if err := s.writeFrame(conn, websocket.TextMessage, []byte(frame)); err != nil {
			s.log.WithError(err).Warn("Registration send failed")
			return
		}
		s.log.Debugf("Registration sent, attempt %d/%d", attempt, s.cfg.RegistrationMaxAttempts)

		time.Sleep(s.cfg.RegistrationRetryInterval)
	}
}

// Disconnect shuts the session down for good: pending timers are
// invalidated, the socket is closed, and no reconnect is scheduled. The
// instance cannot be reused afterwards; construct a new Session instead.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.gen++
	s.state = StateClosing
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		conn.Close()
	}

	s.log.LogConnectionEvent("closed", StateClosing, nil)
	s.emitStatus(Status{})
}

// SendText writes a text frame. Fails immediately when the socket is not
// open; nothing is queued.
func (s *Session) SendText(text string) error {
	return s.send(websocket.TextMessage, []byte(text))
}

// SendBinary writes a binary frame (one captured audio chunk).
func (s *Session) SendBinary(data []byte) error {
	return s.send(websocket.BinaryMessage, data)
}

func (s *Session) send(msgType int, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := conn != nil && (s.state == StateUnregistered || s.state == StateRegistered)
	s.mu.Unlock()

	if !open {
		return newNotConnectedError()
	}
	if err := s.writeFrame(conn, msgType, data); err != nil {
		return WrapError(err, ErrCodeSocketFault)
	}
	return nil
}

func (s *Session) writeFrame(conn *websocket.Conn, msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(msgType, data)
}

// Status returns the current {connected, registered} snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Connected:  s.state == StateUnregistered || s.state == StateRegistered,
		Registered: s.state == StateRegistered,
	}
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RegistrationAttempts returns how many registration frames have been sent
// on the current socket.
func (s *Session) RegistrationAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regAttempts
}

// SubscribeStatus registers a listener for status transitions and returns
// its unsubscribe func.
func (s *Session) SubscribeStatus(h StatusHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.statusSubs[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.statusSubs, id)
	}
}

// SubscribeMessages registers a listener for non-protocol text frames.
func (s *Session) SubscribeMessages(h MessageHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.textSubs[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.textSubs, id)
	}
}

// SubscribeBinary registers a listener for binary frames.
func (s *Session) SubscribeBinary(h BinaryHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.binarySubs[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.binarySubs, id)
	}
}

func (s *Session) emitStatus(st Status) {
	s.mu.Lock()
	handlers := make([]StatusHandler, 0, len(s.statusSubs))
	for _, h := range s.statusSubs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(st)
	}
}

// IsProtocolFrame reports whether a text frame is consumed internally by
// the session rather than forwarded to message listeners.
func IsProtocolFrame(text string) bool {
	return text == frameHeartbeatAck || text == frameRegistrationAck ||
		text == frameHeartbeat || strings.HasPrefix(text, frameRegistrationPrefix)
}
