package wsconn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one client connection. Send never blocks: frames go through a
// bounded queue drained by a dedicated writer goroutine.
type Session struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	outgoing chan []byte

	closeOnce   sync.Once
	finishOnce  sync.Once
	closed      chan struct{}
	started     atomic.Bool
	closeCode   int
	closeReason string

	mu           sync.Mutex
	pingTimer    *time.Timer
	pongTimer    *time.Timer
	onMessage    func([]byte)
	onClose      func(code int, reason string)
	lastActivity time.Time
}

func newSession(id string, conn *websocket.Conn, server *Server) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		server:       server,
		outgoing:     make(chan []byte, max(server.config.SendBuffer, 1)),
		closed:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LastActivity returns when the last frame was received
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Start starts the session loops
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	select {
	case <-s.closed:
		return
	default:
	}
	if s.server.config.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.server.config.MaxMessageSize)
	}
	go s.writeLoop()
	go s.readLoop()
	s.schedulePing()
}

// Send queues a frame for the client
func (s *Session) Send(data []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

// Close closes the session. Frames queued before Close are flushed before
// the close frame is written.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.closed)
		s.stopTimers()

		if !s.started.Load() {
			s.flush()
			s.finish()
		}
	})
}

// Done is closed once Close has been called
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// OnMessage sets the message handler
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose sets the close handler
func (s *Session) OnClose(fn func(code int, reason string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			s.Close(code, "read error")
			return
		}

		s.updateActivity()
		s.handleMessage(data)
	}
}

func (s *Session) writeLoop() {
	defer s.finish()

	for {
		select {
		case data := <-s.outgoing:
			if err := s.write(data); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write error")
				return
			}
		case <-s.closed:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case data := <-s.outgoing:
			if err := s.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(data []byte) error {
	if t := s.server.config.WriteTimeout; t > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(t))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) finish() {
	s.finishOnce.Do(func() {
		msg := websocket.FormatCloseMessage(s.closeCode, s.closeReason)
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.conn.Close()
		s.server.forget(s.id)

		s.mu.Lock()
		handler := s.onClose
		s.mu.Unlock()

		if handler != nil {
			handler(s.closeCode, s.closeReason)
		}
	})
}

func (s *Session) handleMessage(data []byte) {
	s.mu.Lock()
	handler := s.onMessage
	s.mu.Unlock()

	if handler != nil {
		handler(data)
	}
}

func (s *Session) schedulePing() {
	cfg := s.server.config
	if cfg.ActivityTimeout <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}
	if s.pongTimer != nil {
		s.pongTimer.Stop()
		s.pongTimer = nil
	}
	s.pingTimer = time.AfterFunc(cfg.ActivityTimeout, func() {
		if len(cfg.PingMessage) > 0 {
			s.Send(cfg.PingMessage)
		}
		s.schedulePongTimeout()
	})
}

func (s *Session) schedulePongTimeout() {
	timeout := s.server.config.PongTimeout
	if timeout <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}
	s.pongTimer = time.AfterFunc(timeout, func() {
		s.Close(4201, "Pong reply not received in time")
	})
}

func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}
	if s.pongTimer != nil {
		s.pongTimer.Stop()
	}
}

func (s *Session) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.schedulePing()
}
