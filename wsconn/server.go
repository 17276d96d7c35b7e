package wsconn

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds transport configuration
type Config struct {
	// ActivityTimeout is how long a session may stay silent before the
	// server sends PingMessage. Zero disables pinging.
	ActivityTimeout time.Duration
	// PongTimeout is how long the server waits for any frame after a ping.
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	PingMessage    []byte
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConfig returns default transport configuration
func DefaultConfig() *Config {
	return &Config{
		ActivityTimeout: 120 * time.Second,
		PongTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  100 * 1024,
		SendBuffer:      256,
	}
}

// Server upgrades HTTP requests to sessions and tracks the live ones
type Server struct {
	config   *Config
	upgrader websocket.Upgrader
	sessions sync.Map
}

// NewServer creates a new transport server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Upgrade switches the request to the websocket protocol and returns an
// unstarted session. Handlers must be installed before calling Start.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request, id string) (*Session, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	session := newSession(id, conn, s)
	s.sessions.Store(id, session)
	return session, nil
}

// Count returns the number of open sessions
func (s *Server) Count() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close closes every session with the given close code
func (s *Server) Close(code int, reason string) {
	s.sessions.Range(func(_, value any) bool {
		value.(*Session).Close(code, reason)
		return true
	})
}

func (s *Server) forget(id string) {
	s.sessions.Delete(id)
}
