package gopusher

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ramory-l/gopusher/apps"
)

// session is the transport side of a socket
type session interface {
	Send(data []byte) error
	Close(code int, reason string)
}

// Socket represents a client connection
type Socket struct {
	id         string
	app        *apps.App
	session    session
	presence   map[string]PresenceMember
	presenceMu sync.RWMutex
}

// NewSocket creates a new socket
func NewSocket(id string, app *apps.App, session session) *Socket {
	return &Socket{
		id:       id,
		app:      app,
		session:  session,
		presence: make(map[string]PresenceMember),
	}
}

// NewSocketID generates an ID in the "<digits>.<digits>" form clients expect
func NewSocketID() string {
	return fmt.Sprintf("%d.%d", rand.Uint32(), rand.Uint32())
}

// ID returns the socket ID
func (s *Socket) ID() string {
	return s.id
}

// App returns the app the socket connected to
func (s *Socket) App() *apps.App {
	return s.app
}

// Send queues raw bytes for the client
func (s *Socket) Send(data []byte) error {
	return s.session.Send(data)
}

// SendEvent encodes and sends a server event
func (s *Socket) SendEvent(event, channel string, v any) error {
	return sendEvent(s, event, channel, v)
}

// SendError sends a pusher:error frame
func (s *Socket) SendError(code int, message string) error {
	return s.SendEvent(EventError, "", &ProtocolError{Code: code, Message: message})
}

// Close closes the connection with a protocol close code
func (s *Socket) Close(code int, reason string) {
	s.session.Close(code, reason)
}

// Presence returns the member recorded for a presence channel
func (s *Socket) Presence(channel string) (PresenceMember, bool) {
	s.presenceMu.RLock()
	defer s.presenceMu.RUnlock()

	member, ok := s.presence[channel]
	return member, ok
}

// SetPresence records the member for a presence channel
func (s *Socket) SetPresence(channel string, member PresenceMember) {
	s.presenceMu.Lock()
	s.presence[channel] = member
	s.presenceMu.Unlock()
}

// DeletePresence removes and returns the member for a presence channel
func (s *Socket) DeletePresence(channel string) (PresenceMember, bool) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	member, ok := s.presence[channel]
	delete(s.presence, channel)
	return member, ok
}
