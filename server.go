package gopusher

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ramory-l/gopusher/apps"
	"github.com/ramory-l/gopusher/log"
	"github.com/ramory-l/gopusher/metrics"
	"github.com/ramory-l/gopusher/ratelimit"
	"github.com/ramory-l/gopusher/wsconn"
)

var channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-=@,.;]+$`)

var _ Connection = (*Socket)(nil)

// Config represents server configuration
type Config struct {
	ActivityTimeout time.Duration
	PongTimeout     time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	// Limits fill in every limit an app leaves at zero
	Limits apps.Limits
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		ActivityTimeout: 120 * time.Second,
		PongTimeout:     30 * time.Second,
		MaxMessageSize:  100 * 1024,
		SendBuffer:      256,
		Limits:          apps.DefaultLimits(),
	}
}

// Option configures a Server
type Option func(*Server)

// WithMetrics sets the metrics recorder
func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = recorder
	}
}

// WithLimiter sets the limiter used for client event quotas
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server terminates client sockets and routes protocol events to the
// channel managers and the adapter
type Server struct {
	config      *Config
	transport   *wsconn.Server
	apps        apps.Manager
	adapter     Adapter
	metrics     metrics.Recorder
	limiter     ratelimit.Limiter
	ownsLimiter bool
	logger      zerolog.Logger
	closing     atomic.Bool

	public   ChannelManager
	private  ChannelManager
	presence ChannelManager
}

// NewServer creates a new server. A nil adapter means a LocalAdapter.
func NewServer(config *Config, appManager apps.Manager, adapter Adapter, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config:  config,
		apps:    appManager,
		metrics: metrics.Nop{},
		logger:  log.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.limiter == nil {
		s.limiter = ratelimit.NewMemory()
		s.ownsLimiter = true
	}
	if adapter == nil {
		adapter = NewLocalAdapter(s.metrics)
	}
	s.adapter = adapter

	s.public = NewPublicChannelManager(adapter)
	s.private = NewPrivateChannelManager(adapter)
	s.presence = NewPresenceChannelManager(adapter)

	ping, _ := encodeFrame(EventPing, "", struct{}{})
	s.transport = wsconn.NewServer(&wsconn.Config{
		ActivityTimeout: config.ActivityTimeout,
		PongTimeout:     config.PongTimeout,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  config.MaxMessageSize,
		SendBuffer:      config.SendBuffer,
		PingMessage:     ping,
	})

	return s
}

// Adapter returns the adapter
func (s *Server) Adapter() Adapter {
	return s.adapter
}

// Closing reports whether Close has been called
func (s *Server) Closing() bool {
	return s.closing.Load()
}

// FindAppByID looks up an app and applies the server default limits
func (s *Server) FindAppByID(ctx context.Context, id string) (*apps.App, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return app.WithDefaults(s.config.Limits), nil
}

// FindAppByKey looks up an app by key and applies the server default limits
func (s *Server) FindAppByKey(ctx context.Context, key string) (*apps.App, error) {
	app, err := s.apps.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return app.WithDefaults(s.config.Limits), nil
}

// ServeHTTP upgrades /app/{key} requests to sockets
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		key = strings.TrimPrefix(r.URL.Path, "/app/")
	}

	id := NewSocketID()
	session, err := s.transport.Upgrade(w, r, id)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	app, err := s.FindAppByKey(r.Context(), key)
	if err != nil {
		message := fmt.Sprintf("App key %s does not exist.", key)
		if data, err := encodeFrame(EventError, "", &ProtocolError{Code: CodeAppNotFound, Message: message}); err == nil {
			session.Send(data)
		}
		session.Close(CodeAppNotFound, message)
		return
	}

	socket := NewSocket(id, app, session)
	session.OnMessage(func(data []byte) {
		s.handleMessage(socket, data)
	})
	session.OnClose(func(code int, reason string) {
		s.Disconnect(app.ID, id)
	})

	if err := s.Connect(r.Context(), socket); err != nil {
		s.logger.Debug().Err(err).Str("app_id", app.ID).Msg("Connection rejected")
		return
	}
	session.Start()
}

// Connect registers a new socket and greets it with its socket ID. A socket
// that cannot be accepted gets a pusher:error and is closed.
func (s *Server) Connect(ctx context.Context, socket *Socket) error {
	app := socket.App()

	if s.closing.Load() {
		return s.reject(socket, CodeServerClosing, "Server is closing. Please reconnect shortly.")
	}
	if !app.Enabled {
		return s.reject(socket, CodeAppDisabled, "The app is not enabled.")
	}
	if limit := app.MaxConnections; limit >= 0 && s.adapter.SocketsCount(ctx, app.ID, false) >= limit {
		return s.reject(socket, CodeOverQuota, "The current concurrent connections quota has been reached.")
	}

	s.adapter.Namespace(app.ID).AddSocket(socket)
	s.metrics.MarkNewConnection(app.ID)

	s.logger.Debug().
		Str("app_id", app.ID).
		Str("socket_id", socket.ID()).
		Msg("Socket connected")

	return socket.SendEvent(EventConnectionEstablished, "", map[string]any{
		"socket_id":        socket.ID(),
		"activity_timeout": int(s.config.ActivityTimeout / time.Second),
	})
}

func (s *Server) reject(socket *Socket, code int, message string) error {
	socket.SendError(code, message)
	socket.Close(code, message)
	return &ProtocolError{Code: code, Message: message}
}

// Disconnect leaves every presence channel of the socket, announcing the
// departures, then removes the socket from the registry
func (s *Server) Disconnect(appID, socketID string) {
	ctx := context.Background()
	ns := s.adapter.Namespace(appID)
	if _, ok := ns.Socket(socketID); !ok {
		return
	}

	for _, channel := range ns.SocketChannels(socketID) {
		if IsPresenceChannel(channel) {
			s.Unsubscribe(ctx, appID, socketID, channel)
		}
	}

	if ns.RemoveSocket(socketID) {
		s.metrics.MarkDisconnection(appID)
		s.logger.Debug().
			Str("app_id", appID).
			Str("socket_id", socketID).
			Msg("Socket disconnected")
	}
}

// Subscribe joins a socket to a channel and answers with the protocol
// response. It returns nil when the socket is unknown.
func (s *Server) Subscribe(ctx context.Context, appID, socketID string, data *SubscribeData) *JoinResponse {
	conn, ok := s.adapter.Namespace(appID).Socket(socketID)
	if !ok || data == nil {
		return nil
	}

	app := conn.App()
	channel := data.Channel
	if message, ok := validChannelName(channel, app.MaxChannelNameLength); !ok {
		sendEvent(conn, EventError, "", &ProtocolError{Code: CodeUnauthorized, Message: message})
		return &JoinResponse{ErrorCode: CodeUnauthorized, ErrorMessage: message}
	}

	resp := s.managerFor(channel).Join(ctx, conn, channel, data)
	if !resp.Success {
		if resp.AuthError {
			sendEvent(conn, EventSubscriptionError, channel, map[string]any{
				"type":   resp.Type,
				"error":  resp.ErrorMessage,
				"status": http.StatusUnauthorized,
			})
		} else {
			sendEvent(conn, EventError, "", &ProtocolError{Code: resp.ErrorCode, Message: resp.ErrorMessage})
		}
		return resp
	}

	if !IsPresenceChannel(channel) {
		sendEvent(conn, EventSubscriptionSucceeded, channel, struct{}{})
		return resp
	}

	members := s.adapter.ChannelMembers(ctx, app.ID, channel, false)
	sendEvent(conn, EventSubscriptionSucceeded, channel, map[string]PresenceData{
		"presence": NewPresenceData(members),
	})
	if !resp.MemberExisted {
		s.broadcastEvent(app.ID, channel, EventMemberAdded, resp.Member, socketID)
	}
	return resp
}

// Unsubscribe removes a socket from a channel. Leaving a presence channel
// announces member_removed once the user has no connection left in it.
func (s *Server) Unsubscribe(ctx context.Context, appID, socketID, channel string) *LeaveResponse {
	conn, ok := s.adapter.Namespace(appID).Socket(socketID)
	if !ok {
		return nil
	}

	resp := s.managerFor(channel).Leave(ctx, conn, channel)
	if resp.Member != nil {
		members := s.adapter.ChannelMembers(ctx, appID, channel, false)
		if _, present := members[resp.Member.UserID]; !present {
			s.broadcastEvent(appID, channel, EventMemberRemoved, map[string]string{
				"user_id": resp.Member.UserID,
			}, socketID)
		}
	}
	return resp
}

// Close closes every socket with code 4200 and releases the adapter
func (s *Server) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.transport.Close(CodeServerClosing, "Server closed. Please reconnect shortly.")

	err := s.adapter.Close()
	if s.ownsLimiter {
		s.limiter.Close()
	}
	return err
}

func (s *Server) managerFor(channel string) ChannelManager {
	switch {
	case IsPresenceChannel(channel):
		return s.presence
	case IsPrivateChannel(channel):
		return s.private
	default:
		return s.public
	}
}

func (s *Server) handleMessage(socket *Socket, data []byte) {
	app := socket.App()
	s.metrics.MarkWsMessageReceived(app.ID, data)

	msg, err := DecodeMessage(data)
	if err != nil {
		s.logger.Debug().Err(err).Str("socket_id", socket.ID()).Msg("Invalid message")
		return
	}

	ctx := context.Background()
	switch msg.Event {
	case EventPing:
		socket.SendEvent(EventPong, "", struct{}{})
	case EventSubscribe:
		var sub SubscribeData
		if err := msg.DecodeData(&sub); err != nil {
			socket.SendError(CodeUnauthorized, "Invalid subscription data.")
			return
		}
		s.Subscribe(ctx, app.ID, socket.ID(), &sub)
	case EventUnsubscribe:
		var sub SubscribeData
		if err := msg.DecodeData(&sub); err != nil {
			return
		}
		s.Unsubscribe(ctx, app.ID, socket.ID(), sub.Channel)
	default:
		if IsClientEvent(msg.Event) {
			s.handleClientEvent(ctx, socket, msg)
		}
	}
}

func (s *Server) handleClientEvent(ctx context.Context, socket *Socket, msg *Message) {
	app := socket.App()

	if message, ok := s.checkClientEvent(ctx, socket, msg); !ok {
		socket.SendError(CodeClientEventDenied, message)
		return
	}

	out := &Message{Event: msg.Event, Channel: msg.Channel, Data: msg.Data}
	if IsPresenceChannel(msg.Channel) {
		if member, ok := socket.Presence(msg.Channel); ok {
			out.UserID = member.UserID
		}
	}

	data, err := out.Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode client event")
		return
	}
	s.adapter.Send(app.ID, msg.Channel, data, socket.ID())
}

func (s *Server) checkClientEvent(ctx context.Context, socket *Socket, msg *Message) (string, bool) {
	app := socket.App()

	if !app.EnableClientMessages {
		return "The app does not have client messaging enabled.", false
	}
	if !IsPrivateChannel(msg.Channel) && !IsPresenceChannel(msg.Channel) {
		return "Client events are only allowed on private and presence channels.", false
	}
	if !s.adapter.IsInChannel(ctx, app.ID, msg.Channel, socket.ID(), true) {
		return "The client is not subscribed to the channel.", false
	}
	if limit := app.MaxEventNameLength; limit >= 0 && len(msg.Event) > limit {
		return fmt.Sprintf("Event name is too long. Maximum allowed size is %d.", limit), false
	}
	if limit := app.MaxEventPayloadInKb; limit >= 0 && kilobytes(msg.Data) > limit {
		return fmt.Sprintf("The event data should be less than %v KB.", limit), false
	}
	if limit := app.MaxClientEventsPerSecond; limit > 0 {
		key := app.ID + ":client-events:" + socket.ID()
		if d := s.limiter.Consume(ctx, key, 1, limit, time.Second); !d.Allowed {
			return "The rate limit for sending client events exceeded the quota.", false
		}
	}
	return "", true
}

func (s *Server) broadcastEvent(appID, channel, event string, v any, exceptingID string) {
	data, err := encodeFrame(event, channel, v)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}
	s.adapter.Send(appID, channel, data, exceptingID)
}

func sendEvent(conn Connection, event, channel string, v any) error {
	data, err := encodeFrame(event, channel, v)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func validChannelName(channel string, maxLength int) (string, bool) {
	if channel == "" || !channelNamePattern.MatchString(channel) {
		return "The channel name is not allowed.", false
	}
	if maxLength >= 0 && len(channel) > maxLength {
		return fmt.Sprintf("The channel name is longer than the allowed %d characters.", maxLength), false
	}
	return "", true
}

func kilobytes(data []byte) float64 {
	return float64(len(data)) / 1024
}
