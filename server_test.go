package gopusher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/gopusher/apps"
)

// fakeSession stands in for a websocket session
type fakeSession struct {
	mu        sync.Mutex
	frames    []*Message
	closed    bool
	closeCode int
}

func (s *fakeSession) Send(data []byte) error {
	msg, err := DecodeMessage(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, msg)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Close(code int, reason string) {
	s.mu.Lock()
	s.closed = true
	s.closeCode = code
	s.mu.Unlock()
}

func (s *fakeSession) find(event string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Event == event {
			return s.frames[i]
		}
	}
	return nil
}

func (s *fakeSession) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		events = append(events, f.Event)
	}
	return events
}

func newServer(t *testing.T, list ...apps.App) *Server {
	t.Helper()
	if len(list) == 0 {
		list = []apps.App{*testApp}
	}
	server := NewServer(nil, apps.NewStaticManager(list), nil)
	t.Cleanup(func() { server.Close() })
	return server
}

func connect(t *testing.T, server *Server, app *apps.App, id string) (*Socket, *fakeSession) {
	t.Helper()
	sess := &fakeSession{}
	socket := NewSocket(id, app, sess)
	require.NoError(t, server.Connect(context.Background(), socket))
	return socket, sess
}

func TestConnectSendsConnectionEstablished(t *testing.T) {
	server := newServer(t)
	_, sess := connect(t, server, testApp, "1.1")

	frame := sess.find(EventConnectionEstablished)
	require.NotNil(t, frame)

	var data struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	require.NoError(t, frame.DecodeData(&data))
	assert.Equal(t, "1.1", data.SocketID)
	assert.Equal(t, 120, data.ActivityTimeout)
	assert.Equal(t, 1, server.Adapter().SocketsCount(context.Background(), "app1", false))
}

func TestConnectRejections(t *testing.T) {
	disabled := *testApp
	disabled.Enabled = false

	limited := *testApp
	limited.MaxConnections = 1

	tests := []struct {
		name string
		app  *apps.App
		pre  int
		code int
	}{
		{name: "disabled app", app: &disabled, code: CodeAppDisabled},
		{name: "connection quota", app: &limited, pre: 1, code: CodeOverQuota},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t)
			for i := range tt.pre {
				connect(t, server, tt.app, fmt.Sprintf("0.%d", i))
			}

			sess := &fakeSession{}
			err := server.Connect(context.Background(), NewSocket("9.9", tt.app, sess))

			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.True(t, sess.closed)
			assert.Equal(t, tt.code, sess.closeCode)
			require.NotNil(t, sess.find(EventError))
		})
	}
}

func TestSubscribePublicChannel(t *testing.T) {
	ctx := context.Background()
	server := newServer(t)
	_, sess := connect(t, server, testApp, "1.1")

	resp := server.Subscribe(ctx, "app1", "1.1", &SubscribeData{Channel: "news"})
	require.True(t, resp.Success)

	frame := sess.find(EventSubscriptionSucceeded)
	require.NotNil(t, frame)
	assert.Equal(t, "news", frame.Channel)
	assert.True(t, server.Adapter().IsInChannel(ctx, "app1", "news", "1.1", false))

	server.Unsubscribe(ctx, "app1", "1.1", "news")
	assert.False(t, server.Adapter().IsInChannel(ctx, "app1", "news", "1.1", false))
}

func TestSubscribeInvalidChannelName(t *testing.T) {
	server := newServer(t)
	_, sess := connect(t, server, testApp, "1.1")

	resp := server.Subscribe(context.Background(), "app1", "1.1", &SubscribeData{Channel: "bad channel!"})
	assert.False(t, resp.Success)

	frame := sess.find(EventError)
	require.NotNil(t, frame)
	var perr ProtocolError
	require.NoError(t, frame.DecodeData(&perr))
	assert.Equal(t, CodeUnauthorized, perr.Code)
}

func TestSubscribePrivateAuthFailure(t *testing.T) {
	server := newServer(t)
	_, sess := connect(t, server, testApp, "1.1")

	server.Subscribe(context.Background(), "app1", "1.1", &SubscribeData{Channel: "private-room", Auth: "app1-key:nope"})

	frame := sess.find(EventSubscriptionError)
	require.NotNil(t, frame)
	var data struct {
		Type   string `json:"type"`
		Status int    `json:"status"`
	}
	require.NoError(t, frame.DecodeData(&data))
	assert.Equal(t, "AuthError", data.Type)
	assert.Equal(t, http.StatusUnauthorized, data.Status)
	assert.Empty(t, server.Adapter().Channels(context.Background(), "app1", false))
}

func TestPresenceLobbyScenario(t *testing.T) {
	ctx := context.Background()
	server := newServer(t)
	adapter := server.Adapter()

	c1, sess1 := connect(t, server, testApp, "c1")
	c2, sess2 := connect(t, server, testApp, "c2")

	require.True(t, server.Subscribe(ctx, "app1", "c1", presenceSubscription(c1, "presence-lobby", `{"user_id":"u1"}`)).Success)
	require.True(t, server.Subscribe(ctx, "app1", "c2", presenceSubscription(c2, "presence-lobby", `{"user_id":"u2"}`)).Success)

	assert.Equal(t, 2, adapter.ChannelSocketsCount(ctx, "app1", "presence-lobby", false))
	assert.Equal(t, 2, adapter.ChannelMembersCount(ctx, "app1", "presence-lobby", false))
	members := adapter.ChannelMembers(ctx, "app1", "presence-lobby", false)
	assert.Contains(t, members, "u1")
	assert.Contains(t, members, "u2")

	added := sess1.find(EventMemberAdded)
	require.NotNil(t, added, "c1 hears about u2")
	var member PresenceMember
	require.NoError(t, added.DecodeData(&member))
	assert.Equal(t, "u2", member.UserID)
	assert.Nil(t, sess2.find(EventMemberAdded), "c2 does not hear about itself")

	succeeded := sess2.find(EventSubscriptionSucceeded)
	require.NotNil(t, succeeded)
	var presence struct {
		Presence PresenceData `json:"presence"`
	}
	require.NoError(t, succeeded.DecodeData(&presence))
	assert.Equal(t, []string{"u1", "u2"}, presence.Presence.IDs)
	assert.Equal(t, 2, presence.Presence.Count)

	server.Disconnect("app1", "c1")

	assert.Equal(t, 1, adapter.ChannelSocketsCount(ctx, "app1", "presence-lobby", false))
	assert.Equal(t, 1, adapter.ChannelMembersCount(ctx, "app1", "presence-lobby", false))
	members = adapter.ChannelMembers(ctx, "app1", "presence-lobby", false)
	assert.Len(t, members, 1)
	assert.Contains(t, members, "u2")

	removed := sess2.find(EventMemberRemoved)
	require.NotNil(t, removed)
	require.NoError(t, removed.DecodeData(&member))
	assert.Equal(t, "u1", member.UserID)
}

func TestPresenceSecondDeviceIsSilent(t *testing.T) {
	ctx := context.Background()
	server := newServer(t)

	phone, _ := connect(t, server, testApp, "phone")
	laptop, _ := connect(t, server, testApp, "laptop")
	watcher, watcherSess := connect(t, server, testApp, "watcher")

	server.Subscribe(ctx, "app1", "watcher", presenceSubscription(watcher, "presence-room", `{"user_id":"w"}`))
	server.Subscribe(ctx, "app1", "phone", presenceSubscription(phone, "presence-room", `{"user_id":"u1"}`))
	server.Subscribe(ctx, "app1", "laptop", presenceSubscription(laptop, "presence-room", `{"user_id":"u1"}`))

	count := 0
	for _, e := range watcherSess.events() {
		if e == EventMemberAdded {
			count++
		}
	}
	assert.Equal(t, 1, count)

	server.Unsubscribe(ctx, "app1", "phone", "presence-room")
	assert.Nil(t, watcherSess.find(EventMemberRemoved), "u1 is still present on the laptop")

	server.Unsubscribe(ctx, "app1", "laptop", "presence-room")
	assert.NotNil(t, watcherSess.find(EventMemberRemoved))
}

func TestClientEvents(t *testing.T) {
	ctx := context.Background()
	server := newServer(t)

	sender, senderSess := connect(t, server, testApp, "1.1")
	receiver, receiverSess := connect(t, server, testApp, "2.2")
	for _, s := range []*Socket{sender, receiver} {
		auth := testApp.ChannelAuth(s.ID(), "private-chat", "")
		require.True(t, server.Subscribe(ctx, "app1", s.ID(), &SubscribeData{Channel: "private-chat", Auth: auth}).Success)
	}

	server.handleMessage(sender, []byte(`{"event":"client-typing","channel":"private-chat","data":{"who":"me"}}`))

	frame := receiverSess.find("client-typing")
	require.NotNil(t, frame)
	assert.JSONEq(t, `{"who":"me"}`, string(frame.Data))
	assert.Nil(t, senderSess.find("client-typing"))
}

func TestClientEventRejections(t *testing.T) {
	noClient := *testApp
	noClient.EnableClientMessages = false

	tests := []struct {
		name    string
		app     *apps.App
		channel string
		join    bool
	}{
		{name: "client messages disabled", app: &noClient, channel: "private-chat", join: true},
		{name: "public channel", app: testApp, channel: "news", join: true},
		{name: "not subscribed", app: testApp, channel: "private-chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t)
			socket, sess := connect(t, server, tt.app, "1.1")
			if tt.join {
				server.Adapter().Namespace("app1").AddToChannel(socket, tt.channel)
			}

			server.handleMessage(socket, []byte(`{"event":"client-x","channel":"`+tt.channel+`","data":{}}`))

			frame := sess.find(EventError)
			require.NotNil(t, frame)
			var perr ProtocolError
			require.NoError(t, frame.DecodeData(&perr))
			assert.Equal(t, CodeClientEventDenied, perr.Code)
		})
	}
}

func TestClientEventRateLimit(t *testing.T) {
	limited := *testApp
	limited.MaxClientEventsPerSecond = 1

	server := newServer(t)
	socket, sess := connect(t, server, &limited, "1.1")
	server.Adapter().Namespace("app1").AddToChannel(socket, "private-chat")

	msg := []byte(`{"event":"client-x","channel":"private-chat","data":{}}`)
	server.handleMessage(socket, msg)
	assert.Nil(t, sess.find(EventError))

	server.handleMessage(socket, msg)
	assert.NotNil(t, sess.find(EventError))
}

func TestPingPong(t *testing.T) {
	server := newServer(t)
	socket, sess := connect(t, server, testApp, "1.1")

	server.handleMessage(socket, []byte(`{"event":"pusher:ping","data":{}}`))
	assert.NotNil(t, sess.find(EventPong))
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readFrame(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	return msg
}

func TestWebsocketEndToEnd(t *testing.T) {
	server := newServer(t)
	mux := http.NewServeMux()
	mux.Handle("/app/{key}", server)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/app/app1-key"), nil)
	require.NoError(t, err)
	defer conn.Close()

	established := readFrame(t, conn)
	require.Equal(t, EventConnectionEstablished, established.Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"pusher:subscribe","data":{"channel":"news"}}`)))
	assert.Equal(t, EventSubscriptionSucceeded, readFrame(t, conn).Event)

	err = server.Publish(context.Background(), testApp, &PublishRequest{
		Name:    "headline",
		Channel: "news",
		Data:    json.RawMessage(`"{\"title\":\"hello\"}"`),
	})
	require.NoError(t, err)

	event := readFrame(t, conn)
	assert.Equal(t, "headline", event.Event)
	assert.Equal(t, "news", event.Channel)
	assert.Equal(t, `"{\"title\":\"hello\"}"`, string(event.Data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"pusher:ping","data":{}}`)))
	assert.Equal(t, EventPong, readFrame(t, conn).Event)

	conn.Close()
	assert.Eventually(t, func() bool {
		return server.Adapter().SocketsCount(context.Background(), "app1", false) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketUnknownAppKey(t *testing.T) {
	server := newServer(t)
	mux := http.NewServeMux()
	mux.Handle("/app/{key}", server)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/app/unknown"), nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	assert.Equal(t, EventError, frame.Event)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CodeAppNotFound, closeErr.Code)
}
