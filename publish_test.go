package gopusher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/gopusher/apps"
)

func newSpyServer(t *testing.T) (*Server, *spyAdapter) {
	t.Helper()
	spy := &spyAdapter{LocalAdapter: NewLocalAdapter(nil)}
	server := NewServer(nil, apps.NewStaticManager([]apps.App{*testApp}), spy)
	t.Cleanup(func() { server.Close() })
	return server, spy
}

func TestPublishRejectsTooManyChannels(t *testing.T) {
	server, spy := newSpyServer(t)
	app := *testApp
	app.MaxEventChannelsAtOnce = 10

	channels := make([]string, 11)
	for i := range channels {
		channels[i] = fmt.Sprintf("channel-%d", i)
	}

	err := server.Publish(context.Background(), &app, &PublishRequest{
		Name:     "event",
		Channels: channels,
		Data:     json.RawMessage(`"{}"`),
	})

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, http.StatusBadRequest, publishErr.Code)
	assert.Zero(t, spy.sends.Load())
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name string
		req  PublishRequest
	}{
		{name: "missing name", req: PublishRequest{Channel: "news", Data: json.RawMessage(`"x"`)}},
		{name: "missing channels", req: PublishRequest{Name: "event", Data: json.RawMessage(`"x"`)}},
		{name: "missing data", req: PublishRequest{Name: "event", Channel: "news"}},
		{name: "name too long", req: PublishRequest{Name: strings.Repeat("e", 201), Channel: "news", Data: json.RawMessage(`"x"`)}},
		{name: "payload too large", req: PublishRequest{Name: "event", Channel: "news", Data: json.RawMessage(`"` + strings.Repeat("x", 101*1024) + `"`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, spy := newSpyServer(t)

			err := server.Publish(context.Background(), testApp, &tt.req)

			var publishErr *PublishError
			require.ErrorAs(t, err, &publishErr)
			assert.Equal(t, http.StatusBadRequest, publishErr.Code)
			assert.Zero(t, spy.sends.Load())
		})
	}
}

func TestPublishUnlimitedChannels(t *testing.T) {
	server, spy := newSpyServer(t)
	app := *testApp
	app.MaxEventChannelsAtOnce = -1

	channels := make([]string, 150)
	for i := range channels {
		channels[i] = fmt.Sprintf("channel-%d", i)
	}

	err := server.Publish(context.Background(), &app, &PublishRequest{Name: "event", Channels: channels, Data: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.EqualValues(t, 150, spy.sends.Load())
}

func TestPublishExcludesSocket(t *testing.T) {
	server, spy := newSpyServer(t)
	publisher, publisherSess := connect(t, server, testApp, "1.1")
	subscriber, subscriberSess := connect(t, server, testApp, "2.2")
	ns := server.Adapter().Namespace("app1")
	join(ns, publisher, "news")
	join(ns, subscriber, "news")
	join(ns, subscriber, "sports")

	err := server.Publish(context.Background(), testApp, &PublishRequest{
		Name:     "score",
		Channels: []string{"news", "sports"},
		Data:     json.RawMessage(`"{\"home\":1}"`),
		SocketID: "1.1",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, spy.sends.Load())
	assert.Nil(t, publisherSess.find("score"))

	count := 0
	for _, e := range subscriberSess.events() {
		if e == "score" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}
