package cluster

import (
	"context"
	"encoding/json"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/gopusher"
)

type recordingHandler struct {
	broadcasts []*gopusher.BroadcastMessage
	requests   []*gopusher.Request
}

func (h *recordingHandler) HandleBroadcast(msg *gopusher.BroadcastMessage) {
	h.broadcasts = append(h.broadcasts, msg)
}

func (h *recordingHandler) HandleRequest(_ context.Context, req *gopusher.Request) *gopusher.Response {
	h.requests = append(h.requests, req)
	return &gopusher.Response{Count: 1}
}

func newTestBus(t *testing.T) *RedisBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { client.Close() })
	return NewRedisBus(client, "test")
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestRedisBusChannels(t *testing.T) {
	bus := newTestBus(t)

	assert.Equal(t, "test#broadcast", bus.broadcastChannel)
	assert.Equal(t, "test#requests", bus.requestChannel)
	assert.Equal(t, "test#responses", bus.responseChannel)
	assert.NotEmpty(t, bus.NodeID())
	assert.NotEqual(t, bus.NodeID(), newTestBus(t).NodeID())
}

func TestRedisBusDispatchesBroadcasts(t *testing.T) {
	bus := newTestBus(t)
	handler := &recordingHandler{}

	msg := &gopusher.BroadcastMessage{NodeID: "other", AppID: "app1", Channel: "news", Data: `{"event":"x"}`, ExceptingID: "1.1"}
	bus.dispatch(context.Background(), handler, bus.broadcastChannel, encode(t, msg))

	require.Len(t, handler.broadcasts, 1)
	assert.Equal(t, *msg, *handler.broadcasts[0])
}

func TestRedisBusIgnoresOwnRequests(t *testing.T) {
	bus := newTestBus(t)
	handler := &recordingHandler{}

	req := &gopusher.Request{ID: "r1", NodeID: bus.NodeID(), Type: gopusher.RequestSocketsCount, AppID: "app1"}
	bus.dispatch(context.Background(), handler, bus.requestChannel, encode(t, req))

	assert.Empty(t, handler.requests)
}

func TestRedisBusRoutesResponsesToPendingRequest(t *testing.T) {
	bus := newTestBus(t)
	handler := &recordingHandler{}

	ch := make(chan *gopusher.Response, 1)
	bus.pending.Store("r1", ch)

	bus.dispatch(context.Background(), handler, bus.responseChannel, encode(t, &gopusher.Response{RequestID: "unknown", Count: 7}))
	bus.dispatch(context.Background(), handler, bus.responseChannel, encode(t, &gopusher.Response{RequestID: "r1", NodeID: "n2", Count: 3}))

	select {
	case resp := <-ch:
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, "n2", resp.NodeID)
	default:
		t.Fatal("response not routed")
	}
}

func TestRedisBusIgnoresInvalidPayloads(t *testing.T) {
	bus := newTestBus(t)
	handler := &recordingHandler{}

	assert.NotPanics(t, func() {
		bus.dispatch(context.Background(), handler, bus.broadcastChannel, "{")
		bus.dispatch(context.Background(), handler, bus.requestChannel, "{")
		bus.dispatch(context.Background(), handler, bus.responseChannel, "{")
	})
	assert.Empty(t, handler.broadcasts)
	assert.Empty(t, handler.requests)
}

func TestRedisBusListenAfterClose(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Listen(&recordingHandler{}), ErrBusClosed)
}
