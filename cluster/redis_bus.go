package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ramory-l/gopusher"
	"github.com/ramory-l/gopusher/log"
)

var ErrBusClosed = errors.New("bus closed")

var _ gopusher.Bus = (*RedisBus)(nil)

// RedisBus implements gopusher.Bus over Redis pub/sub. Every node subscribes
// to three channels: <prefix>#broadcast for relayed sends, <prefix>#requests
// for reads and <prefix>#responses for the answers.
type RedisBus struct {
	client redis.UniversalClient
	nodeID string

	broadcastChannel string
	requestChannel   string
	responseChannel  string

	pending sync.Map // request ID -> chan *gopusher.Response

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	logger zerolog.Logger
}

// NewRedisBus creates a bus with a fresh node ID
func NewRedisBus(client redis.UniversalClient, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "gopusher"
	}

	nodeID := uuid.NewString()
	return &RedisBus{
		client:           client,
		nodeID:           nodeID,
		broadcastChannel: prefix + "#broadcast",
		requestChannel:   prefix + "#requests",
		responseChannel:  prefix + "#responses",
		logger:           log.WithComponent("cluster").With().Str("node_id", nodeID).Logger(),
	}
}

// NodeID returns the ID of this node
func (b *RedisBus) NodeID() string {
	return b.nodeID
}

// Broadcast publishes a relayed send
func (b *RedisBus) Broadcast(ctx context.Context, msg *gopusher.BroadcastMessage) error {
	return b.publish(ctx, b.broadcastChannel, msg)
}

// Request publishes req and waits for one response per other subscribed
// node, or until ctx is done. A timeout returns what arrived so far.
func (b *RedisBus) Request(ctx context.Context, req *gopusher.Request) ([]*gopusher.Response, error) {
	subs, err := b.client.PubSubNumSub(ctx, b.requestChannel).Result()
	if err != nil {
		return nil, err
	}
	expected := int(subs[b.requestChannel]) - 1
	if expected <= 0 {
		return nil, nil
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.NodeID = b.nodeID

	ch := make(chan *gopusher.Response, expected)
	b.pending.Store(req.ID, ch)
	defer b.pending.Delete(req.ID)

	if err := b.publish(ctx, b.requestChannel, req); err != nil {
		return nil, err
	}

	responses := make([]*gopusher.Response, 0, expected)
	for len(responses) < expected {
		select {
		case resp := <-ch:
			responses = append(responses, resp)
		case <-ctx.Done():
			b.logger.Warn().
				Str("request_id", req.ID).
				Int("expected", expected).
				Int("received", len(responses)).
				Msg("Cluster request timed out")
			return responses, nil
		}
	}
	return responses, nil
}

// Listen subscribes to the bus channels and dispatches traffic to handler
// until Close
func (b *RedisBus) Listen(handler gopusher.BusHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, b.broadcastChannel, b.requestChannel, b.responseChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return err
	}

	b.pubsub = pubsub
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.listen(ctx, pubsub.Channel(), handler)

	b.logger.Info().Msg("Joined cluster bus")
	return nil
}

func (b *RedisBus) listen(ctx context.Context, messages <-chan *redis.Message, handler gopusher.BusHandler) {
	defer close(b.done)

	for msg := range messages {
		b.dispatch(ctx, handler, msg.Channel, msg.Payload)
	}
}

func (b *RedisBus) dispatch(ctx context.Context, handler gopusher.BusHandler, channel, payload string) {
	switch channel {
	case b.broadcastChannel:
		var msg gopusher.BroadcastMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			b.logger.Warn().Err(err).Msg("Invalid broadcast on bus")
			return
		}
		handler.HandleBroadcast(&msg)

	case b.requestChannel:
		var req gopusher.Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			b.logger.Warn().Err(err).Msg("Invalid request on bus")
			return
		}
		if req.NodeID == b.nodeID {
			return
		}
		resp := handler.HandleRequest(ctx, &req)
		resp.RequestID = req.ID
		resp.NodeID = b.nodeID
		if err := b.publish(ctx, b.responseChannel, resp); err != nil {
			b.logger.Error().Err(err).Str("request_id", req.ID).Msg("Failed to answer cluster request")
		}

	case b.responseChannel:
		var resp gopusher.Response
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			b.logger.Warn().Err(err).Msg("Invalid response on bus")
			return
		}
		value, ok := b.pending.Load(resp.RequestID)
		if !ok {
			return
		}
		select {
		case value.(chan *gopusher.Response) <- &resp:
		default:
		}
	}
}

func (b *RedisBus) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, data).Err()
}

// Close leaves the bus
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsub, cancel, done := b.pubsub, b.cancel, b.done
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}

	cancel()
	err := pubsub.Close()
	<-done
	return err
}
