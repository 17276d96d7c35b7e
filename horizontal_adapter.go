package gopusher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ramory-l/gopusher/log"
)

// RequestType names a cluster read
type RequestType string

const (
	RequestSocketsCount             RequestType = "sockets_count"
	RequestChannels                 RequestType = "channels"
	RequestChannelsWithSocketsCount RequestType = "channels_with_sockets_count"
	RequestChannelSocketsCount      RequestType = "channel_sockets_count"
	RequestChannelMembers           RequestType = "channel_members"
	RequestIsInChannel              RequestType = "is_in_channel"
)

// BroadcastMessage relays a Send to the other nodes
type BroadcastMessage struct {
	NodeID      string `json:"node_id"`
	AppID       string `json:"app_id"`
	Channel     string `json:"channel"`
	Data        string `json:"data"`
	ExceptingID string `json:"except,omitempty"`
}

// Request asks every other node for its local view
type Request struct {
	ID       string      `json:"id"`
	NodeID   string      `json:"node_id"`
	Type     RequestType `json:"type"`
	AppID    string      `json:"app_id"`
	Channel  string      `json:"channel,omitempty"`
	SocketID string      `json:"socket_id,omitempty"`
}

// Response is one node's answer to a Request
type Response struct {
	RequestID     string                    `json:"request_id"`
	NodeID        string                    `json:"node_id"`
	Count         int                       `json:"count,omitempty"`
	Channels      map[string][]string       `json:"channels,omitempty"`
	ChannelCounts map[string]int            `json:"channel_counts,omitempty"`
	Members       map[string]PresenceMember `json:"members,omitempty"`
	IsMember      bool                      `json:"is_member,omitempty"`
}

// BusHandler consumes what other nodes put on the bus
type BusHandler interface {
	HandleBroadcast(msg *BroadcastMessage)
	HandleRequest(ctx context.Context, req *Request) *Response
}

// Bus carries broadcasts and read requests between nodes
type Bus interface {
	NodeID() string
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	// Request sends req to the other nodes and collects their responses
	// until all have answered or ctx is done
	Request(ctx context.Context, req *Request) ([]*Response, error)
	// Listen starts delivering bus traffic to handler
	Listen(handler BusHandler) error
	Close() error
}

// HorizontalAdapter is a LocalAdapter whose broadcasts are relayed to the
// other nodes and whose reads merge every node's local view
type HorizontalAdapter struct {
	*LocalAdapter
	bus            Bus
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewHorizontalAdapter wraps local with bus and starts listening
func NewHorizontalAdapter(local *LocalAdapter, bus Bus, requestTimeout time.Duration) (*HorizontalAdapter, error) {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}

	a := &HorizontalAdapter{
		LocalAdapter:   local,
		bus:            bus,
		requestTimeout: requestTimeout,
		logger:         log.WithComponent("horizontal-adapter"),
	}
	if err := bus.Listen(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Send writes to local members and relays the message to the other nodes
func (a *HorizontalAdapter) Send(appID, channel string, data []byte, exceptingID string) {
	a.LocalAdapter.Send(appID, channel, data, exceptingID)

	ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
	defer cancel()

	err := a.bus.Broadcast(ctx, &BroadcastMessage{
		NodeID:      a.bus.NodeID(),
		AppID:       appID,
		Channel:     channel,
		Data:        string(data),
		ExceptingID: exceptingID,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("app_id", appID).Str("channel", channel).Msg("Failed to relay broadcast")
	}
}

// HandleBroadcast performs a local send for a relay from another node
func (a *HorizontalAdapter) HandleBroadcast(msg *BroadcastMessage) {
	if msg.NodeID == a.bus.NodeID() {
		return
	}
	a.LocalAdapter.Send(msg.AppID, msg.Channel, []byte(msg.Data), msg.ExceptingID)
}

// HandleRequest answers another node with this node's local view
func (a *HorizontalAdapter) HandleRequest(ctx context.Context, req *Request) *Response {
	resp := &Response{RequestID: req.ID, NodeID: a.bus.NodeID()}

	switch req.Type {
	case RequestSocketsCount:
		resp.Count = a.LocalAdapter.SocketsCount(ctx, req.AppID, true)
	case RequestChannels:
		resp.Channels = make(map[string][]string)
		for channel, ids := range a.LocalAdapter.Channels(ctx, req.AppID, true) {
			for id := range ids {
				resp.Channels[channel] = append(resp.Channels[channel], id)
			}
		}
	case RequestChannelsWithSocketsCount:
		resp.ChannelCounts = a.LocalAdapter.ChannelsWithSocketsCount(ctx, req.AppID, true)
	case RequestChannelSocketsCount:
		resp.Count = a.LocalAdapter.ChannelSocketsCount(ctx, req.AppID, req.Channel, true)
	case RequestChannelMembers:
		resp.Members = a.LocalAdapter.ChannelMembers(ctx, req.AppID, req.Channel, true)
	case RequestIsInChannel:
		resp.IsMember = a.LocalAdapter.IsInChannel(ctx, req.AppID, req.Channel, req.SocketID, true)
	}
	return resp
}

// remote asks the other nodes; failures degrade to an empty remote view
func (a *HorizontalAdapter) remote(ctx context.Context, req *Request) []*Response {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	req.NodeID = a.bus.NodeID()
	responses, err := a.bus.Request(ctx, req)
	if err != nil {
		a.logger.Warn().Err(err).Str("app_id", req.AppID).Str("type", string(req.Type)).Msg("Cluster request failed, using local view")
	}
	return responses
}

// SocketsCount sums connection counts across nodes
func (a *HorizontalAdapter) SocketsCount(ctx context.Context, appID string, onlyLocal bool) int {
	count := a.LocalAdapter.SocketsCount(ctx, appID, true)
	if onlyLocal {
		return count
	}

	for _, resp := range a.remote(ctx, &Request{Type: RequestSocketsCount, AppID: appID}) {
		count += resp.Count
	}
	return count
}

// Channels unions channel membership across nodes
func (a *HorizontalAdapter) Channels(ctx context.Context, appID string, onlyLocal bool) map[string]SocketIDs {
	channels := a.LocalAdapter.Channels(ctx, appID, true)
	if onlyLocal {
		return channels
	}

	for _, resp := range a.remote(ctx, &Request{Type: RequestChannels, AppID: appID}) {
		for channel, ids := range resp.Channels {
			if channels[channel] == nil {
				channels[channel] = make(SocketIDs, len(ids))
			}
			for _, id := range ids {
				channels[channel][id] = struct{}{}
			}
		}
	}
	return channels
}

// ChannelsWithSocketsCount sums per-channel counts across nodes
func (a *HorizontalAdapter) ChannelsWithSocketsCount(ctx context.Context, appID string, onlyLocal bool) map[string]int {
	counts := a.LocalAdapter.ChannelsWithSocketsCount(ctx, appID, true)
	if onlyLocal {
		return counts
	}

	for _, resp := range a.remote(ctx, &Request{Type: RequestChannelsWithSocketsCount, AppID: appID}) {
		for channel, n := range resp.ChannelCounts {
			counts[channel] += n
		}
	}
	return counts
}

// ChannelSocketsCount sums a channel's member count across nodes
func (a *HorizontalAdapter) ChannelSocketsCount(ctx context.Context, appID, channel string, onlyLocal bool) int {
	count := a.LocalAdapter.ChannelSocketsCount(ctx, appID, channel, true)
	if onlyLocal {
		return count
	}

	req := &Request{Type: RequestChannelSocketsCount, AppID: appID, Channel: channel}
	for _, resp := range a.remote(ctx, req) {
		count += resp.Count
	}
	return count
}

// ChannelMembers merges presence members across nodes
func (a *HorizontalAdapter) ChannelMembers(ctx context.Context, appID, channel string, onlyLocal bool) map[string]PresenceMember {
	members := a.LocalAdapter.ChannelMembers(ctx, appID, channel, true)
	if onlyLocal {
		return members
	}

	req := &Request{Type: RequestChannelMembers, AppID: appID, Channel: channel}
	for _, resp := range a.remote(ctx, req) {
		for userID, member := range resp.Members {
			members[userID] = member
		}
	}
	return members
}

// ChannelMembersCount counts distinct users across nodes
func (a *HorizontalAdapter) ChannelMembersCount(ctx context.Context, appID, channel string, onlyLocal bool) int {
	return len(a.ChannelMembers(ctx, appID, channel, onlyLocal))
}

// IsInChannel reports membership on any node
func (a *HorizontalAdapter) IsInChannel(ctx context.Context, appID, channel, socketID string, onlyLocal bool) bool {
	local := a.LocalAdapter.IsInChannel(ctx, appID, channel, socketID, true)
	if local || onlyLocal {
		return local
	}

	req := &Request{Type: RequestIsInChannel, AppID: appID, Channel: channel, SocketID: socketID}
	for _, resp := range a.remote(ctx, req) {
		if resp.IsMember {
			return true
		}
	}
	return false
}

// Close stops listening on the bus
func (a *HorizontalAdapter) Close() error {
	return a.bus.Close()
}
