package gopusher

import (
	"context"

	"github.com/ramory-l/gopusher/apps"
)

// Connection is a live client as the registry sees it: something that can
// receive bytes and carries its own presence records.
type Connection interface {
	ID() string
	App() *apps.App
	Send(data []byte) error

	// Presence returns the member recorded for a presence channel
	Presence(channel string) (PresenceMember, bool)
	SetPresence(channel string, member PresenceMember)
	DeletePresence(channel string) (PresenceMember, bool)
}

// Adapter owns the per-app namespaces and is the single entry point for
// channel reads and broadcasts. Reads with onlyLocal=false may aggregate
// state from other nodes; connection handles are always local.
type Adapter interface {
	// Namespace returns the app's namespace, creating it on first use
	Namespace(appID string) *Namespace

	// Sockets returns the connections of an app held by this node
	Sockets(ctx context.Context, appID string) map[string]Connection

	// SocketsCount returns the number of connections of an app
	SocketsCount(ctx context.Context, appID string, onlyLocal bool) int

	// Channels returns every occupied channel with its member IDs
	Channels(ctx context.Context, appID string, onlyLocal bool) map[string]SocketIDs

	// ChannelsWithSocketsCount returns every occupied channel with its member count
	ChannelsWithSocketsCount(ctx context.Context, appID string, onlyLocal bool) map[string]int

	// ChannelSockets returns the connections of a channel held by this node
	ChannelSockets(ctx context.Context, appID, channel string) map[string]Connection

	// ChannelSocketsCount returns the member count of a channel
	ChannelSocketsCount(ctx context.Context, appID, channel string, onlyLocal bool) int

	// ChannelMembers returns the presence members of a channel keyed by user ID
	ChannelMembers(ctx context.Context, appID, channel string, onlyLocal bool) map[string]PresenceMember

	// ChannelMembersCount returns the number of distinct users in a presence channel
	ChannelMembersCount(ctx context.Context, appID, channel string, onlyLocal bool) int

	// IsInChannel reports whether a socket is subscribed to a channel
	IsInChannel(ctx context.Context, appID, channel, socketID string, onlyLocal bool) bool

	// Send writes data to every member of a channel except exceptingID.
	// It does not wait for delivery and never fails as a whole.
	Send(appID, channel string, data []byte, exceptingID string)

	// Clear resets one app's namespace, or every namespace when appID is empty
	Clear(appID string)

	// Close releases adapter resources
	Close() error
}
