package gopusher

import "sync"

// SocketIDs is a set of socket IDs
type SocketIDs map[string]struct{}

// Has reports whether id is in the set
func (s SocketIDs) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Namespace is the registry of one app: its live connections and the
// members of each channel. A channel entry exists only while it has at
// least one member, and every member ID refers to a registered connection.
type Namespace struct {
	appID          string
	sockets        map[string]Connection
	channels       map[string]SocketIDs // channel -> socket IDs
	socketChannels map[string]SocketIDs // socket ID -> channels
	mu             sync.RWMutex
}

// NewNamespace creates an empty namespace for an app
func NewNamespace(appID string) *Namespace {
	return &Namespace{
		appID:          appID,
		sockets:        make(map[string]Connection),
		channels:       make(map[string]SocketIDs),
		socketChannels: make(map[string]SocketIDs),
	}
}

// AppID returns the app the namespace belongs to
func (ns *Namespace) AppID() string {
	return ns.appID
}

// AddSocket registers a connection. IDs are unique per live socket;
// registering the same ID twice replaces the handle.
func (ns *Namespace) AddSocket(conn Connection) {
	ns.mu.Lock()
	ns.sockets[conn.ID()] = conn
	ns.mu.Unlock()
}

// RemoveSocket removes the connection from every channel it joined, then
// forgets it. It reports whether the connection was registered.
func (ns *Namespace) RemoveSocket(id string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for channel := range ns.socketChannels[id] {
		ns.removeFromChannel(id, channel)
	}

	_, ok := ns.sockets[id]
	delete(ns.sockets, id)
	return ok
}

// Socket returns the handle of a registered connection
func (ns *Namespace) Socket(id string) (Connection, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	conn, ok := ns.sockets[id]
	return conn, ok
}

// Sockets returns a snapshot of the registered connections
func (ns *Namespace) Sockets() map[string]Connection {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	result := make(map[string]Connection, len(ns.sockets))
	for id, conn := range ns.sockets {
		result[id] = conn
	}
	return result
}

// SocketsCount returns the number of registered connections
func (ns *Namespace) SocketsCount() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.sockets)
}

// AddToChannel adds a registered connection to a channel and returns the
// channel's member count. It reports false and changes nothing when the
// connection is not registered, e.g. it disconnected while joining. Adding
// a member twice is a no-op.
func (ns *Namespace) AddToChannel(conn Connection, channel string) (int, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	id := conn.ID()
	if _, ok := ns.sockets[id]; !ok {
		return 0, false
	}

	if ns.channels[channel] == nil {
		ns.channels[channel] = make(SocketIDs)
	}
	ns.channels[channel][id] = struct{}{}

	if ns.socketChannels[id] == nil {
		ns.socketChannels[id] = make(SocketIDs)
	}
	ns.socketChannels[id][channel] = struct{}{}

	return len(ns.channels[channel]), true
}

// RemoveFromChannel removes a connection from a channel and returns the
// number of members left. An emptied channel is dropped.
func (ns *Namespace) RemoveFromChannel(id, channel string) int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.removeFromChannel(id, channel)
}

func (ns *Namespace) removeFromChannel(id, channel string) int {
	if rooms := ns.socketChannels[id]; rooms != nil {
		delete(rooms, channel)
		if len(rooms) == 0 {
			delete(ns.socketChannels, id)
		}
	}

	members, ok := ns.channels[channel]
	if !ok {
		return 0
	}

	delete(members, id)
	if len(members) == 0 {
		delete(ns.channels, channel)
		return 0
	}
	return len(members)
}

// IsInChannel reports whether the connection is a member of the channel
func (ns *Namespace) IsInChannel(id, channel string) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.channels[channel].Has(id)
}

// Channels returns a snapshot of every occupied channel and its members
func (ns *Namespace) Channels() map[string]SocketIDs {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	result := make(map[string]SocketIDs, len(ns.channels))
	for channel, members := range ns.channels {
		ids := make(SocketIDs, len(members))
		for id := range members {
			ids[id] = struct{}{}
		}
		result[channel] = ids
	}
	return result
}

// ChannelsWithSocketsCount returns every occupied channel with its member count
func (ns *Namespace) ChannelsWithSocketsCount() map[string]int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	result := make(map[string]int, len(ns.channels))
	for channel, members := range ns.channels {
		result[channel] = len(members)
	}
	return result
}

// SocketChannels returns the channels a connection has joined
func (ns *Namespace) SocketChannels(id string) []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	rooms := ns.socketChannels[id]
	result := make([]string, 0, len(rooms))
	for channel := range rooms {
		result = append(result, channel)
	}
	return result
}

// ChannelSockets resolves the members of a channel to connection handles,
// skipping IDs whose connection is gone.
func (ns *Namespace) ChannelSockets(channel string) map[string]Connection {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.channelSockets(channel)
}

func (ns *Namespace) channelSockets(channel string) map[string]Connection {
	members := ns.channels[channel]
	result := make(map[string]Connection, len(members))
	for id := range members {
		if conn, ok := ns.sockets[id]; ok {
			result[id] = conn
		}
	}
	return result
}

// ChannelSocketsCount returns the member count of a channel
func (ns *Namespace) ChannelSocketsCount(channel string) int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.channels[channel])
}

// ChannelMembers returns the presence members of a channel keyed by user
// ID. When several connections share a user ID only one of them is kept.
func (ns *Namespace) ChannelMembers(channel string) map[string]PresenceMember {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	members := make(map[string]PresenceMember)
	for _, conn := range ns.channelSockets(channel) {
		if member, ok := conn.Presence(channel); ok {
			members[member.UserID] = member
		}
	}
	return members
}
