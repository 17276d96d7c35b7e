package gopusher

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ramory-l/gopusher/log"
	"github.com/ramory-l/gopusher/metrics"
)

// LocalAdapter keeps every namespace in this process
type LocalAdapter struct {
	namespaces map[string]*Namespace
	mu         sync.RWMutex
	metrics    metrics.Recorder
	logger     zerolog.Logger
}

// NewLocalAdapter creates a new in-memory adapter
func NewLocalAdapter(recorder metrics.Recorder) *LocalAdapter {
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &LocalAdapter{
		namespaces: make(map[string]*Namespace),
		metrics:    recorder,
		logger:     log.WithComponent("adapter"),
	}
}

// Namespace returns the app's namespace, creating it if it doesn't exist
func (a *LocalAdapter) Namespace(appID string) *Namespace {
	a.mu.RLock()
	ns, exists := a.namespaces[appID]
	a.mu.RUnlock()

	if exists {
		return ns
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if ns, exists := a.namespaces[appID]; exists {
		return ns
	}

	ns = NewNamespace(appID)
	a.namespaces[appID] = ns

	return ns
}

func (a *LocalAdapter) lookup(appID string) (*Namespace, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ns, ok := a.namespaces[appID]
	return ns, ok
}

// Sockets returns the connections of an app
func (a *LocalAdapter) Sockets(_ context.Context, appID string) map[string]Connection {
	return a.Namespace(appID).Sockets()
}

// SocketsCount returns the number of connections of an app
func (a *LocalAdapter) SocketsCount(_ context.Context, appID string, _ bool) int {
	return a.Namespace(appID).SocketsCount()
}

// Channels returns every occupied channel with its member IDs
func (a *LocalAdapter) Channels(_ context.Context, appID string, _ bool) map[string]SocketIDs {
	return a.Namespace(appID).Channels()
}

// ChannelsWithSocketsCount returns every occupied channel with its member count
func (a *LocalAdapter) ChannelsWithSocketsCount(_ context.Context, appID string, _ bool) map[string]int {
	return a.Namespace(appID).ChannelsWithSocketsCount()
}

// ChannelSockets returns the connections subscribed to a channel
func (a *LocalAdapter) ChannelSockets(_ context.Context, appID, channel string) map[string]Connection {
	return a.Namespace(appID).ChannelSockets(channel)
}

// ChannelSocketsCount returns the member count of a channel
func (a *LocalAdapter) ChannelSocketsCount(_ context.Context, appID, channel string, _ bool) int {
	return a.Namespace(appID).ChannelSocketsCount(channel)
}

// ChannelMembers returns the presence members of a channel
func (a *LocalAdapter) ChannelMembers(_ context.Context, appID, channel string, _ bool) map[string]PresenceMember {
	return a.Namespace(appID).ChannelMembers(channel)
}

// ChannelMembersCount returns the number of distinct users in a presence channel
func (a *LocalAdapter) ChannelMembersCount(_ context.Context, appID, channel string, _ bool) int {
	return len(a.Namespace(appID).ChannelMembers(channel))
}

// IsInChannel reports whether a socket is subscribed to a channel
func (a *LocalAdapter) IsInChannel(_ context.Context, appID, channel, socketID string, _ bool) bool {
	return a.Namespace(appID).IsInChannel(socketID, channel)
}

// Send writes data to every local member of a channel except exceptingID.
// A failed write is logged and skipped.
func (a *LocalAdapter) Send(appID, channel string, data []byte, exceptingID string) {
	ns, ok := a.lookup(appID)
	if !ok {
		return
	}

	for id, conn := range ns.ChannelSockets(channel) {
		if exceptingID != "" && id == exceptingID {
			continue
		}

		if err := conn.Send(data); err != nil {
			a.logger.Debug().
				Err(err).
				Str("app_id", appID).
				Str("socket_id", id).
				Str("channel", channel).
				Msg("Dropped message for socket")
			continue
		}

		a.metrics.MarkWsMessageSent(appID, data)
	}
}

// Clear resets one app's namespace, or all of them when appID is empty
func (a *LocalAdapter) Clear(appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if appID != "" {
		a.namespaces[appID] = NewNamespace(appID)
		return
	}
	a.namespaces = make(map[string]*Namespace)
}

// Close cleans up the adapter
func (a *LocalAdapter) Close() error {
	return nil
}
