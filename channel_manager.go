package gopusher

import (
	"context"
	"fmt"
)

// JoinResponse is the outcome of a subscription attempt. A failed join
// leaves the registry untouched.
type JoinResponse struct {
	Success            bool
	ChannelConnections int
	Member             *PresenceMember
	// MemberExisted is set when another connection of the same user was
	// already in the presence channel.
	MemberExisted bool
	AuthError     bool
	ErrorCode     int
	ErrorMessage  string
	Type          string
}

// LeaveResponse is the outcome of an unsubscription
type LeaveResponse struct {
	Left   bool
	Member *PresenceMember
}

// ChannelManager translates subscribe/unsubscribe intents for one kind of
// channel into registry calls
type ChannelManager interface {
	Join(ctx context.Context, conn Connection, channel string, data *SubscribeData) *JoinResponse
	Leave(ctx context.Context, conn Connection, channel string) *LeaveResponse
}

// PublicChannelManager handles channels anyone may join
type PublicChannelManager struct {
	adapter Adapter
}

// NewPublicChannelManager creates a public channel manager
func NewPublicChannelManager(adapter Adapter) *PublicChannelManager {
	return &PublicChannelManager{adapter: adapter}
}

// Join adds the connection to the channel
func (m *PublicChannelManager) Join(_ context.Context, conn Connection, channel string, _ *SubscribeData) *JoinResponse {
	count, ok := m.adapter.Namespace(conn.App().ID).AddToChannel(conn, channel)
	if !ok {
		return connectionGone()
	}
	return &JoinResponse{Success: true, ChannelConnections: count}
}

// Leave removes the connection from the channel. It always reports success.
func (m *PublicChannelManager) Leave(_ context.Context, conn Connection, channel string) *LeaveResponse {
	m.adapter.Namespace(conn.App().ID).RemoveFromChannel(conn.ID(), channel)
	return &LeaveResponse{Left: true}
}

// PrivateChannelManager requires a channel signature before joining
type PrivateChannelManager struct {
	*PublicChannelManager
}

// NewPrivateChannelManager creates a private channel manager
func NewPrivateChannelManager(adapter Adapter) *PrivateChannelManager {
	return &PrivateChannelManager{PublicChannelManager: NewPublicChannelManager(adapter)}
}

// Join verifies the subscription signature and adds the connection
func (m *PrivateChannelManager) Join(ctx context.Context, conn Connection, channel string, data *SubscribeData) *JoinResponse {
	if !signatureValid(conn, channel, data, "") {
		return authFailed()
	}
	return m.PublicChannelManager.Join(ctx, conn, channel, data)
}

// PresenceChannelManager requires a signature over the member data and
// records the member on the connection before adding it to the channel
type PresenceChannelManager struct {
	*PublicChannelManager
}

// NewPresenceChannelManager creates a presence channel manager
func NewPresenceChannelManager(adapter Adapter) *PresenceChannelManager {
	return &PresenceChannelManager{PublicChannelManager: NewPublicChannelManager(adapter)}
}

// Join verifies the signature, checks the app's presence limits, records the
// member and adds the connection
func (m *PresenceChannelManager) Join(ctx context.Context, conn Connection, channel string, data *SubscribeData) *JoinResponse {
	if data == nil || !signatureValid(conn, channel, data, data.ChannelData) {
		return authFailed()
	}

	member, err := ParsePresenceMember(data.ChannelData)
	if err != nil {
		return &JoinResponse{
			ErrorCode:    CodeUnauthorized,
			ErrorMessage: "Invalid presence channel data.",
			Type:         "InvalidData",
		}
	}

	app := conn.App()
	if limit := app.MaxPresenceMemberSizeInKb; limit >= 0 && member.sizeInKb() > limit {
		return &JoinResponse{
			ErrorCode:    CodeClientEventDenied,
			ErrorMessage: fmt.Sprintf("The maximum size for a channel member is %v KB.", limit),
			Type:         "LimitReached",
		}
	}

	members := m.adapter.ChannelMembers(ctx, app.ID, channel, false)
	_, existed := members[member.UserID]
	if limit := app.MaxPresenceMembersPerChannel; limit >= 0 && !existed && len(members)+1 > limit {
		return &JoinResponse{
			ErrorCode:    CodeOverQuota,
			ErrorMessage: "The maximum members per presence channel limit was reached.",
			Type:         "LimitReached",
		}
	}

	ns := m.adapter.Namespace(app.ID)
	conn.SetPresence(channel, member)
	count, ok := ns.AddToChannel(conn, channel)
	if !ok {
		conn.DeletePresence(channel)
		return connectionGone()
	}

	// concurrent joins on this node may have filled the channel since the read
	if limit := app.MaxPresenceMembersPerChannel; limit >= 0 && !existed {
		current := ns.ChannelMembers(channel)
		for userID := range members {
			current[userID] = members[userID]
		}
		if len(current) > limit {
			ns.RemoveFromChannel(conn.ID(), channel)
			conn.DeletePresence(channel)
			return &JoinResponse{
				ErrorCode:    CodeOverQuota,
				ErrorMessage: "The maximum members per presence channel limit was reached.",
				Type:         "LimitReached",
			}
		}
	}

	return &JoinResponse{
		Success:            true,
		ChannelConnections: count,
		Member:             &member,
		MemberExisted:      existed,
	}
}

// Leave removes the connection and returns the member it held
func (m *PresenceChannelManager) Leave(ctx context.Context, conn Connection, channel string) *LeaveResponse {
	resp := m.PublicChannelManager.Leave(ctx, conn, channel)
	if member, ok := conn.DeletePresence(channel); ok {
		resp.Member = &member
	}
	return resp
}

func signatureValid(conn Connection, channel string, data *SubscribeData, channelData string) bool {
	if data == nil || data.Auth == "" {
		return false
	}
	return conn.App().VerifyChannelAuth(data.Auth, conn.ID(), channel, channelData)
}

func authFailed() *JoinResponse {
	return &JoinResponse{
		AuthError:    true,
		ErrorCode:    CodeUnauthorized,
		ErrorMessage: "The connection is unauthorized.",
		Type:         "AuthError",
	}
}

func connectionGone() *JoinResponse {
	return &JoinResponse{
		ErrorCode:    CodeServerClosing,
		ErrorMessage: "The connection was closed while subscribing.",
		Type:         "ConnectionClosed",
	}
}
