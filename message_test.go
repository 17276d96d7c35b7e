package gopusher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageEncodesDataAsString(t *testing.T) {
	msg, err := NewMessage(EventConnectionEstablished, "", map[string]any{"socket_id": "1.1"})
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.1\"}"}`, string(data))
}

func TestDecodeData(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "object", raw: `{"event":"pusher:subscribe","data":{"channel":"news","auth":"k:s"}}`},
		{name: "string", raw: `{"event":"pusher:subscribe","data":"{\"channel\":\"news\",\"auth\":\"k:s\"}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw))
			require.NoError(t, err)

			var sub SubscribeData
			require.NoError(t, msg.DecodeData(&sub))
			assert.Equal(t, "news", sub.Channel)
			assert.Equal(t, "k:s", sub.Auth)
		})
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"data":{}}`} {
		_, err := DecodeMessage([]byte(raw))
		assert.Error(t, err, raw)
	}

	msg := &Message{Event: EventSubscribe}
	assert.Error(t, msg.DecodeData(&SubscribeData{}))
}

func TestParsePresenceMember(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		userID  string
		info    string
		wantErr bool
	}{
		{name: "string id", data: `{"user_id":"u1","user_info":{"name":"Ana"}}`, userID: "u1", info: `{"name":"Ana"}`},
		{name: "numeric id", data: `{"user_id":42}`, userID: "42"},
		{name: "null info", data: `{"user_id":"u1","user_info":null}`, userID: "u1"},
		{name: "missing id", data: `{"user_info":{}}`, wantErr: true},
		{name: "empty id", data: `{"user_id":""}`, wantErr: true},
		{name: "invalid json", data: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			member, err := ParsePresenceMember(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.userID, member.UserID)
			if tt.info == "" {
				assert.Empty(t, member.UserInfo)
			} else {
				assert.JSONEq(t, tt.info, string(member.UserInfo))
			}
		})
	}
}

func TestNewPresenceData(t *testing.T) {
	data := NewPresenceData(map[string]PresenceMember{
		"u2": {UserID: "u2"},
		"u1": {UserID: "u1", UserInfo: json.RawMessage(`{"name":"Ana"}`)},
	})

	encoded, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":["u1","u2"],"hash":{"u1":{"name":"Ana"},"u2":null},"count":2}`, string(encoded))
}

func TestChannelKinds(t *testing.T) {
	assert.True(t, IsPresenceChannel("presence-room"))
	assert.True(t, IsPrivateChannel("private-room"))
	assert.True(t, IsPrivateChannel("private-encrypted-room"))
	assert.False(t, IsPrivateChannel("presence-room"))
	assert.True(t, IsClientEvent("client-typing"))
	assert.False(t, IsClientEvent("pusher:ping"))
}

func TestNewSocketID(t *testing.T) {
	assert.Regexp(t, `^\d+\.\d+$`, NewSocketID())
	assert.NotEqual(t, NewSocketID(), NewSocketID())
}
