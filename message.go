package gopusher

import (
	"encoding/json"
	"fmt"
)

// Protocol events
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionError     = "pusher:subscription_error"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
)

// Protocol error and close codes
const (
	CodeAppNotFound       = 4001
	CodeAppDisabled       = 4003
	CodeUnauthorized      = 4009
	CodeOverQuota         = 4100
	CodeServerClosing     = 4200
	CodePongTimeout       = 4201
	CodeClientEventDenied = 4301
)

// Message is a single protocol frame
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
}

// NewMessage creates a frame whose data is v encoded as a JSON string, the
// form the protocol uses for server events.
func NewMessage(event, channel string, v any) (*Message, error) {
	msg := &Message{Event: event, Channel: channel}
	if v == nil {
		return msg, nil
	}

	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message data: %w", err)
	}
	msg.Data, err = json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message data: %w", err)
	}
	return msg, nil
}

// Encode encodes the frame
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// DecodeData decodes the frame data into v. Data sent as a JSON string is
// unwrapped first.
func (m *Message) DecodeData(v any) error {
	data := []byte(m.Data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal message data: %w", err)
		}
		data = []byte(s)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty message data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message data: %w", err)
	}
	return nil
}

// DecodeMessage decodes a frame received from a client
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("message has no event")
	}
	return msg, nil
}

// SubscribeData is the payload of pusher:subscribe
type SubscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// ProtocolError is an error reported to a client with a protocol code
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func encodeFrame(event, channel string, v any) ([]byte, error) {
	msg, err := NewMessage(event, channel, v)
	if err != nil {
		return nil, err
	}
	return msg.Encode()
}
