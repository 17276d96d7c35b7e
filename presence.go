package gopusher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PresenceMember is the identity a connection announces on a presence channel
type PresenceMember struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

var errMissingUserID = errors.New("presence channel data has no user_id")

// ParsePresenceMember decodes the channel_data a client sends when joining
// a presence channel. Numeric user IDs are accepted and kept as strings.
func ParsePresenceMember(channelData string) (PresenceMember, error) {
	var raw struct {
		UserID   json.RawMessage `json:"user_id"`
		UserInfo json.RawMessage `json:"user_info"`
	}
	if err := json.Unmarshal([]byte(channelData), &raw); err != nil {
		return PresenceMember{}, fmt.Errorf("invalid presence channel data: %w", err)
	}

	userID, err := decodeUserID(raw.UserID)
	if err != nil {
		return PresenceMember{}, err
	}

	member := PresenceMember{UserID: userID}
	if len(raw.UserInfo) > 0 && string(raw.UserInfo) != "null" {
		member.UserInfo = raw.UserInfo
	}
	return member, nil
}

func decodeUserID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errMissingUserID
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", errMissingUserID
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid user_id: %w", err)
	}
	return n.String(), nil
}

// sizeInKb returns the encoded size of the member's user_info
func (m PresenceMember) sizeInKb() float64 {
	return float64(len(m.UserInfo)) / 1024
}

// PresenceData is the payload of a presence subscription_succeeded event
type PresenceData struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

// NewPresenceData builds the member listing sent to a new presence subscriber
func NewPresenceData(members map[string]PresenceMember) PresenceData {
	data := PresenceData{
		IDs:   make([]string, 0, len(members)),
		Hash:  make(map[string]json.RawMessage, len(members)),
		Count: len(members),
	}
	for id, member := range members {
		data.IDs = append(data.IDs, id)
		info := member.UserInfo
		if len(info) == 0 {
			info = json.RawMessage("null")
		}
		data.Hash[id] = info
	}
	sort.Strings(data.IDs)
	return data
}

// IsPresenceChannel reports whether the channel tracks members
func IsPresenceChannel(channel string) bool {
	return strings.HasPrefix(channel, "presence-")
}

// IsPrivateChannel reports whether the channel needs a signed subscription
func IsPrivateChannel(channel string) bool {
	return strings.HasPrefix(channel, "private-")
}

// IsClientEvent reports whether an event name is a client event
func IsClientEvent(event string) bool {
	return strings.HasPrefix(event, "client-")
}
