package apps

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of data keyed with the app secret
func (a *App) Sign(data string) string {
	mac := hmac.New(sha256.New, []byte(a.Secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest computes the Pusher HTTP API auth_signature for a request.
// auth_signature and body_md5 are never taken from the query; body_md5 is
// recomputed from body when body is non-empty.
func (a *App) SignRequest(method, path string, query url.Values, body []byte) string {
	params := make(map[string]string, len(query)+1)
	for k, v := range query {
		lk := strings.ToLower(k)
		if lk == "auth_signature" || lk == "body_md5" || len(v) == 0 {
			continue
		}
		params[lk] = v[0]
	}
	if len(body) > 0 {
		sum := md5.Sum(body)
		params["body_md5"] = hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	return a.Sign(strings.ToUpper(method) + "\n" + path + "\n" + strings.Join(pairs, "&"))
}

// VerifyRequest reports whether signature matches the request
func (a *App) VerifyRequest(signature, method, path string, query url.Values, body []byte) bool {
	expected := a.SignRequest(method, path, query, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ChannelAuth returns the "key:signature" token a client must present to
// subscribe to a private or presence channel.
func (a *App) ChannelAuth(socketID, channel, channelData string) string {
	data := socketID + ":" + channel
	if channelData != "" {
		data += ":" + channelData
	}
	return a.Key + ":" + a.Sign(data)
}

// VerifyChannelAuth reports whether auth is valid for the subscription
func (a *App) VerifyChannelAuth(auth, socketID, channel, channelData string) bool {
	if auth == "" {
		return false
	}
	expected := a.ChannelAuth(socketID, channel, channelData)
	return hmac.Equal([]byte(expected), []byte(auth))
}
