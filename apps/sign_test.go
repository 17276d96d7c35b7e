package apps

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testApp() *App {
	return &App{ID: "app-id", Key: "app-key", Secret: "app-secret", Enabled: true}
}

func hmacHex(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignRequestStringToSign(t *testing.T) {
	app := testApp()
	query := url.Values{
		"auth_version":   {"1.0"},
		"auth_key":       {"app-key"},
		"auth_timestamp": {"1353088179"},
		"auth_signature": {"ignored"},
		"body_md5":       {"also-ignored"},
	}
	body := []byte(`{"name":"foo","channels":["project-3"],"data":"{\"some\":\"data\"}"}`)
	sum := md5.Sum(body)

	want := hmacHex("app-secret", "POST\n/apps/app-id/events\nauth_key=app-key&auth_timestamp=1353088179&auth_version=1.0&body_md5="+hex.EncodeToString(sum[:]))

	assert.Equal(t, want, app.SignRequest("post", "/apps/app-id/events", query, body))
	assert.True(t, app.VerifyRequest(want, "POST", "/apps/app-id/events", query, body))
}

func TestVerifyRequestRejectsTampering(t *testing.T) {
	app := testApp()
	query := url.Values{"auth_key": {"app-key"}, "auth_timestamp": {"1"}, "auth_version": {"1.0"}}
	sig := app.SignRequest("GET", "/apps/app-id/channels", query, nil)

	assert.True(t, app.VerifyRequest(sig, "GET", "/apps/app-id/channels", query, nil))
	assert.False(t, app.VerifyRequest(sig, "GET", "/apps/app-id/channels/x", query, nil))
	assert.False(t, app.VerifyRequest(sig, "GET", "/apps/app-id/channels", query, []byte("{}")))

	other := testApp()
	other.Secret = "different"
	assert.False(t, other.VerifyRequest(sig, "GET", "/apps/app-id/channels", query, nil))
}

func TestChannelAuth(t *testing.T) {
	app := testApp()

	private := app.ChannelAuth("123.456", "private-room", "")
	assert.Equal(t, "app-key:"+hmacHex("app-secret", "123.456:private-room"), private)
	assert.True(t, app.VerifyChannelAuth(private, "123.456", "private-room", ""))
	assert.False(t, app.VerifyChannelAuth(private, "123.457", "private-room", ""))
	assert.False(t, app.VerifyChannelAuth("", "123.456", "private-room", ""))

	data := `{"user_id":"u1"}`
	presence := app.ChannelAuth("123.456", "presence-room", data)
	assert.Equal(t, "app-key:"+hmacHex("app-secret", "123.456:presence-room:"+data), presence)
	assert.True(t, app.VerifyChannelAuth(presence, "123.456", "presence-room", data))
	assert.False(t, app.VerifyChannelAuth(presence, "123.456", "presence-room", `{"user_id":"u2"}`))
}

func TestLimitsMerge(t *testing.T) {
	defaults := DefaultLimits()
	l := Limits{MaxEventChannelsAtOnce: 10, MaxConnections: 5}

	merged := l.Merge(defaults)
	assert.Equal(t, 10, merged.MaxEventChannelsAtOnce)
	assert.Equal(t, 5, merged.MaxConnections)
	assert.Equal(t, defaults.MaxEventNameLength, merged.MaxEventNameLength)
	assert.Equal(t, defaults.MaxEventPayloadInKb, merged.MaxEventPayloadInKb)

	app := &App{ID: "a", Limits: l}
	withDefaults := app.WithDefaults(defaults)
	assert.Equal(t, 100, withDefaults.MaxPresenceMembersPerChannel)
	assert.Equal(t, 0, app.MaxPresenceMembersPerChannel, "original must not change")
}
