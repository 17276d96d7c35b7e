package gopusher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ramory-l/gopusher/apps"
)

// PublishRequest is the body of an HTTP API event trigger
type PublishRequest struct {
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	Channels []string        `json:"channels,omitempty"`
	Channel  string          `json:"channel,omitempty"`
	SocketID string          `json:"socket_id,omitempty"`
}

// TargetChannels returns the channels the event goes to
func (r *PublishRequest) TargetChannels() []string {
	if len(r.Channels) > 0 {
		return r.Channels
	}
	if r.Channel != "" {
		return []string{r.Channel}
	}
	return nil
}

// PublishError is a rejected publish, carrying the HTTP status to answer with
type PublishError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *PublishError) Error() string {
	return e.Message
}

func badEvent(format string, args ...any) *PublishError {
	return &PublishError{Message: fmt.Sprintf(format, args...), Code: http.StatusBadRequest}
}

// ValidatePublish checks a publish request against the app's limits
func ValidatePublish(app *apps.App, req *PublishRequest) error {
	channels := req.TargetChannels()

	if req.Name == "" || len(channels) == 0 || len(req.Data) == 0 {
		return badEvent("The received data is incorrect")
	}
	if limit := app.MaxEventChannelsAtOnce; limit >= 0 && len(channels) > limit {
		return badEvent("Cannot broadcast to more than %d channels at once", limit)
	}
	if limit := app.MaxEventNameLength; limit >= 0 && len(req.Name) > limit {
		return badEvent("Event name is too long. Maximum allowed size is %d.", limit)
	}
	if limit := app.MaxEventPayloadInKb; limit >= 0 && kilobytes(req.Data) > limit {
		return badEvent("The event data should be less than %v KB.", limit)
	}
	return nil
}

// Publish validates the request and broadcasts the event to every target
// channel. Nothing is sent when validation fails.
func (s *Server) Publish(ctx context.Context, app *apps.App, req *PublishRequest) error {
	if err := ValidatePublish(app, req); err != nil {
		return err
	}

	for _, channel := range req.TargetChannels() {
		msg := &Message{Event: req.Name, Channel: channel, Data: req.Data}
		data, err := msg.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		s.adapter.Send(app.ID, channel, data, req.SocketID)
	}

	s.logger.Debug().
		Str("app_id", app.ID).
		Str("event", req.Name).
		Int("channels", len(req.TargetChannels())).
		Msg("Event published")

	return nil
}
