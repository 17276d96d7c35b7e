package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"strings"

	"github.com/ramory-l/gopusher"
)

type channelInfo struct {
	SubscriptionCount int  `json:"subscription_count"`
	Occupied          bool `json:"occupied"`
	UserCount         *int `json:"user_count,omitempty"`
}

type userInfo struct {
	ID string `json:"id"`
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("OK"))
}

func (r *Router) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.server.Closing() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Closing"))
		return
	}
	w.Write([]byte("OK"))
}

func (r *Router) handleUsage(w http.ResponseWriter, _ *http.Request) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	percent := 0.0
	if stats.Sys > 0 {
		percent = float64(stats.HeapAlloc) / float64(stats.Sys) * 100
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memory": map[string]any{
			"free":    stats.Sys - stats.HeapAlloc,
			"usage":   stats.HeapAlloc,
			"total":   stats.Sys,
			"percent": percent,
		},
	})
}

func (r *Router) handleChannels(w http.ResponseWriter, req *http.Request) {
	app, _ := AppFromContext(req.Context())
	prefix := req.URL.Query().Get("filter_by_prefix")

	channels := make(map[string]channelInfo)
	for name, count := range r.server.Adapter().ChannelsWithSocketsCount(req.Context(), app.ID, false) {
		if count == 0 || !strings.HasPrefix(name, prefix) {
			continue
		}
		channels[name] = channelInfo{SubscriptionCount: count, Occupied: true}
	}

	resp := map[string]any{"channels": channels}
	r.metrics.MarkAPIMessage(app.ID, req.URL.Query(), resp)
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleChannel(w http.ResponseWriter, req *http.Request) {
	app, _ := AppFromContext(req.Context())
	channel := req.PathValue("channel")
	adapter := r.server.Adapter()

	count := adapter.ChannelSocketsCount(req.Context(), app.ID, channel, false)
	resp := channelInfo{SubscriptionCount: count, Occupied: count > 0}
	if gopusher.IsPresenceChannel(channel) {
		users := 0
		if count > 0 {
			users = adapter.ChannelMembersCount(req.Context(), app.ID, channel, false)
		}
		resp.UserCount = &users
	}

	r.metrics.MarkAPIMessage(app.ID, req.URL.Query(), resp)
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	app, _ := AppFromContext(req.Context())
	channel := req.PathValue("channel")

	if !gopusher.IsPresenceChannel(channel) {
		writeError(w, http.StatusBadRequest, "The channel must be a presence channel.")
		return
	}

	members := r.server.Adapter().ChannelMembers(req.Context(), app.ID, channel, false)
	users := make([]userInfo, 0, len(members))
	for id := range members {
		users = append(users, userInfo{ID: id})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	resp := map[string]any{"users": users}
	r.metrics.MarkAPIMessage(app.ID, req.URL.Query(), resp)
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	app, _ := AppFromContext(req.Context())
	body := BodyFromContext(req.Context())

	var event gopusher.PublishRequest
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "The received data is incorrect")
		return
	}

	if err := r.server.Publish(req.Context(), app, &event); err != nil {
		var publishErr *gopusher.PublishError
		if errors.As(err, &publishErr) {
			writeError(w, publishErr.Code, publishErr.Message)
			return
		}
		r.logger.Error().Err(err).Str("app_id", app.ID).Msg("Publish failed")
		writeError(w, http.StatusInternalServerError, "Publish failed")
		return
	}

	resp := map[string]bool{"ok": true}
	r.metrics.MarkAPIMessage(app.ID, &event, resp)
	writeJSON(w, http.StatusOK, resp)
}
