// Package gopusher is the data plane of a multi-tenant, Pusher-protocol
// compatible real-time gateway.
//
// Every app (tenant) gets a Namespace holding its live connections and the
// members of each channel. An Adapter owns the namespaces and is the only
// way the rest of the gateway reads channel state or broadcasts to it:
// LocalAdapter keeps everything in this process, HorizontalAdapter relays
// broadcasts and merges reads across nodes through a Bus.
//
// # Quick Start
//
//	manager := apps.NewStaticManager([]apps.App{{
//	    ID: "app1", Key: "key", Secret: "secret", Enabled: true,
//	}})
//	server := gopusher.NewServer(nil, manager, nil)
//
//	mux := http.NewServeMux()
//	mux.Handle("/app/{key}", server)
//	http.ListenAndServe(":6001", mux)
//
// # Channels
//
// Channel names starting with "private-" require a subscription signature;
// names starting with "presence-" additionally carry the member identity
// (user_id, user_info) and announce member_added/member_removed events.
// Any other name is public.
//
// # Publishing
//
// Backend events enter through Server.Publish, which validates the request
// against the app's limits before anything is broadcast:
//
//	err := server.Publish(ctx, app, &gopusher.PublishRequest{
//	    Name:     "new-message",
//	    Channels: []string{"chat"},
//	    Data:     json.RawMessage(`"{\"text\":\"hi\"}"`),
//	})
//
// # Thread Safety
//
// All operations are goroutine-safe. Each namespace serializes its mutators
// behind its own lock; broadcasts never block on a slow client.
package gopusher
