// Package wsconn is the websocket transport under the gateway: it upgrades
// HTTP requests, queues outgoing frames without blocking the caller, and
// enforces the activity/pong timeouts of the Pusher protocol.
package wsconn
