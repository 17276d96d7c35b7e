// Package httpapi serves the Pusher HTTP API: channel introspection, event
// publishing and health routes. Every API route runs the same ordered
// middleware pipeline: cors, app lookup, JSON body, signature check and
// rate limiting.
package httpapi
