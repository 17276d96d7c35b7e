// Package metrics defines the Recorder hook the gateway reports to and a
// Prometheus-backed implementation of it. Every successful socket write on the
// fan-out path is one MarkWsMessageSent call tagged with the app id; every
// HTTP API call is one MarkAPIMessage call tagged with the app id and the
// request/response shapes.
package metrics
