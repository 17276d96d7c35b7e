// Package ratelimit implements the points-per-window limiter used for the
// per-app backend event, client event and read request quotas. The memory
// limiter is process-local; the Redis limiter shares windows across a cluster.
package ratelimit
