// Package cluster carries horizontal adapter traffic between gateway nodes.
package cluster
