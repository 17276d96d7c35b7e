// Package config loads the gateway's YAML configuration, applies
// GOPUSHER_* environment overrides and watches the file for app changes.
package config
