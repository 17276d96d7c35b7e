// Package apps holds the tenant model of the gateway: an App is identified by
// an id (HTTP API) and a key (socket handshake), signs requests with its
// secret and carries the limits the gateway enforces for it.
//
// Apps are resolved through a Manager. StaticManager serves the list from the
// config file, BoltManager persists apps in a local BoltDB file managed by
// the CLI, and PostgresManager reads them from a shared database table.
package apps
