/*
Package log provides structured logging for gopusher using zerolog.

A single package-level Logger is configured once through Init and shared by
every component. Components derive child loggers with WithComponent so that
each line carries the subsystem that produced it:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	adapterLog := log.WithComponent("adapter")
	adapterLog.Debug().Str("app_id", appID).Str("channel", ch).Msg("broadcast")

Delivery failures on the fan-out path are logged at debug level; they are
expected under load (slow or closing sockets) and never abort a broadcast.
*/
package log
