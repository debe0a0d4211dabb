/*
Package log provides structured logging built on zerolog.

Both daemons and the client library share a single global logger configured
once at startup via Init. Components derive child loggers with WithComponent
so every line carries its origin:

	logger := log.WithComponent("flush")
	logger.Info().Str("app_id", appID).Msg("Flushed partition")

Console output is the default; pass JSONOutput for machine-readable logs.
*/
package log
