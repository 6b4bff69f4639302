/*
Package log provides structured logging for dynadns using zerolog.

The package keeps a single global zerolog.Logger that every other package
writes through. It is a no-op logger until Init is called, so library code and
tests can log freely without configuring output first.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("monitor")
	logger.Info().Str("endpoint", "web/192.0.2.1").Msg("endpoint is now DOWN")

Entries carry these fields across the daemon:

  - component: subsystem (monitor, runtime, dns, zone, api, storage)
  - plugin:    resolution or monitor plugin name
  - endpoint:  monitored endpoint description (service_type/target)

# Levels

Debug is meant for per-check and per-query detail and is far too chatty for
production on a busy server. Info covers lifecycle events and state
transitions, Warn covers mapping errors and failed checks that did not change
state, and Error covers faults that degrade service.
*/
package log
