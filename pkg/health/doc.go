/*
Package health provides the protocol checkers and service type definitions
used to monitor the endpoints that dynamic DNS answers depend on.

A checker performs exactly one check per Check call and reports a Result. It
never keeps state between calls: streaks, anti-flap thresholds and the
published up/down classification live in package state, and scheduling and
timeouts live in package monitor.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                    ServiceType "web"                     │
	│  plugin: http_status   interval: 10s   timeout: 5s       │
	│  up_thresh: 20   ok_thresh: 1   down_thresh: 10          │
	└─────┬────────────────────────────────────────────────────┘
	      │ one Checker per monitored address or CNAME
	      ▼
	┌──────────────────────────────────────────────────────────┐
	│                    Checker Interface                     │
	│  • Check(ctx) Result                                     │
	│  • Type() CheckType                                      │
	└────────┬─────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┬──────────┬──────────┐
	    ▼           ▼          ▼          ▼          ▼
	┌────────┐ ┌────────┐ ┌────────┐ ┌────────┐ ┌────────┐
	│  HTTP  │ │  TCP   │ │  Exec  │ │  File  │ │ Static │
	└────────┘ └────────┘ └────────┘ └────────┘ └────────┘

# Check Types

  - http_status: GET (or another method) against http://<addr>:<port><path>,
    healthy when the status is in ok_codes (200-399 when unset). Redirects
    are not followed.
  - tcp_connect: healthy when a TCP connection can be established.
  - extmon: runs an external command with %%ITEM%% replaced by the monitored
    address or name; exit status 0 is healthy.
  - extfile: reads "<key> = UP|DOWN" lines from a file kept current by some
    other agent.
  - static: always the configured result.

# Service Types

Four service types exist without configuration: "up" and "none" (never
checked, always UP), "down" (never checked, always DOWN) and "default" (an
http_status check on port 80 that configuration may redefine). Every other
type is declared under service_types and names its monitor plugin.
*/
package health
