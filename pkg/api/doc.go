/*
Package api serves the daemon's status and admin interfaces.

# HTTP

HealthServer listens on options.api_listen (127.0.0.1:3506 by default):

	GET    /health                 liveness, always 200 while the process runs
	GET    /ready                  200 once every readiness check passes
	GET    /states                 endpoint states; ?service_type=web&down=true
	GET    /admin-state            stored admin overrides
	PUT    /admin-state            {"desc": "web/192.0.2.10", "state": "DOWN/60", "reason": "..."}
	DELETE /admin-state?desc=...   remove an override
	GET    /metrics                Prometheus metrics

Errors are JSON objects with a single "error" field. An unknown endpoint
answers 404, and a virtual endpoint, whose state cannot be forced, 409.

# gRPC

Server implements grpc.health.v1.Health when options.grpc_listen is set.
Every monitored endpoint is a service named by its description, so load
balancers and probes that speak the standard health protocol can watch a
single backend:

	grpc-health-probe -addr 127.0.0.1:3507 -service web/192.0.2.10

The empty service name reports the daemon itself and turns SERVING once the
DNS server is up.
*/
package api
