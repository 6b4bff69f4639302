/*
Package manager assembles and runs the dynadns daemon.

NewManager turns a parsed configuration into live components, in order:

 1. service types, then the plugin runtime (LoadConfig, Wire into the
    monitor engine)
 2. zones, loaded and bound to plugin resources
 3. the admin state database, with stored overrides re-applied
 4. the DNS server, the HTTP API and, when grpc_listen is set, the gRPC
    health service

Run then performs one health check of every endpoint before the DNS server
opens, so the first answers already reflect real health, and serves until
its context is cancelled. Components run under an errgroup: a failing
listener stops the daemon.

Build is the first two steps alone. checkconf uses it in strict mode, where
a dynamic record that cannot be bound is fatal, while the daemon logs such
records and answers SERVFAIL for them.
*/
package manager
