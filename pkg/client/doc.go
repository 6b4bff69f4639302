/*
Package client lets the dynadns command line talk to a running daemon.

The daemon holds an exclusive lock on its admin state database, so the
admin-state and states commands go through the HTTP API rather than opening
the file:

	c := client.NewClient("127.0.0.1:3506")
	if _, err := c.SetAdminState(ctx, "web/192.0.2.10", "DOWN", "maintenance"); err != nil {
		return err
	}

HealthClient is a thin wrapper over the standard gRPC health service for
scripts that want one endpoint's status as an exit code.
*/
package client
