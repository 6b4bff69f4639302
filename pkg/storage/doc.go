/*
Package storage persists admin state overrides in a BoltDB file.

An admin override pins the published state of one monitored endpoint,
for example to drain a server before maintenance:

	admin := storage.NewAdmin(db, states)
	admin.Set("web/192.0.2.10", "DOWN", "kernel upgrade")
	...
	admin.Clear("web/192.0.2.10")

Overrides are keyed by endpoint description ("service_type/target") in the
admin_state bucket, JSON encoded. On start the daemon calls Restore, which
re-applies every stored override to the freshly built state store.
Overrides for endpoints that are no longer configured are kept, and can be
removed with Clear.

The database lives at <data_dir>/dynadns.db. bbolt takes an exclusive
lock on the file, so while the daemon runs the command line changes
overrides through the HTTP API instead of opening the file.
*/
package storage
