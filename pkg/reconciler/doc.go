/*
Package reconciler reloads zone files while the daemon serves queries.

Every zone_reload_interval the reconciler stats each configured zone file.
When any modification time changed it loads and binds all zones again and
swaps them into the live zone set in one step:

	┌───────────────┐  stat   ┌──────────────┐  LoadAll  ┌────────────┐
	│ ticker (10s)  │───────▶│ mtime changed │─────────▶│ Set.Replace │
	└───────────────┘         └──────────────┘           └────────────┘

Binding calls plugin.Runtime.MapResource for every DYNA and DYNC record.
Mapping is additive and returns the same id for a resource that was
already mapped, so queries already in flight keep resolving against ids
that stay valid. A zone that fails to parse aborts the reload and the
previous zones keep being served; records that fail to bind answer
SERVFAIL until a later reload fixes them.

An interval of zero disables the loop. Reconcile can still be called
directly, which is what SIGHUP does.
*/
package reconciler
