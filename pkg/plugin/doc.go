/*
Package plugin is the dynamic resolution runtime: it loads plugins, wires
their monitored endpoints into health checking, maps zone resources to
integer ids and answers them at query time.

# Lifecycle

Every plugin moves through the phases

	unloaded -> configured -> wired -> mapped -> io_thread_ready -> running -> exited

and never backwards. Runtime drives them:

	rt := plugin.NewRuntime(store, serviceTypes)
	rt.LoadConfig(cfg.Plugins, threads) // plugins register endpoints
	rt.Wire(engine)                     // monitor plugins build checkers
	id, err := rt.MapResource("multifo", "www", "example.com.")
	rt.IOThreadInit(worker)             // once on each DNS worker
	s := rt.Resolve(worker, id, "example.com.", ci, out)

# Plugins

A plugin implements Plugin and advertises CanResolve, CanMonitor or both.
Resolvers implement Resolver; monitors implement Monitor. Plugins register
a Factory from init:

	func init() {
		plugin.Register("static", func() plugin.Plugin { return &Static{} })
	}

Resolve never fails. An error inside a plugin, a panic included, answers
0.0.0.0 and :: with state DOWN.

Meta plugins answer by delegating to other resources through Host and
aggregate the children with Combine.
*/
package plugin
