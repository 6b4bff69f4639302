// Package plugintest runs plugins inside a real runtime for tests.
package plugintest

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/stretchr/testify/require"

	_ "github.com/cuemby/dynadns/pkg/plugins/checks"
)

// Threads is the number of workers every Env initializes.
const Threads = 2

// Env is a configured and wired runtime.
type Env struct {
	t       testing.TB
	Store   *state.Store
	Runtime *plugin.Runtime
	Checks  map[int]health.Checker
}

// ServiceTypes parses a service_types block on top of the built-ins.
func ServiceTypes(t testing.TB, yaml string) map[string]*health.ServiceType {
	t.Helper()
	n, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	types, err := health.ParseServiceTypes(n)
	require.NoError(t, err)
	return types
}

// Load configures a runtime from a plugins block and wires it. types may be
// nil for the built-in service types.
func Load(t testing.TB, yaml string, types map[string]*health.ServiceType) *Env {
	t.Helper()
	env, err := TryLoad(t, yaml, types)
	require.NoError(t, err)
	return env
}

// TryLoad is Load returning the configuration error instead of failing.
func TryLoad(t testing.TB, yaml string, types map[string]*health.ServiceType) (*Env, error) {
	t.Helper()
	n, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	env := &Env{t: t, Store: state.NewStore(), Checks: make(map[int]health.Checker)}
	env.Runtime = plugin.NewRuntime(env.Store, types)
	if err := env.Runtime.LoadConfig(n, Threads); err != nil {
		return nil, err
	}
	if err := env.Runtime.Wire(env); err != nil {
		return nil, err
	}
	for i := 0; i < Threads; i++ {
		require.NoError(t, env.Runtime.IOThreadInit(i))
	}
	return env, nil
}

// Add records wired checkers.
func (e *Env) Add(id int, _ *health.ServiceType, c health.Checker) error {
	e.Checks[id] = c
	return nil
}

// Map maps "plugin!resource" under origin.
func (e *Env) Map(key, origin string) int {
	e.t.Helper()
	id, err := e.TryMap(key, origin)
	require.NoError(e.t, err)
	return id
}

// TryMap is Map returning the error.
func (e *Env) TryMap(key, origin string) (int, error) {
	name, res, _ := strings.Cut(key, "!")
	return e.Runtime.MapResource(name, res, origin)
}

// Resolve answers a binding on worker 0 for a query from 198.51.100.1.
func (e *Env) Resolve(id int, origin string) (*result.Result, sttl.STTL) {
	return e.ResolveFrom(id, origin, &plugin.ClientInfo{Resolver: netip.MustParseAddr("198.51.100.1")})
}

// ResolveFrom is Resolve with explicit client information.
func (e *Env) ResolveFrom(id int, origin string, ci *plugin.ClientInfo) (*result.Result, sttl.STTL) {
	out := e.Runtime.NewResult()
	s := e.Runtime.Resolve(0, id, origin, ci, out)
	return out, s
}

// Fail commits a failed check for the endpoint "serviceType/target".
func (e *Env) Fail(desc string) { e.commit(desc, false) }

// Pass commits a successful check for the endpoint "serviceType/target".
func (e *Env) Pass(desc string) { e.commit(desc, true) }

func (e *Env) commit(desc string, ok bool) {
	e.t.Helper()
	ep, found := e.Store.Lookup(desc)
	require.True(e.t, found, "no endpoint %s", desc)
	_, err := e.Store.Commit(ep.ID, ok)
	require.NoError(e.t, err)
}

// Addrs renders the addresses of r, v4 first.
func Addrs(r *result.Result) []string {
	var out []string
	for _, a := range r.V4() {
		out = append(out, a.String())
	}
	for _, a := range r.V6() {
		out = append(out, a.String())
	}
	return out
}
