package plugin

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
)

// APIVersion is the plugin interface version this runtime implements.
// Plugins reporting any other version are refused at load.
const APIVersion = 3

var (
	ErrUnknownPlugin      = errors.New("unknown plugin")
	ErrUnknownResource    = errors.New("unknown resource")
	ErrCNAMEWithoutOrigin = errors.New("resource may answer a CNAME but has no origin")
	ErrVersionMismatch    = errors.New("plugin API version mismatch")
	ErrBadPhase           = errors.New("operation not allowed in current plugin phase")
)

// Caps are the capability flags a plugin advertises.
type Caps uint8

const (
	// CanResolve marks plugins implementing Resolver.
	CanResolve Caps = 1 << iota
	// CanMonitor marks plugins implementing Monitor.
	CanMonitor
)

// Has reports whether all of want are set.
func (c Caps) Has(want Caps) bool {
	return c&want == want
}

// Plugin is implemented by every plugin. Optional behaviour is advertised
// through Caps and provided by the matching interface below.
type Plugin interface {
	Name() string
	APIVersion() int
	Caps() Caps
}

// Configurer is implemented by plugins that take configuration. cfg is the
// plugin's block from the plugins section, or nil if it has none.
type Configurer interface {
	LoadConfig(cfg *config.Node, reg Registrar, numThreads int) error
}

// Mapping is what a resolver reports for a zone resource.
type Mapping struct {
	// ID is the resolver's own index for the resource.
	ID int

	// CNAME is set when the resource can answer with a CNAME, which is
	// only legal where an origin is known.
	CNAME bool
}

// Resolver is implemented by plugins with CanResolve.
//
// MapResource is called from the zone loading goroutine while Resolve runs
// concurrently on every DNS worker. Resolve must not block and must treat out
// as borrowed for the duration of the call.
type Resolver interface {
	MapResource(resource, origin string) (Mapping, error)
	Resolve(thread, resID int, origin string, ci *ClientInfo, out *result.Result) sttl.STTL
}

// ThreadIniter is implemented by resolvers that keep per-worker state.
type ThreadIniter interface {
	IOThreadInit(thread int) error
}

// Monitor is implemented by plugins with CanMonitor. It turns registered
// endpoints into checkers for the monitor engine.
type Monitor interface {
	AddServiceType(st *health.ServiceType) error
	AddMonitoredAddress(st *health.ServiceType, ep *state.Endpoint, addr netip.Addr) (health.Checker, error)
	AddMonitoredCNAME(st *health.ServiceType, ep *state.Endpoint, cname string) (health.Checker, error)
}

// Sizer is implemented by resolvers that can report, once configured, the
// most addresses of each family one of their resources may answer.
type Sizer interface {
	ResourceSize(resource string) (v4, v6 int, err error)
}

// Exiter is implemented by plugins with teardown work.
type Exiter interface {
	Exit() error
}

// Registrar is handed to plugins while their configuration loads.
type Registrar interface {
	// RegisterAddress declares interest in the health of addr under the
	// named service type and returns the endpoint id to read state from.
	RegisterAddress(serviceType string, addr netip.Addr) (int, error)

	// RegisterCNAME is RegisterAddress for a CNAME target.
	RegisterCNAME(serviceType, cname string) (int, error)

	// DeclareMaxAddresses raises the per-family address limits results
	// are sized for.
	DeclareMaxAddresses(v4, v6 int)

	// RequirePlugin loads another plugin this one delegates to.
	RequirePlugin(name string) error

	// ResourceSize reports the per-family answer size of a resource of
	// another plugin already loaded through RequirePlugin.
	ResourceSize(pluginName, resource string) (v4, v6 int, err error)

	// ServiceType looks up a service type by name.
	ServiceType(name string) (*health.ServiceType, error)

	Store() *state.Store
	Host() Host
}

// Host lets meta plugins delegate to other resolvers.
type Host interface {
	// MapResource maps a child resource and returns its runtime binding.
	// It may only be called from within the caller's own MapResource.
	MapResource(pluginName, resource, origin string) (Mapping, error)

	// Resolve answers a child binding returned by MapResource.
	Resolve(thread, id int, origin string, ci *ClientInfo, out *result.Result) sttl.STTL

	// MaxAddresses returns the declared per-family address limits.
	MaxAddresses() (v4, v6 int)
}

// ClientInfo describes who is asking. ECS is the zero Addr when the query
// carried no edns-client-subnet option.
type ClientInfo struct {
	Resolver netip.Addr
	ECS      netip.Addr
	ECSMask  uint8
}

// HasECS reports whether the query carried a client subnet.
func (ci *ClientInfo) HasECS() bool {
	return ci.ECS.IsValid()
}

// Address returns the address answers should be tailored to: the client
// subnet if present, otherwise the resolver.
func (ci *ClientInfo) Address() netip.Addr {
	if ci.HasECS() {
		return ci.ECS
	}
	return ci.Resolver
}

// Factory creates a fresh plugin instance.
type Factory func() Plugin

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a plugin available under name. It is meant to be called
// from init and panics on duplicates.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("plugin: Register factory is nil for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("plugin: Register called twice for " + name)
	}
	registry[name] = factory
}

// Registered returns the sorted names of all registered plugins.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return f, nil
}
