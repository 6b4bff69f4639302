package plugin

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// CheckAdder receives the checkers produced while wiring. The monitor
// engine implements it.
type CheckAdder interface {
	Add(id int, st *health.ServiceType, checker health.Checker) error
}

// Binding describes one mapped zone resource.
type Binding struct {
	ID     int    `json:"id"`
	Key    string `json:"key"`
	Plugin string `json:"plugin"`
	CNAME  bool   `json:"cname"`
}

var (
	sentinelV4 = netip.IPv4Unspecified()
	sentinelV6 = netip.IPv6Unspecified()
)

// Runtime owns every loaded plugin and the table of mapped resources.
//
// Configuration, wiring and mapping are serialized by one mutex and happen on
// the startup and zone loading goroutines. Resolve takes no lock: it reads
// the binding table through an atomic pointer and may run on any number of
// DNS workers at once.
type Runtime struct {
	store  *state.Store
	types  map[string]*health.ServiceType
	logger zerolog.Logger
	warn   zerolog.Logger

	mu          sync.Mutex
	phase       phaseVar
	configuring bool
	pluginCfg   *config.Node
	threads     int
	plugins     map[string]*entry
	order       []*entry
	loading     map[string]bool
	mapping     map[string]bool
	interests   []interest
	interested  map[int]bool
	byKey       map[string]int

	bindings Table[*binding]
	max4     atomic.Int32
	max6     atomic.Int32
}

type entry struct {
	name     string
	plugin   Plugin
	resolver Resolver
	monitor  Monitor
	phase    phaseVar
	logger   zerolog.Logger

	resolvedUp   prometheus.Counter
	resolvedDown prometheus.Counter
	fallbacks    prometheus.Counter
}

type binding struct {
	key   string
	e     *entry
	resID int
	cname bool
}

type interest struct {
	id    int
	st    *health.ServiceType
	addr  netip.Addr
	cname string
}

// NewRuntime creates a runtime reading and registering endpoint state in
// store. types holds every configured service type; nil means only the
// built-in ones.
func NewRuntime(store *state.Store, types map[string]*health.ServiceType) *Runtime {
	if types == nil {
		types = health.Builtin()
	}
	logger := log.WithComponent("plugins")
	rt := &Runtime{
		store:      store,
		types:      types,
		logger:     logger,
		warn:       logger.Sample(&zerolog.BurstSampler{Burst: 10, Period: time.Second}),
		plugins:    make(map[string]*entry),
		loading:    make(map[string]bool),
		mapping:    make(map[string]bool),
		interested: make(map[int]bool),
		byKey:      make(map[string]int),
	}
	rt.max4.Store(1)
	rt.max6.Store(1)
	return rt
}

// Phase returns the runtime-wide phase.
func (rt *Runtime) Phase() Phase {
	return rt.phase.Load()
}

// LoadConfig loads every plugin named in the plugins block, in order, plus
// any plugin they require and the monitor plugins of every service type
// they register endpoints under. Plugins are only ever loaded here.
func (rt *Runtime) LoadConfig(plugins *config.Node, numThreads int) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.phase.require(PhaseUnloaded, PhaseUnloaded); err != nil {
		return err
	}
	if plugins != nil && plugins.Kind() != config.KindHash {
		return plugins.Errorf("plugins must be a hash")
	}
	if numThreads < 1 {
		numThreads = 1
	}

	rt.pluginCfg = plugins
	rt.threads = numThreads
	rt.configuring = true
	defer func() { rt.configuring = false }()

	for _, name := range plugins.Keys() {
		if _, err := rt.load(name); err != nil {
			return err
		}
	}

	for _, in := range rt.interests {
		e, err := rt.load(in.st.Plugin)
		if err != nil {
			return fmt.Errorf("service type %s: %w", in.st.Name, err)
		}
		if e.monitor == nil {
			return fmt.Errorf("service type %s: plugin %s cannot monitor", in.st.Name, e.name)
		}
	}

	if err := rt.phase.advance(PhaseUnloaded, PhaseConfigured); err != nil {
		return err
	}
	rt.logger.Info().
		Int("plugins", len(rt.order)).
		Int("endpoints", len(rt.interests)).
		Msg("plugins configured")
	return nil
}

func (rt *Runtime) load(name string) (*entry, error) {
	if e, ok := rt.plugins[name]; ok {
		return e, nil
	}
	if !rt.configuring {
		return nil, fmt.Errorf("%w: plugin %s must be loaded during configuration", ErrBadPhase, name)
	}
	if rt.loading[name] {
		return nil, fmt.Errorf("plugin %s: circular plugin dependency", name)
	}
	rt.loading[name] = true
	defer delete(rt.loading, name)

	factory, err := lookup(name)
	if err != nil {
		return nil, err
	}
	p := factory()
	if v := p.APIVersion(); v != APIVersion {
		return nil, fmt.Errorf("plugin %s: %w: built for %d, runtime is %d", name, ErrVersionMismatch, v, APIVersion)
	}

	e := &entry{
		name:         name,
		plugin:       p,
		logger:       log.WithPlugin(name),
		resolvedUp:   metrics.ResolveTotal.WithLabelValues(name, "up"),
		resolvedDown: metrics.ResolveTotal.WithLabelValues(name, "down"),
		fallbacks:    metrics.ResolveFallbacks.WithLabelValues(name),
	}
	caps := p.Caps()
	if caps.Has(CanResolve) {
		r, ok := p.(Resolver)
		if !ok {
			return nil, fmt.Errorf("plugin %s advertises CanResolve without implementing it", name)
		}
		e.resolver = r
	}
	if caps.Has(CanMonitor) {
		m, ok := p.(Monitor)
		if !ok {
			return nil, fmt.Errorf("plugin %s advertises CanMonitor without implementing it", name)
		}
		e.monitor = m
	}

	cfg, _ := rt.pluginCfg.Get(name)
	if c, ok := p.(Configurer); ok {
		if err := c.LoadConfig(cfg, &registrar{rt: rt, e: e}, rt.threads); err != nil {
			return nil, fmt.Errorf("plugin %s: %w", name, err)
		}
	} else if cfg.Len() > 0 {
		return nil, fmt.Errorf("%w: plugin %s takes no configuration", config.ErrInvalid, name)
	}

	if err := e.phase.advance(PhaseUnloaded, PhaseConfigured); err != nil {
		return nil, err
	}
	rt.plugins[name] = e
	rt.order = append(rt.order, e)
	e.logger.Debug().Bool("resolver", e.resolver != nil).Bool("monitor", e.monitor != nil).Msg("plugin loaded")
	return e, nil
}

// Wire hands every registered endpoint to its monitor plugin and passes the
// resulting checkers to adder.
func (rt *Runtime) Wire(adder CheckAdder) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.phase.require(PhaseConfigured, PhaseConfigured); err != nil {
		return err
	}

	added := make(map[string]bool)
	for _, in := range rt.interests {
		e := rt.plugins[in.st.Plugin]
		if !added[in.st.Name] {
			if err := e.monitor.AddServiceType(in.st); err != nil {
				return fmt.Errorf("service type %s: %w", in.st.Name, err)
			}
			added[in.st.Name] = true
		}

		ep := rt.store.Endpoint(in.id)
		var (
			checker health.Checker
			err     error
		)
		if in.cname != "" {
			checker, err = e.monitor.AddMonitoredCNAME(in.st, ep, in.cname)
		} else {
			checker, err = e.monitor.AddMonitoredAddress(in.st, ep, in.addr)
		}
		if err != nil {
			return fmt.Errorf("monitor %s: %w", ep.Desc, err)
		}
		if err := adder.Add(in.id, in.st, checker); err != nil {
			return fmt.Errorf("monitor %s: %w", ep.Desc, err)
		}
	}

	for _, e := range rt.order {
		if err := e.phase.advance(PhaseConfigured, PhaseWired); err != nil {
			return fmt.Errorf("plugin %s: %w", e.name, err)
		}
	}
	if err := rt.phase.advance(PhaseConfigured, PhaseWired); err != nil {
		return err
	}
	rt.logger.Info().
		Int("service_types", len(added)).
		Int("endpoints", len(rt.interests)).
		Msg("monitoring wired")
	return nil
}

// MapResource binds a zone resource to an id for Resolve. The same plugin
// and resource always map to the same id whatever the origin. A resource
// that may answer a CNAME cannot be mapped without an origin; for address
// only resources the origin is ignored.
func (rt *Runtime) MapResource(pluginName, resource, origin string) (int, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	m, err := rt.mapLocked(pluginName, resource, origin)
	if err != nil {
		metrics.MapErrors.WithLabelValues(pluginName).Inc()
		rt.logger.Warn().
			Err(err).
			Str("plugin", pluginName).
			Str("resource", resource).
			Str("origin", origin).
			Msg("failed to map resource")
		return 0, err
	}
	return m.ID, nil
}

// mapLocked maps a resource and reports the runtime binding id.
func (rt *Runtime) mapLocked(pluginName, resource, origin string) (Mapping, error) {
	key := pluginName + "!" + resource
	if id, ok := rt.byKey[key]; ok {
		b, _ := rt.bindings.Get(id)
		if b.cname && origin == "" {
			return Mapping{}, fmt.Errorf("%s: %w", key, ErrCNAMEWithoutOrigin)
		}
		return Mapping{ID: id, CNAME: b.cname}, nil
	}

	e, ok := rt.plugins[pluginName]
	if !ok {
		return Mapping{}, fmt.Errorf("%s: %w: %s", key, ErrUnknownPlugin, pluginName)
	}
	if e.resolver == nil {
		return Mapping{}, fmt.Errorf("%s: plugin %s does not resolve", key, pluginName)
	}
	if e.phase.Load() < PhaseMapped {
		if err := e.phase.advance(PhaseWired, PhaseMapped); err != nil {
			return Mapping{}, fmt.Errorf("%s: %w", key, err)
		}
	} else if err := e.phase.require(PhaseMapped, PhaseRunning); err != nil {
		return Mapping{}, fmt.Errorf("%s: %w", key, err)
	}

	if rt.mapping[key] {
		return Mapping{}, fmt.Errorf("%s: resource refers to itself", key)
	}
	rt.mapping[key] = true
	defer delete(rt.mapping, key)

	m, err := e.resolver.MapResource(resource, origin)
	if err != nil {
		return Mapping{}, fmt.Errorf("%s: %w", key, err)
	}

	id := rt.bindings.Append(&binding{key: key, e: e, resID: m.ID, cname: m.CNAME})
	rt.byKey[key] = id
	e.logger.Debug().Str("resource", resource).Int("id", id).Bool("cname", m.CNAME).Msg("resource mapped")

	if m.CNAME && origin == "" {
		return Mapping{}, fmt.Errorf("%s: %w", key, ErrCNAMEWithoutOrigin)
	}
	return Mapping{ID: id, CNAME: m.CNAME}, nil
}

// IOThreadInit prepares every resolver for DNS worker thread. It must be
// called once from each worker before it resolves.
func (rt *Runtime) IOThreadInit(thread int) error {
	rt.mu.Lock()
	order := rt.order
	threads := rt.threads
	rt.mu.Unlock()

	if thread < 0 || thread >= threads {
		return fmt.Errorf("io thread %d out of range 0..%d", thread, threads-1)
	}
	for _, e := range order {
		if e.resolver == nil {
			continue
		}
		if err := e.phase.advance(PhaseWired, PhaseIOThreadReady); err != nil {
			if e.phase.Load() != PhaseRunning {
				return fmt.Errorf("plugin %s: %w", e.name, err)
			}
		}
		if ti, ok := e.plugin.(ThreadIniter); ok {
			if err := ti.IOThreadInit(thread); err != nil {
				return fmt.Errorf("plugin %s: io thread %d: %w", e.name, thread, err)
			}
		}
	}
	return nil
}

// MarkRunning records that every worker is initialized and serving.
func (rt *Runtime) MarkRunning() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, e := range rt.order {
		if err := e.phase.advance(PhaseWired, PhaseRunning); err != nil {
			return fmt.Errorf("plugin %s: %w", e.name, err)
		}
	}
	return rt.phase.advance(PhaseWired, PhaseRunning)
}

// Resolve answers binding id into out. It never blocks and never fails:
// an internal error, including a panic inside the plugin, leaves sentinel
// addresses in out and returns DOWN. A CNAME answer for a binding resolved
// without an origin is such an error.
func (rt *Runtime) Resolve(thread, id int, origin string, ci *ClientInfo, out *result.Result) (s sttl.STTL) {
	b, ok := rt.bindings.Get(id)
	if !ok {
		return rt.fallback(nil, out, fmt.Errorf("%w: binding %d", ErrUnknownResource, id))
	}
	if b.e.phase.Load() == PhaseExited {
		return rt.fallback(b, out, fmt.Errorf("%w: plugin exited", ErrBadPhase))
	}

	defer func() {
		if r := recover(); r != nil {
			s = rt.fallback(b, out, fmt.Errorf("resolver panicked: %v", r))
		}
	}()

	out.Clear()
	s = b.e.resolver.Resolve(thread, b.resID, origin, ci, out)
	if err := validate(origin, out); err != nil {
		return rt.fallback(b, out, err)
	}

	if s.IsDown() {
		b.e.resolvedDown.Inc()
	} else {
		b.e.resolvedUp.Inc()
	}
	return s
}

func validate(origin string, out *result.Result) error {
	switch {
	case out.HasCNAME() && origin == "":
		return errors.New("CNAME answer for an address-only record")
	case out.HasCNAME() && out.Len() > 0:
		return errors.New("answer mixes addresses and a CNAME")
	case out.Empty():
		return errors.New("empty answer")
	}
	return nil
}

func (rt *Runtime) fallback(b *binding, out *result.Result, err error) sttl.STTL {
	out.Clear()
	out.Add(sentinelV4)
	out.Add(sentinelV6)

	ev := rt.warn.Warn().Err(err)
	if b != nil {
		b.e.fallbacks.Inc()
		ev = ev.Str("resource", b.key)
	} else {
		metrics.ResolveFallbacks.WithLabelValues("").Inc()
	}
	ev.Msg("resolution failed, answering sentinel data")
	return sttl.New(true, 0)
}

// Exit tears down every plugin in reverse load order.
func (rt *Runtime) Exit() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var errs []error
	for i := len(rt.order) - 1; i >= 0; i-- {
		e := rt.order[i]
		if e.phase.Load() == PhaseExited {
			continue
		}
		_ = e.phase.advance(PhaseUnloaded, PhaseExited)
		if x, ok := e.plugin.(Exiter); ok {
			if err := x.Exit(); err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", e.name, err))
			}
		}
	}
	_ = rt.phase.advance(PhaseUnloaded, PhaseExited)
	return errors.Join(errs...)
}

// MaxAddresses returns the largest per-family address counts any plugin
// declared; results handed to Resolve must be sized for them.
func (rt *Runtime) MaxAddresses() (v4, v6 int) {
	return int(rt.max4.Load()), int(rt.max6.Load())
}

// NewResult allocates a result sized for this runtime.
func (rt *Runtime) NewResult() *result.Result {
	return result.New(rt.MaxAddresses())
}

// Threads returns the configured number of DNS workers.
func (rt *Runtime) Threads() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.threads
}

// Store returns the state store plugins register endpoints in.
func (rt *Runtime) Store() *state.Store {
	return rt.store
}

// PluginPhase returns the phase of a loaded plugin.
func (rt *Runtime) PluginPhase(name string) (Phase, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	e, ok := rt.plugins[name]
	if !ok {
		return PhaseUnloaded, false
	}
	return e.phase.Load(), true
}

// Plugins returns loaded plugin names in load order.
func (rt *Runtime) Plugins() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	names := make([]string, len(rt.order))
	for i, e := range rt.order {
		names[i] = e.name
	}
	return names
}

// Bindings lists every mapped resource.
func (rt *Runtime) Bindings() []Binding {
	all := rt.bindings.All()
	out := make([]Binding, len(all))
	for i, b := range all {
		out[i] = Binding{ID: i, Key: b.key, Plugin: b.e.name, CNAME: b.cname}
	}
	return out
}

type registrar struct {
	rt *Runtime
	e  *entry
}

func (r *registrar) ServiceType(name string) (*health.ServiceType, error) {
	st, ok := r.rt.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown service type %q", config.ErrInvalid, name)
	}
	return st, nil
}

func (r *registrar) RegisterAddress(serviceType string, addr netip.Addr) (int, error) {
	if !addr.IsValid() {
		return 0, fmt.Errorf("%w: invalid address", config.ErrInvalid)
	}
	return r.register(serviceType, addr.Unmap().String(), addr.Unmap(), "")
}

func (r *registrar) RegisterCNAME(serviceType, cname string) (int, error) {
	if cname == "" {
		return 0, fmt.Errorf("%w: empty CNAME", config.ErrInvalid)
	}
	return r.register(serviceType, cname, netip.Addr{}, cname)
}

func (r *registrar) register(serviceType, target string, addr netip.Addr, cname string) (int, error) {
	if r.e.phase.Load() != PhaseUnloaded {
		return 0, fmt.Errorf("%w: endpoints can only be registered while configuring", ErrBadPhase)
	}
	st, err := r.ServiceType(serviceType)
	if err != nil {
		return 0, err
	}
	id, err := r.rt.store.Register(st, target, cname != "")
	if err != nil {
		return 0, err
	}
	if !st.Virtual() && !r.rt.interested[id] {
		r.rt.interested[id] = true
		r.rt.interests = append(r.rt.interests, interest{id: id, st: st, addr: addr, cname: cname})
	}
	return id, nil
}

func (r *registrar) DeclareMaxAddresses(v4, v6 int) {
	raise := func(v *atomic.Int32, n int) {
		for {
			cur := v.Load()
			if int32(n) <= cur || v.CompareAndSwap(cur, int32(n)) {
				return
			}
		}
	}
	raise(&r.rt.max4, v4)
	raise(&r.rt.max6, v6)
}

func (r *registrar) RequirePlugin(name string) error {
	if name == r.e.name {
		return nil
	}
	_, err := r.rt.load(name)
	return err
}

func (r *registrar) ResourceSize(pluginName, resource string) (int, int, error) {
	e, ok := r.rt.plugins[pluginName]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s is not loaded", ErrUnknownPlugin, pluginName)
	}
	sz, ok := e.plugin.(Sizer)
	if !ok {
		return 0, 0, fmt.Errorf("plugin %s cannot report the size of its resources", pluginName)
	}
	v4, v6, err := sz.ResourceSize(resource)
	if err != nil {
		return 0, 0, fmt.Errorf("%s!%s: %w", pluginName, resource, err)
	}
	return v4, v6, nil
}

func (r *registrar) Store() *state.Store {
	return r.rt.store
}

func (r *registrar) Host() Host {
	return host{rt: r.rt}
}

type host struct {
	rt *Runtime
}

func (h host) MapResource(pluginName, resource, origin string) (Mapping, error) {
	return h.rt.mapLocked(pluginName, resource, origin)
}

func (h host) Resolve(thread, id int, origin string, ci *ClientInfo, out *result.Result) sttl.STTL {
	b, ok := h.rt.bindings.Get(id)
	if !ok {
		return sttl.New(true, 0)
	}
	return b.e.resolver.Resolve(thread, b.resID, origin, ci, out)
}

func (h host) MaxAddresses() (v4, v6 int) {
	return h.rt.MaxAddresses()
}
