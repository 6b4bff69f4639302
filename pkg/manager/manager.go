package manager

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cuemby/dynadns/pkg/api"
	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/dns"
	"github.com/cuemby/dynadns/pkg/events"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/monitor"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/reconciler"
	"github.com/cuemby/dynadns/pkg/security"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/storage"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/cuemby/dynadns/pkg/zone"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	_ "github.com/cuemby/dynadns/pkg/plugins/all"
)

// shutdownTimeout bounds how long listeners get to drain on exit.
const shutdownTimeout = 5 * time.Second

// Manager owns every component of a running daemon
type Manager struct {
	opts    config.Options
	version string
	logger  zerolog.Logger

	states  *state.Store
	runtime *plugin.Runtime
	engine  *monitor.Engine
	zones   *zone.Set

	store  *storage.BoltStore
	admin  *storage.Admin
	broker *events.Broker

	dnsServer *dns.Server
	httpAPI   *api.HealthServer
	grpcAPI   *api.Server
	collector *MetricsCollector
	reloader  *reconciler.Reconciler
	tlsConfig *tls.Config
	apiAddr   atomic.Pointer[string]
}

// Built is the result of building the core from configuration without
// opening any database or socket.
type Built struct {
	States  *state.Store
	Runtime *plugin.Runtime
	Engine  *monitor.Engine
	Zones   []*zone.Zone
}

// Build configures and wires the plugins, then loads and binds the zones.
// With strict set any unbound dynamic record is an error.
func Build(file *config.File, strict bool) (*Built, error) {
	types, err := health.ParseServiceTypes(file.ServiceTypes)
	if err != nil {
		return nil, fmt.Errorf("service_types: %w", err)
	}

	states := state.NewStore()
	rt := plugin.NewRuntime(states, types)
	if err := rt.LoadConfig(file.Plugins, file.Options.IOThreads); err != nil {
		return nil, fmt.Errorf("plugins: %w", err)
	}
	engine := monitor.NewEngine(states)
	if err := rt.Wire(engine); err != nil {
		_ = rt.Exit()
		return nil, fmt.Errorf("plugins: %w", err)
	}

	zs, err := zone.LoadAll(file.Zones, rt, strict)
	if err != nil {
		_ = rt.Exit()
		return nil, err
	}
	return &Built{States: states, Runtime: rt, Engine: engine, Zones: zs}, nil
}

// NewManager builds the daemon from configuration. Nothing listens and no
// check runs until Run.
func NewManager(file *config.File, version string) (*Manager, error) {
	b, err := Build(file, false)
	if err != nil {
		return nil, err
	}
	opts := file.Options

	m := &Manager{
		opts:    opts,
		version: version,
		logger:  log.WithComponent("manager"),
		states:  b.States,
		runtime: b.Runtime,
		engine:  b.Engine,
		zones:   zone.NewSet(),
		broker:  events.NewBroker(),
	}
	m.zones.Replace(b.Zones)
	m.reloader = reconciler.NewReconciler(file.Zones, m.zones, m.runtime, opts.ZoneReload)
	m.reloader.OnReload(func(zs []*zone.Zone) {
		m.broker.Publish(&events.Event{
			Type:    events.EventZonesLoaded,
			Message: fmt.Sprintf("%d zones reloaded", len(zs)),
		})
	})

	if opts.APITLS {
		m.tlsConfig, err = security.ServerTLSConfig(filepath.Join(opts.DataDir, "tls"), apiHosts(opts.APIAddr, opts.GRPCAddr))
		if err != nil {
			_ = m.runtime.Exit()
			return nil, fmt.Errorf("api tls: %w", err)
		}
	}

	m.store, err = storage.NewBoltStore(opts.DataDir)
	if err != nil {
		_ = m.runtime.Exit()
		return nil, err
	}
	m.admin = storage.NewAdmin(m.store, m.states)
	if _, err := m.admin.Restore(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to restore admin states")
	}

	m.states.OnTransition(m.publishTransition)

	resolver := dns.NewResolver(m.zones, m.runtime, opts.MinTTL, opts.MaxTTL)
	m.dnsServer = dns.NewServer(resolver, dns.Config{
		Listen:   opts.Listen,
		Networks: opts.DNSNetwork,
		Workers:  opts.IOThreads,
	})

	m.httpAPI = api.NewHealthServer(m.states, m.admin, version)
	m.httpAPI.SetBroker(m.broker)
	m.httpAPI.AddCheck("dns", func() (string, bool) {
		if m.dnsServer.IsRunning() {
			return "serving", true
		}
		return "not serving", false
	})
	m.httpAPI.AddCheck("zones", func() (string, bool) {
		n := len(m.zones.Zones())
		return fmt.Sprintf("%d loaded", n), n > 0
	})
	if opts.GRPCAddr != "" {
		m.grpcAPI = api.NewServer(m.states, m.tlsConfig)
	}
	m.collector = NewMetricsCollector(m.states, 15*time.Second)

	m.broker.Publish(&events.Event{
		Type:    events.EventZonesLoaded,
		Message: fmt.Sprintf("%d zones loaded", len(b.Zones)),
	})
	return m, nil
}

// Run runs the initial health checks, starts serving and blocks until ctx
// is cancelled or a listener fails.
func (m *Manager) Run(ctx context.Context) error {
	m.broker.Start()
	defer m.close()

	if err := m.engine.Init(ctx); err != nil {
		return fmt.Errorf("initial health checks: %w", err)
	}
	if err := m.engine.Start(ctx); err != nil {
		return err
	}
	defer m.engine.Stop()

	if err := m.dnsServer.Start(ctx); err != nil {
		return err
	}
	m.collector.Start()
	defer m.collector.Stop()
	m.reloader.Start()
	defer m.reloader.Stop()

	g, gctx := errgroup.WithContext(ctx)

	apiLis, err := net.Listen("tcp", m.opts.APIAddr)
	if err != nil {
		_ = m.dnsServer.Stop(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", m.opts.APIAddr, err)
	}
	bound := apiLis.Addr().String()
	m.apiAddr.Store(&bound)
	if m.tlsConfig != nil {
		apiLis = tls.NewListener(apiLis, m.tlsConfig)
	}
	g.Go(func() error { return m.httpAPI.Serve(apiLis) })

	if m.grpcAPI != nil {
		grpcLis, err := net.Listen("tcp", m.opts.GRPCAddr)
		if err != nil {
			_ = apiLis.Close()
			_ = m.dnsServer.Stop(context.Background())
			return fmt.Errorf("failed to listen on %s: %w", m.opts.GRPCAddr, err)
		}
		g.Go(func() error { return m.grpcAPI.Serve(grpcLis) })
		m.grpcAPI.SetReady(true)
	}

	m.broker.Publish(&events.Event{Type: events.EventServerStarted, Message: "dynadns " + m.version})
	m.logger.Info().
		Int("zones", len(m.zones.Zones())).
		Int("endpoints", m.states.Len()).
		Str("version", m.version).
		Msg("dynadns started")

	g.Go(func() error {
		<-gctx.Done()
		m.broker.Publish(&events.Event{Type: events.EventServerStopping})
		return m.shutdown()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (m *Manager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if m.grpcAPI != nil {
		m.grpcAPI.SetReady(false)
	}
	var errs []error
	if err := m.dnsServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dns: %w", err))
	}
	if err := m.httpAPI.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http api: %w", err))
	}
	if m.grpcAPI != nil {
		m.grpcAPI.Stop()
	}
	m.logger.Info().Msg("dynadns stopped")
	return errors.Join(errs...)
}

func (m *Manager) close() {
	m.broker.Stop()
	if err := m.runtime.Exit(); err != nil {
		m.logger.Warn().Err(err).Msg("plugin exit failed")
	}
	if err := m.store.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to close database")
	}
}

func (m *Manager) publishTransition(ep *state.Endpoint, _, cur sttl.STTL) {
	t := events.EventEndpointUp
	if cur.IsDown() {
		t = events.EventEndpointDown
	}
	m.broker.Publish(&events.Event{
		Type: t,
		Metadata: map[string]string{
			"endpoint":     ep.Desc,
			"service_type": ep.ServiceType.Name,
			"state":        cur.String(),
		},
	})
}

// ReloadZones loads and binds every zone file again, keeping the current
// zones if any file fails to load.
func (m *Manager) ReloadZones() error {
	return m.reloader.Reload()
}

// Ready reports whether the DNS server is answering.
func (m *Manager) Ready() bool {
	return m.dnsServer.IsRunning()
}

// DNSAddrs returns the bound DNS listener addresses.
func (m *Manager) DNSAddrs() []net.Addr {
	return m.dnsServer.Addrs()
}

// APIAddr returns the bound HTTP API address, or "" before Run binds it.
func (m *Manager) APIAddr() string {
	if a := m.apiAddr.Load(); a != nil {
		return *a
	}
	return ""
}

// States returns the endpoint state store.
func (m *Manager) States() *state.Store {
	return m.states
}

// apiHosts lists the names the API certificate must cover. Wildcard binds
// are reached through loopback.
func apiHosts(addrs ...string) []string {
	seen := map[string]bool{}
	var hosts []string
	add := func(h string) {
		if !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	for _, a := range addrs {
		if a == "" {
			continue
		}
		host, _, err := net.SplitHostPort(a)
		if err != nil {
			host = a
		}
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			add("127.0.0.1")
			add("localhost")
			continue
		}
		add(host)
	}
	return hosts
}
