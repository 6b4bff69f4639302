// Package checks registers the monitor plugins that turn service types into
// health checkers: http_status, tcp_connect, extmon and extfile. The static
// monitor is built here too but served by the static plugin, which also
// resolves.
package checks

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/state"
)

func init() {
	plugin.Register(string(health.CheckTypeHTTP), func() plugin.Plugin { return NewHTTPStatus() })
	plugin.Register(string(health.CheckTypeTCP), func() plugin.Plugin { return NewTCPConnect() })
	plugin.Register(string(health.CheckTypeExec), func() plugin.Plugin { return NewExtMon() })
	plugin.Register(string(health.CheckTypeFile), func() plugin.Plugin { return NewExtFile() })
}

// Monitor adapts per-service-type options of type T into checkers. Each
// monitor plugin is one Monitor with its own parse and build functions.
type Monitor[T any] struct {
	name  string
	keys  []string
	parse func(n *config.Node) (T, error)
	build func(opts T, st *health.ServiceType, target string, host string) (health.Checker, error)

	opts map[string]T
}

func (m *Monitor[T]) Name() string      { return m.name }
func (m *Monitor[T]) APIVersion() int   { return plugin.APIVersion }
func (m *Monitor[T]) Caps() plugin.Caps { return plugin.CanMonitor }

// AddServiceType validates and stores the plugin-specific options of st.
func (m *Monitor[T]) AddServiceType(st *health.ServiceType) error {
	keys := append(append([]string{}, health.GenericKeys...), m.keys...)
	if err := st.Options.CheckKeys(keys...); err != nil {
		return err
	}
	opts, err := m.parse(st.Options)
	if err != nil {
		return err
	}
	if m.opts == nil {
		m.opts = make(map[string]T)
	}
	m.opts[st.Name] = opts
	return nil
}

// AddMonitoredAddress builds the checker for one address.
func (m *Monitor[T]) AddMonitoredAddress(st *health.ServiceType, ep *state.Endpoint, addr netip.Addr) (health.Checker, error) {
	opts, ok := m.opts[st.Name]
	if !ok {
		return nil, fmt.Errorf("%s: service type %s was not added", m.name, st.Name)
	}
	return m.build(opts, st, addr.String(), addr.String())
}

// AddMonitoredCNAME builds the checker for one CNAME target.
func (m *Monitor[T]) AddMonitoredCNAME(st *health.ServiceType, ep *state.Endpoint, cname string) (health.Checker, error) {
	opts, ok := m.opts[st.Name]
	if !ok {
		return nil, fmt.Errorf("%s: service type %s was not added", m.name, st.Name)
	}
	return m.build(opts, st, cname, strings.TrimSuffix(cname, "."))
}

type httpOptions struct {
	port    int
	path    string
	vhost   string
	method  string
	okCodes []int
}

// NewHTTPStatus creates the http_status plugin. Options: port (80),
// url_path ("/"), vhost, method (GET) and ok_codes ([200]).
func NewHTTPStatus() *Monitor[httpOptions] {
	return &Monitor[httpOptions]{
		name: string(health.CheckTypeHTTP),
		keys: []string{"port", "url_path", "vhost", "method", "ok_codes"},
		parse: func(n *config.Node) (httpOptions, error) {
			var (
				o   httpOptions
				err error
			)
			if o.port, err = n.IntRange("port", 80, 1, 65535); err != nil {
				return o, err
			}
			if o.path, err = n.String("url_path", "/"); err != nil {
				return o, err
			}
			if !strings.HasPrefix(o.path, "/") {
				return o, n.Errorf("url_path must start with /")
			}
			if o.vhost, err = n.String("vhost", ""); err != nil {
				return o, err
			}
			if o.method, err = n.String("method", "GET"); err != nil {
				return o, err
			}
			o.okCodes = []int{200}
			if v, ok := n.Get("ok_codes"); ok {
				codes, err := v.Strings()
				if err != nil {
					return o, err
				}
				o.okCodes = o.okCodes[:0]
				for _, c := range codes {
					code, err := strconv.Atoi(c)
					if err != nil || code < 100 || code > 599 {
						return o, v.Errorf("bad HTTP status code %q", c)
					}
					o.okCodes = append(o.okCodes, code)
				}
			}
			return o, nil
		},
		build: func(o httpOptions, st *health.ServiceType, _, host string) (health.Checker, error) {
			url := "http://" + net.JoinHostPort(host, strconv.Itoa(o.port)) + o.path
			c := health.NewHTTPChecker(url).
				WithMethod(o.method).
				WithOKCodes(o.okCodes...).
				WithTimeout(st.Timeout)
			if o.vhost != "" {
				c.WithHost(o.vhost)
			}
			return c, nil
		},
	}
}

type tcpOptions struct {
	port   int
	send   string
	expect string
}

// NewTCPConnect creates the tcp_connect plugin. Options: port (required),
// send and expect for a line-based banner probe.
func NewTCPConnect() *Monitor[tcpOptions] {
	return &Monitor[tcpOptions]{
		name: string(health.CheckTypeTCP),
		keys: []string{"port", "send", "expect"},
		parse: func(n *config.Node) (tcpOptions, error) {
			var (
				o   tcpOptions
				err error
			)
			if o.port, err = n.IntRange("port", 0, 0, 65535); err != nil {
				return o, err
			}
			if o.port == 0 {
				return o, n.Errorf("tcp_connect: port is required")
			}
			if o.send, err = n.String("send", ""); err != nil {
				return o, err
			}
			if o.expect, err = n.String("expect", ""); err != nil {
				return o, err
			}
			return o, nil
		},
		build: func(o tcpOptions, st *health.ServiceType, _, host string) (health.Checker, error) {
			addr := net.JoinHostPort(host, strconv.Itoa(o.port))
			return health.NewTCPChecker(addr).WithTimeout(st.Timeout).WithProbe(o.send, o.expect), nil
		},
	}
}

// NewExtMon creates the extmon plugin. Option: cmd, a command line whose
// arguments may contain %%ITEM%% for the monitored address or CNAME.
func NewExtMon() *Monitor[*health.ExecChecker] {
	return &Monitor[*health.ExecChecker]{
		name: string(health.CheckTypeExec),
		keys: []string{"cmd"},
		parse: func(n *config.Node) (*health.ExecChecker, error) {
			v, ok := n.Get("cmd")
			if !ok {
				return nil, n.Errorf("extmon: cmd is required")
			}
			cmd, err := v.Strings()
			if err != nil {
				return nil, err
			}
			if len(cmd) == 0 || cmd[0] == "" {
				return nil, v.Errorf("extmon: cmd is empty")
			}
			return health.NewExecChecker(cmd), nil
		},
		build: func(tmpl *health.ExecChecker, st *health.ServiceType, target, _ string) (health.Checker, error) {
			return tmpl.ForItem(target).WithTimeout(st.Timeout), nil
		},
	}
}

type fileOptions struct {
	source  *health.FileSource
	missing bool
}

// NewExtFile creates the extfile plugin. Options: file (required) and
// def_down, the state of targets the file does not list (false).
// Service types naming the same file share one reader.
func NewExtFile() *Monitor[fileOptions] {
	var (
		mu      sync.Mutex
		sources = make(map[string]*health.FileSource)
	)
	return &Monitor[fileOptions]{
		name: string(health.CheckTypeFile),
		keys: []string{"file", "def_down"},
		parse: func(n *config.Node) (fileOptions, error) {
			path, err := n.String("file", "")
			if err != nil {
				return fileOptions{}, err
			}
			if path == "" {
				return fileOptions{}, n.Errorf("extfile: file is required")
			}
			defDown, err := n.Bool("def_down", false)
			if err != nil {
				return fileOptions{}, err
			}

			mu.Lock()
			defer mu.Unlock()
			src, ok := sources[path]
			if !ok {
				src = health.NewFileSource(path)
				sources[path] = src
			}
			return fileOptions{source: src, missing: !defDown}, nil
		},
		build: func(o fileOptions, _ *health.ServiceType, target, _ string) (health.Checker, error) {
			c := health.NewFileChecker(o.source, target)
			c.MissingHealthy = o.missing
			return c, nil
		},
	}
}

// NewStatic creates the static monitor. Option: state, UP or DOWN.
func NewStatic() *Monitor[bool] {
	return &Monitor[bool]{
		name: string(health.CheckTypeStatic),
		keys: []string{"state"},
		parse: func(n *config.Node) (bool, error) {
			s, err := n.String("state", "UP")
			if err != nil {
				return false, err
			}
			switch strings.ToUpper(s) {
			case "UP":
				return true, nil
			case "DOWN":
				return false, nil
			}
			return false, n.Errorf("static: state must be UP or DOWN, got %q", s)
		},
		build: func(healthy bool, _ *health.ServiceType, _, _ string) (health.Checker, error) {
			return health.StaticChecker{Healthy: healthy}, nil
		},
	}
}
