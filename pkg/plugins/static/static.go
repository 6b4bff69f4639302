// Package static answers fixed addresses or CNAMEs that are always up. The
// same plugin is the "static" monitor, whose checks always report the
// state configured on the service type.
package static

import (
	"net/netip"
	"strings"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/addrset"
	"github.com/cuemby/dynadns/pkg/plugins/checks"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/rs/zerolog"
)

const Name = "static"

func init() {
	plugin.Register(Name, func() plugin.Plugin { return New() })
}

type resource struct {
	name  string
	set   *result.Result
	cname string
}

// Static is configured as a hash of resource name to an address, a list of
// addresses, or a CNAME target. Relative CNAME targets are completed with
// the origin at query time.
//
//	static:
//	  www: 192.0.2.1
//	  pool: [192.0.2.1, 2001:db8::1]
//	  alias: www.example.net.
type Static struct {
	byName map[string]int
	res    []resource
	mon    *checks.Monitor[bool]
	logger zerolog.Logger
}

// New creates an unconfigured plugin.
func New() *Static {
	return &Static{
		byName: make(map[string]int),
		mon:    checks.NewStatic(),
		logger: log.WithPlugin(Name),
	}
}

func (s *Static) Name() string      { return Name }
func (s *Static) APIVersion() int   { return plugin.APIVersion }
func (s *Static) Caps() plugin.Caps { return plugin.CanResolve | plugin.CanMonitor }

func (s *Static) AddServiceType(st *health.ServiceType) error {
	return s.mon.AddServiceType(st)
}

func (s *Static) AddMonitoredAddress(st *health.ServiceType, ep *state.Endpoint, addr netip.Addr) (health.Checker, error) {
	return s.mon.AddMonitoredAddress(st, ep, addr)
}

func (s *Static) AddMonitoredCNAME(st *health.ServiceType, ep *state.Endpoint, cname string) (health.Checker, error) {
	return s.mon.AddMonitoredCNAME(st, ep, cname)
}

// LoadConfig parses every resource.
func (s *Static) LoadConfig(cfg *config.Node, reg plugin.Registrar, _ int) error {
	if cfg.Kind() != config.KindHash {
		return cfg.Errorf("static: config must be a hash of resources")
	}

	max4, max6 := 1, 1
	for _, name := range cfg.Keys() {
		v, _ := cfg.Get(name)
		r := resource{name: name}

		if v.Kind() == config.KindScalar && !addrset.IsAddr(v) {
			target, _ := v.Value()
			if target == "" {
				return v.Errorf("static: resource %s: empty CNAME", name)
			}
			r.cname = strings.ToLower(target)
		} else {
			items := v.Items()
			if len(items) == 0 {
				return v.Errorf("static: resource %s: no addresses", name)
			}
			r.set = result.New(len(items), len(items))
			for _, item := range items {
				addr, err := addrset.ParseAddr(item)
				if err != nil {
					return err
				}
				r.set.Add(addr)
			}
			max4 = max(max4, len(r.set.V4()))
			max6 = max(max6, len(r.set.V6()))
		}

		s.byName[name] = len(s.res)
		s.res = append(s.res, r)
	}
	reg.DeclareMaxAddresses(max4, max6)
	s.logger.Debug().Int("resources", len(s.res)).Msg("static resources loaded")
	return nil
}

// MapResource looks a configured resource up.
func (s *Static) MapResource(name, origin string) (plugin.Mapping, error) {
	id, ok := s.byName[name]
	if !ok {
		return plugin.Mapping{}, plugin.ErrUnknownResource
	}
	return plugin.Mapping{ID: id, CNAME: s.res[id].cname != ""}, nil
}

// ResourceSize reports a resource's address counts; a CNAME has none.
func (s *Static) ResourceSize(name string) (v4, v6 int, err error) {
	id, ok := s.byName[name]
	if !ok {
		return 0, 0, plugin.ErrUnknownResource
	}
	if r := &s.res[id]; r.set != nil {
		return len(r.set.V4()), len(r.set.V6()), nil
	}
	return 0, 0, nil
}

// Resolve answers the fixed data, always up.
func (s *Static) Resolve(_, resID int, origin string, _ *plugin.ClientInfo, out *result.Result) sttl.STTL {
	r := &s.res[resID]
	if r.cname != "" {
		out.SetCNAME(Qualify(r.cname, origin))
	} else {
		out.Append(r.set)
	}
	return sttl.Up()
}

// Qualify completes a relative name with origin.
func Qualify(name, origin string) string {
	if strings.HasSuffix(name, ".") || origin == "" {
		return name
	}
	if origin == "." {
		return name + "."
	}
	return name + "." + origin
}
