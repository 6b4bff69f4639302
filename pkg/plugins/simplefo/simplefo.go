// Package simplefo answers a primary address while it is up and fails over
// to a secondary address otherwise.
package simplefo

import (
	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/addrset"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
)

const Name = "simplefo"

func init() {
	plugin.Register(Name, func() plugin.Plugin { return New() })
}

// pair is a primary/secondary for one address family.
type pair struct {
	primary   addrset.Addr
	secondary addrset.Addr
}

type resource struct {
	name string
	v4   *pair
	v6   *pair
}

// SimpleFO is configured per resource with a primary and a secondary of
// the same family, or with addrs_v4 and addrs_v6 blocks each holding such
// a pair.
//
//	simplefo:
//	  service_types: [web]
//	  www:
//	    primary: 192.0.2.1
//	    secondary: 192.0.2.2
//	  dual:
//	    addrs_v4: { primary: 192.0.2.1, secondary: 192.0.2.2 }
//	    addrs_v6: { primary: 2001:db8::1, secondary: 2001:db8::2 }
type SimpleFO struct {
	store  *state.Store
	byName map[string]int
	res    []resource
}

// New creates an unconfigured plugin.
func New() *SimpleFO {
	return &SimpleFO{byName: make(map[string]int)}
}

func (p *SimpleFO) Name() string      { return Name }
func (p *SimpleFO) APIVersion() int   { return plugin.APIVersion }
func (p *SimpleFO) Caps() plugin.Caps { return plugin.CanResolve }

func (p *SimpleFO) LoadConfig(cfg *config.Node, reg plugin.Registrar, _ int) error {
	p.store = reg.Store()
	if cfg.Kind() != config.KindHash {
		return cfg.Errorf("simplefo: config must be a hash")
	}
	defTypes, err := addrset.ServiceTypes(cfg, addrset.DefaultServiceTypes)
	if err != nil {
		return err
	}

	for _, name := range cfg.Keys() {
		if name == "service_types" {
			continue
		}
		v, _ := cfg.Get(name)
		r, err := parseResource(reg, name, v, defTypes)
		if err != nil {
			return err
		}
		p.byName[name] = len(p.res)
		p.res = append(p.res, r)
	}
	reg.DeclareMaxAddresses(2, 2)
	return nil
}

func parseResource(reg plugin.Registrar, name string, n *config.Node, defTypes []string) (resource, error) {
	r := resource{name: name}
	if n.Kind() != config.KindHash {
		return r, n.Errorf("simplefo: resource %s must be a hash", name)
	}
	types, err := addrset.ServiceTypes(n, defTypes)
	if err != nil {
		return r, err
	}

	if _, ok := n.Get("primary"); ok {
		if err := n.CheckKeys("primary", "secondary", "service_types"); err != nil {
			return r, err
		}
		pr, err := parsePair(reg, name, n, types)
		if err != nil {
			return r, err
		}
		if pr.primary.Addr.Is4() {
			r.v4 = pr
		} else {
			r.v6 = pr
		}
		return r, nil
	}

	if err := n.CheckKeys("addrs_v4", "addrs_v6", "service_types"); err != nil {
		return r, err
	}
	if v, ok := n.Get("addrs_v4"); ok {
		if r.v4, err = parsePair(reg, name, v, types); err != nil {
			return r, err
		}
		if !r.v4.primary.Addr.Is4() {
			return r, v.Errorf("simplefo: resource %s: addrs_v4 holds IPv6 addresses", name)
		}
	}
	if v, ok := n.Get("addrs_v6"); ok {
		if r.v6, err = parsePair(reg, name, v, types); err != nil {
			return r, err
		}
		if r.v6.primary.Addr.Is4() {
			return r, v.Errorf("simplefo: resource %s: addrs_v6 holds IPv4 addresses", name)
		}
	}
	if r.v4 == nil && r.v6 == nil {
		return r, n.Errorf("simplefo: resource %s: needs primary/secondary or addrs_v4/addrs_v6", name)
	}
	return r, nil
}

func parsePair(reg plugin.Registrar, name string, n *config.Node, types []string) (*pair, error) {
	if err := n.CheckKeys("primary", "secondary", "service_types"); err != nil {
		return nil, err
	}
	types, err := addrset.ServiceTypes(n, types)
	if err != nil {
		return nil, err
	}

	get := func(key string) (addrset.Addr, error) {
		v, ok := n.Get(key)
		if !ok {
			return addrset.Addr{}, n.Errorf("simplefo: resource %s: %s is required", name, key)
		}
		addr, err := addrset.ParseAddr(v)
		if err != nil {
			return addrset.Addr{}, err
		}
		return addrset.NewAddr(reg, types, name+"/"+key, addr)
	}

	pr := &pair{}
	if pr.primary, err = get("primary"); err != nil {
		return nil, err
	}
	if pr.secondary, err = get("secondary"); err != nil {
		return nil, err
	}
	if pr.primary.Addr.Is4() != pr.secondary.Addr.Is4() {
		return nil, n.Errorf("simplefo: resource %s: primary and secondary must share a family", name)
	}
	return pr, nil
}

func (p *SimpleFO) MapResource(name, _ string) (plugin.Mapping, error) {
	id, ok := p.byName[name]
	if !ok {
		return plugin.Mapping{}, plugin.ErrUnknownResource
	}
	return plugin.Mapping{ID: id}, nil
}

// ResourceSize counts both members of a pair, which are answered together
// when both are down.
func (p *SimpleFO) ResourceSize(name string) (v4, v6 int, err error) {
	id, ok := p.byName[name]
	if !ok {
		return 0, 0, plugin.ErrUnknownResource
	}
	if p.res[id].v4 != nil {
		v4 = 2
	}
	if p.res[id].v6 != nil {
		v6 = 2
	}
	return v4, v6, nil
}

// Resolve answers the primary if up, else the secondary if up, else both
// DOWN. The TTL covers the primary so a recovering primary is noticed.
func (p *SimpleFO) Resolve(_, resID int, _ string, _ *plugin.ClientInfo, out *result.Result) sttl.STTL {
	r := &p.res[resID]
	s := sttl.Up()
	if r.v4 != nil {
		s = sttl.Min(s, p.resolvePair(r.v4, out))
	}
	if r.v6 != nil {
		s = sttl.Min(s, p.resolvePair(r.v6, out))
	}
	return s
}

func (p *SimpleFO) resolvePair(pr *pair, out *result.Result) sttl.STTL {
	ps := pr.primary.State(p.store)
	if !ps.IsDown() {
		out.Add(pr.primary.Addr)
		return ps
	}
	ss := pr.secondary.State(p.store)
	combined := sttl.MinTTL(ss, ps)
	if !ss.IsDown() {
		out.Add(pr.secondary.Addr)
		return combined
	}
	out.Add(pr.primary.Addr)
	out.Add(pr.secondary.Addr)
	return combined.WithDown(true)
}
