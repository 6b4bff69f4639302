// Package metafo fails over between an ordered list of datacenters, each of
// which is answered by inline addresses, a CNAME or another plugin's
// resource.
package metafo

import (
	"fmt"
	"strings"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/addrset"
	"github.com/cuemby/dynadns/pkg/plugins/static"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/rs/zerolog"
)

const Name = "metafo"

var optionKeys = []string{"datacenters", "service_types", "up_thresh", "policy"}

func init() {
	plugin.Register(Name, func() plugin.Plugin { return New() })
}

type dcKind int

const (
	dcAddrs dcKind = iota
	dcCNAME
	dcChild
)

type datacenter struct {
	name  string
	kind  dcKind
	set   *addrset.Set
	cname string

	plugin   string
	resource string
	childID  int
}

type resource struct {
	name   string
	dcs    []datacenter
	policy plugin.Policy
	cname  bool
	mapped bool
}

// MetaFO resources map each datacenter to its answer. With the default
// policy, first_up, datacenters are tried in order and the first one up is
// answered; when none is up the first is answered DOWN. Policy "all"
// answers every datacenter and is DOWN if any is; "at_least:N" answers the
// up datacenters and is DOWN when fewer than N are up. Only first_up may
// answer a CNAME.
//
//	metafo:
//	  datacenters: [east, west]
//	  www:
//	    dcmap:
//	      east: multifo!www-east
//	      west: [192.0.2.1, 192.0.2.2]
//	  both:
//	    policy: at_least:1
//	    dcmap:
//	      east: multifo!www-east
//	      west: [192.0.2.1, 192.0.2.2]
//	  alias:
//	    datacenters: [west, east]
//	    dcmap:
//	      east: www.east.example.net.
//	      west: www.west.example.net.
type MetaFO struct {
	store   *state.Store
	host    plugin.Host
	byName  map[string]int
	res     []resource
	threads []*scratch
	logger  zerolog.Logger
}

// scratch is a per-worker stack of child results; nested metafo resources
// resolve on the same worker and push further down the stack.
type scratch struct {
	results  []*result.Result
	children []plugin.Child
	sp       int
}

func (s *scratch) push(n, v4, v6 int) int {
	base := s.sp
	for len(s.results) < base+n {
		s.results = append(s.results, result.New(v4, v6))
		s.children = append(s.children, plugin.Child{})
	}
	s.sp += n
	return base
}

// New creates an unconfigured plugin.
func New() *MetaFO {
	return &MetaFO{byName: make(map[string]int), logger: log.WithPlugin(Name)}
}

func (p *MetaFO) Name() string      { return Name }
func (p *MetaFO) APIVersion() int   { return plugin.APIVersion }
func (p *MetaFO) Caps() plugin.Caps { return plugin.CanResolve }

func (p *MetaFO) LoadConfig(cfg *config.Node, reg plugin.Registrar, numThreads int) error {
	p.store = reg.Store()
	p.host = reg.Host()
	p.threads = make([]*scratch, numThreads)

	if cfg.Kind() != config.KindHash {
		return cfg.Errorf("metafo: config must be a hash")
	}
	var defOrder []string
	if v, ok := cfg.Get("datacenters"); ok {
		var err error
		if defOrder, err = v.Strings(); err != nil {
			return err
		}
	}
	defTypes, err := addrset.ServiceTypes(cfg, addrset.DefaultServiceTypes)
	if err != nil {
		return err
	}
	defThresh, err := addrset.UpThresh(cfg, addrset.DefaultUpThresh)
	if err != nil {
		return err
	}
	defPolicy, err := parsePolicy(cfg, plugin.PolicyFirstUp)
	if err != nil {
		return err
	}

	for _, name := range cfg.Keys() {
		if isOption(name) {
			continue
		}
		v, _ := cfg.Get(name)
		r, err := p.parseResource(reg, name, v, defOrder, defTypes, defThresh, defPolicy)
		if err != nil {
			return err
		}
		p.byName[name] = len(p.res)
		p.res = append(p.res, r)
	}

	if err := p.checkCycles(); err != nil {
		return err
	}
	if err := p.declareSizes(reg); err != nil {
		return err
	}
	p.logger.Debug().Int("resources", len(p.res)).Msg("metafo resources loaded")
	return nil
}

func isOption(key string) bool {
	for _, k := range optionKeys {
		if k == key {
			return true
		}
	}
	return false
}

func parsePolicy(n *config.Node, def plugin.Policy) (plugin.Policy, error) {
	v, ok := n.Get("policy")
	if !ok {
		return def, nil
	}
	text, err := v.Value()
	if err != nil {
		return def, err
	}
	pol, err := plugin.ParsePolicy(text)
	if err != nil {
		return def, fmt.Errorf("metafo: line %d: %w", v.Line(), err)
	}
	return pol, nil
}

func (p *MetaFO) parseResource(reg plugin.Registrar, name string, n *config.Node, defOrder, defTypes []string, defThresh float64, defPolicy plugin.Policy) (resource, error) {
	r := resource{name: name}
	if n.Kind() != config.KindHash {
		return r, n.Errorf("metafo: resource %s must be a hash", name)
	}
	if err := n.CheckKeys(append([]string{"dcmap"}, optionKeys...)...); err != nil {
		return r, err
	}
	dcmap, ok := n.Get("dcmap")
	if !ok || dcmap.Kind() != config.KindHash || dcmap.Len() == 0 {
		return r, n.Errorf("metafo: resource %s: dcmap must be a non-empty hash", name)
	}

	order := defOrder
	if v, ok := n.Get("datacenters"); ok {
		var err error
		if order, err = v.Strings(); err != nil {
			return r, err
		}
	}
	if len(order) == 0 {
		order = dcmap.Keys()
	}
	if len(order) != dcmap.Len() {
		return r, dcmap.Errorf("metafo: resource %s: dcmap must name exactly the datacenters %v", name, order)
	}

	types, err := addrset.ServiceTypes(n, defTypes)
	if err != nil {
		return r, err
	}
	thresh, err := addrset.UpThresh(n, defThresh)
	if err != nil {
		return r, err
	}
	if r.policy, err = parsePolicy(n, defPolicy); err != nil {
		return r, err
	}
	if r.policy.Kind == plugin.AtLeast && r.policy.N > len(order) {
		return r, n.Errorf("metafo: resource %s: policy %s needs more datacenters than the %d configured", name, r.policy, len(order))
	}

	for _, dcName := range order {
		v, ok := dcmap.Get(dcName)
		if !ok {
			return r, dcmap.Errorf("metafo: resource %s: no dcmap entry for datacenter %s", name, dcName)
		}
		dc, err := parseDatacenter(reg, name, dcName, v, types, thresh)
		if err != nil {
			return r, err
		}
		if dc.kind == dcCNAME {
			if r.policy.Kind != plugin.FirstUp {
				return r, dcmap.Errorf("metafo: resource %s: datacenter %s answers a CNAME, which policy %s cannot merge", name, dcName, r.policy)
			}
			r.cname = true
		}
		r.dcs = append(r.dcs, dc)
	}

	return r, nil
}

// declareSizes raises the result limits to fit every merging resource: the
// sum of what each of its datacenters may answer.
func (p *MetaFO) declareSizes(reg plugin.Registrar) error {
	sizes := make([]*[2]int, len(p.res))
	for i := range p.res {
		if p.res[i].policy.Kind == plugin.FirstUp {
			continue
		}
		v4, v6, err := p.size(reg, sizes, i)
		if err != nil {
			return err
		}
		reg.DeclareMaxAddresses(v4, v6)
	}
	return nil
}

// size is the most addresses per family resource i may answer. first_up
// answers one datacenter, the merging policies may answer all of them.
func (p *MetaFO) size(reg plugin.Registrar, sizes []*[2]int, i int) (v4, v6 int, err error) {
	if sz := sizes[i]; sz != nil {
		return sz[0], sz[1], nil
	}
	r := &p.res[i]
	for _, dc := range r.dcs {
		var d4, d6 int
		switch dc.kind {
		case dcAddrs:
			d4, d6 = len(dc.set.V4), len(dc.set.V6)
		case dcChild:
			if dc.plugin == Name {
				d4, d6, err = p.size(reg, sizes, p.byName[dc.resource])
			} else if d4, d6, err = reg.ResourceSize(dc.plugin, dc.resource); err != nil {
				err = fmt.Errorf("%w: metafo: %s/%s: %w", config.ErrInvalid, r.name, dc.name, err)
			}
			if err != nil {
				return 0, 0, err
			}
		}
		if r.policy.Kind == plugin.FirstUp {
			v4, v6 = max(v4, d4), max(v6, d6)
		} else {
			v4, v6 = v4+d4, v6+d6
		}
	}
	sizes[i] = &[2]int{v4, v6}
	return v4, v6, nil
}

func parseDatacenter(reg plugin.Registrar, resName, dcName string, v *config.Node, types []string, thresh float64) (datacenter, error) {
	dc := datacenter{name: dcName}

	if v.Kind() == config.KindScalar && !addrset.IsAddr(v) {
		text, _ := v.Value()
		if pluginName, res, ok := strings.Cut(text, "!"); ok {
			if pluginName == "" || res == "" {
				return dc, v.Errorf("metafo: %s/%s: bad delegation %q", resName, dcName, text)
			}
			if err := reg.RequirePlugin(pluginName); err != nil {
				return dc, fmt.Errorf("metafo: %s/%s: %w", resName, dcName, err)
			}
			dc.kind, dc.plugin, dc.resource = dcChild, pluginName, res
			return dc, nil
		}
		if text == "" {
			return dc, v.Errorf("metafo: %s/%s: empty CNAME", resName, dcName)
		}
		dc.kind, dc.cname = dcCNAME, strings.ToLower(text)
		return dc, nil
	}

	set, err := addrset.Parse(reg, v, types, thresh)
	if err != nil {
		return dc, err
	}
	reg.DeclareMaxAddresses(len(set.V4), len(set.V6))
	dc.kind, dc.set = dcAddrs, set
	return dc, nil
}

// checkCycles rejects resources that delegate back to themselves through
// other metafo resources.
func (p *MetaFO) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(p.res))

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		color[i] = grey
		path = append(path, p.res[i].name)
		for _, dc := range p.res[i].dcs {
			if dc.kind != dcChild || dc.plugin != Name {
				continue
			}
			j, ok := p.byName[dc.resource]
			if !ok {
				return fmt.Errorf("%w: metafo: %s/%s delegates to unknown resource %s",
					config.ErrInvalid, p.res[i].name, dc.name, dc.resource)
			}
			switch color[j] {
			case grey:
				return fmt.Errorf("%w: metafo: delegation cycle %s -> %s",
					config.ErrInvalid, strings.Join(path, " -> "), dc.resource)
			case white:
				if err := visit(j, path); err != nil {
					return err
				}
			}
		}
		color[i] = black
		return nil
	}

	for i := range p.res {
		if color[i] == white {
			if err := visit(i, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// IOThreadInit gives the worker its scratch stack.
func (p *MetaFO) IOThreadInit(thread int) error {
	p.threads[thread] = &scratch{}
	return nil
}

// MapResource maps every delegated child on first use. A resource that may
// answer a CNAME, directly or through a child, needs an origin.
func (p *MetaFO) MapResource(name, origin string) (plugin.Mapping, error) {
	id, ok := p.byName[name]
	if !ok {
		return plugin.Mapping{}, plugin.ErrUnknownResource
	}
	r := &p.res[id]
	if r.cname && origin == "" {
		return plugin.Mapping{}, plugin.ErrCNAMEWithoutOrigin
	}
	if !r.mapped {
		for i := range r.dcs {
			dc := &r.dcs[i]
			if dc.kind != dcChild {
				continue
			}
			m, err := p.host.MapResource(dc.plugin, dc.resource, origin)
			if err != nil {
				return plugin.Mapping{}, fmt.Errorf("datacenter %s: %w", dc.name, err)
			}
			dc.childID = m.ID
			if m.CNAME {
				if r.policy.Kind != plugin.FirstUp {
					return plugin.Mapping{}, fmt.Errorf("datacenter %s: %s!%s may answer a CNAME, which policy %s cannot merge",
						dc.name, dc.plugin, dc.resource, r.policy)
				}
				r.cname = true
			}
		}
		r.mapped = true
	}
	return plugin.Mapping{ID: id, CNAME: r.cname}, nil
}

// Resolve tries datacenters in order until one is up, or resolves all of
// them for the merging policies.
func (p *MetaFO) Resolve(thread, resID int, origin string, ci *plugin.ClientInfo, out *result.Result) sttl.STTL {
	r := &p.res[resID]
	ts := p.threads[thread]

	v4, v6 := p.host.MaxAddresses()
	base := ts.push(len(r.dcs), v4, v6)
	defer func() { ts.sp = base }()

	n := 0
	for i := range r.dcs {
		cr := ts.results[base+i]
		cr.Clear()
		s := p.resolveDC(thread, &r.dcs[i], origin, ci, cr)
		ts.children[base+i] = plugin.Child{State: s, Result: cr}
		n++
		if r.policy.Kind == plugin.FirstUp && !s.IsDown() {
			break
		}
	}
	return plugin.Combine(r.policy, ts.children[base:base+n], out)
}

func (p *MetaFO) resolveDC(thread int, dc *datacenter, origin string, ci *plugin.ClientInfo, out *result.Result) sttl.STTL {
	switch dc.kind {
	case dcCNAME:
		out.SetCNAME(static.Qualify(dc.cname, origin))
		return sttl.Up()
	case dcChild:
		return p.host.Resolve(thread, dc.childID, origin, ci, out)
	default:
		return dc.set.Resolve(p.store, out)
	}
}
