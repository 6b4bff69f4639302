// Package weighted answers addresses chosen at random in proportion to
// their weights, among the ones that are up.
package weighted

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/addrset"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
)

const Name = "weighted"

// MaxAddrs is the largest number of addresses in one resource.
const MaxAddrs = 64

var optionKeys = []string{"service_types", "up_thresh", "multi"}

func init() {
	plugin.Register(Name, func() plugin.Plugin { return New() })
}

type resource struct {
	addrs    []addrset.Addr
	total    int
	upThresh float64
	multi    bool
}

// Weighted resources are hashes of name: [address, weight]. One address is
// answered per query unless multi is set, in which case every up address
// is answered. When the up addresses carry less than up_thresh of the total
// weight the resource is DOWN and chooses among all addresses.
//
//	weighted:
//	  service_types: [web]
//	  www:
//	    a: [192.0.2.1, 10]
//	    b: [192.0.2.2, 30]
type Weighted struct {
	store  *state.Store
	byName map[string]int
	res    []resource
	rnd    []*rand.Rand
}

// New creates an unconfigured plugin.
func New() *Weighted {
	return &Weighted{byName: make(map[string]int)}
}

func (p *Weighted) Name() string      { return Name }
func (p *Weighted) APIVersion() int   { return plugin.APIVersion }
func (p *Weighted) Caps() plugin.Caps { return plugin.CanResolve }

func (p *Weighted) LoadConfig(cfg *config.Node, reg plugin.Registrar, numThreads int) error {
	p.store = reg.Store()
	p.rnd = make([]*rand.Rand, numThreads)
	if cfg.Kind() != config.KindHash {
		return cfg.Errorf("weighted: config must be a hash")
	}
	defTypes, err := addrset.ServiceTypes(cfg, addrset.DefaultServiceTypes)
	if err != nil {
		return err
	}
	defThresh, err := addrset.UpThresh(cfg, addrset.DefaultUpThresh)
	if err != nil {
		return err
	}
	defMulti, err := cfg.Bool("multi", false)
	if err != nil {
		return err
	}

	maxAddrs := 1
	for _, name := range cfg.Keys() {
		if isOption(name) {
			continue
		}
		v, _ := cfg.Get(name)
		r, err := parseResource(reg, name, v, defTypes, defThresh, defMulti)
		if err != nil {
			return err
		}
		maxAddrs = max(maxAddrs, len(r.addrs))
		p.byName[name] = len(p.res)
		p.res = append(p.res, r)
	}
	reg.DeclareMaxAddresses(maxAddrs, maxAddrs)
	return nil
}

func parseResource(reg plugin.Registrar, name string, n *config.Node, defTypes []string, defThresh float64, defMulti bool) (resource, error) {
	r := resource{}
	if n.Kind() != config.KindHash {
		return r, n.Errorf("weighted: resource %s must be a hash", name)
	}
	types, err := addrset.ServiceTypes(n, defTypes)
	if err != nil {
		return r, err
	}
	if r.upThresh, err = addrset.UpThresh(n, defThresh); err != nil {
		return r, err
	}
	if r.multi, err = n.Bool("multi", defMulti); err != nil {
		return r, err
	}

	for _, key := range n.Keys() {
		if isOption(key) {
			continue
		}
		v, _ := n.Get(key)
		items := v.Items()
		if v.Kind() != config.KindArray || len(items) != 2 {
			return r, v.Errorf("weighted: %s/%s must be [address, weight]", name, key)
		}
		addr, err := addrset.ParseAddr(items[0])
		if err != nil {
			return r, err
		}
		wtext, _ := items[1].Value()
		weight, err := strconv.Atoi(strings.TrimSpace(wtext))
		if err != nil || weight < 1 || weight > 1_000_000 {
			return r, items[1].Errorf("weighted: %s/%s: weight must be 1..1000000", name, key)
		}

		a, err := addrset.NewAddr(reg, types, name+"/"+key, addr)
		if err != nil {
			return r, err
		}
		a.Weight = weight
		r.addrs = append(r.addrs, a)
		r.total += weight
	}
	if len(r.addrs) == 0 {
		return r, n.Errorf("weighted: resource %s has no addresses", name)
	}
	if len(r.addrs) > MaxAddrs {
		return r, n.Errorf("weighted: resource %s has more than %d addresses", name, MaxAddrs)
	}
	return r, nil
}

func isOption(key string) bool {
	for _, k := range optionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// IOThreadInit gives each worker its own random source.
func (p *Weighted) IOThreadInit(thread int) error {
	p.rnd[thread] = rand.New(rand.NewSource(time.Now().UnixNano() + int64(thread)))
	return nil
}

func (p *Weighted) MapResource(name, _ string) (plugin.Mapping, error) {
	id, ok := p.byName[name]
	if !ok {
		return plugin.Mapping{}, plugin.ErrUnknownResource
	}
	return plugin.Mapping{ID: id}, nil
}

// ResourceSize is one address, or every address of a multi resource.
func (p *Weighted) ResourceSize(name string) (v4, v6 int, err error) {
	id, ok := p.byName[name]
	if !ok {
		return 0, 0, plugin.ErrUnknownResource
	}
	r := &p.res[id]
	for i := range r.addrs {
		if r.addrs[i].Addr.Is4() {
			v4++
		} else {
			v6++
		}
	}
	if !r.multi {
		v4, v6 = min(v4, 1), min(v6, 1)
	}
	return v4, v6, nil
}

func (p *Weighted) Resolve(thread, resID int, _ string, _ *plugin.ClientInfo, out *result.Result) sttl.STTL {
	r := &p.res[resID]

	s := sttl.Up()
	upWeight := 0
	var upMask uint64
	for i := range r.addrs {
		as := r.addrs[i].State(p.store)
		s = sttl.MinTTL(s, as)
		if !as.IsDown() {
			upWeight += r.addrs[i].Weight
			upMask |= 1 << i
		}
	}

	down := upWeight == 0 || float64(upWeight) < float64(r.total)*r.upThresh
	isCandidate := func(i int) bool {
		return down || upMask&(1<<i) != 0
	}

	if r.multi {
		for i := range r.addrs {
			if isCandidate(i) {
				out.Add(r.addrs[i].Addr)
			}
		}
		return s.WithDown(down)
	}

	pool := upWeight
	if down {
		pool = r.total
	}
	pick := p.rnd[thread].Intn(pool)
	for i := range r.addrs {
		if !isCandidate(i) {
			continue
		}
		pick -= r.addrs[i].Weight
		if pick < 0 {
			out.Add(r.addrs[i].Addr)
			break
		}
	}
	return s.WithDown(down)
}
