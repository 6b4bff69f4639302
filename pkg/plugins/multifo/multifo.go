// Package multifo answers every up address of a set, falling back to the
// whole set when too few are up.
package multifo

import (
	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/plugins/addrset"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
)

const Name = "multifo"

var optionKeys = []string{"service_types", "up_thresh"}

func init() {
	plugin.Register(Name, func() plugin.Plugin { return New() })
}

// MultiFO resources are lists or name: address hashes. Plugin-level
// service_types and up_thresh apply to every resource unless overridden.
//
//	multifo:
//	  up_thresh: 0.5
//	  www:
//	    lb01: 192.0.2.1
//	    lb02: 192.0.2.2
//	    lb03: 2001:db8::3
//	  api: [192.0.2.10, 192.0.2.11]
type MultiFO struct {
	store  *state.Store
	byName map[string]int
	sets   []*addrset.Set
}

// New creates an unconfigured plugin.
func New() *MultiFO {
	return &MultiFO{byName: make(map[string]int)}
}

func (p *MultiFO) Name() string      { return Name }
func (p *MultiFO) APIVersion() int   { return plugin.APIVersion }
func (p *MultiFO) Caps() plugin.Caps { return plugin.CanResolve }

func (p *MultiFO) LoadConfig(cfg *config.Node, reg plugin.Registrar, _ int) error {
	p.store = reg.Store()
	if cfg.Kind() != config.KindHash {
		return cfg.Errorf("multifo: config must be a hash")
	}
	defTypes, err := addrset.ServiceTypes(cfg, addrset.DefaultServiceTypes)
	if err != nil {
		return err
	}
	defThresh, err := addrset.UpThresh(cfg, addrset.DefaultUpThresh)
	if err != nil {
		return err
	}

	max4, max6 := 1, 1
	for _, name := range cfg.Keys() {
		if isOption(name) {
			continue
		}
		v, _ := cfg.Get(name)
		types, err := addrset.ServiceTypes(v, defTypes)
		if err != nil {
			return err
		}
		thresh, err := addrset.UpThresh(v, defThresh)
		if err != nil {
			return err
		}
		set, err := addrset.Parse(reg, v, types, thresh, optionKeys...)
		if err != nil {
			return err
		}
		max4 = max(max4, len(set.V4))
		max6 = max(max6, len(set.V6))

		p.byName[name] = len(p.sets)
		p.sets = append(p.sets, set)
	}
	reg.DeclareMaxAddresses(max4, max6)
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

func (p *MultiFO) MapResource(name, _ string) (plugin.Mapping, error) {
	id, ok := p.byName[name]
	if !ok {
		return plugin.Mapping{}, plugin.ErrUnknownResource
	}
	return plugin.Mapping{ID: id}, nil
}

func (p *MultiFO) ResourceSize(name string) (v4, v6 int, err error) {
	id, ok := p.byName[name]
	if !ok {
		return 0, 0, plugin.ErrUnknownResource
	}
	return len(p.sets[id].V4), len(p.sets[id].V6), nil
}

func (p *MultiFO) Resolve(_, resID int, _ string, _ *plugin.ClientInfo, out *result.Result) sttl.STTL {
	return p.sets[resID].Resolve(p.store, out)
}
