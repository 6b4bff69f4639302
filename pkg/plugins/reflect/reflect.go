// Package reflect answers the address of the asker, which makes resolver
// and client subnet detection easy to test from the outside.
package reflect

import (
	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/sttl"
)

const Name = "reflect"

// Answer selects which address is reflected.
type Answer int

const (
	// AnswerResolver reflects the resolver's source address.
	AnswerResolver Answer = iota
	// AnswerECS reflects the client subnet, or the resolver without one.
	AnswerECS
	// AnswerBoth reflects both.
	AnswerBoth
)

var resources = map[string]Answer{
	"dns":  AnswerResolver,
	"edns": AnswerECS,
	"best": AnswerECS,
	"both": AnswerBoth,
}

func init() {
	plugin.Register(Name, func() plugin.Plugin { return Reflect{} })
}

// Reflect serves resources "dns", "edns", "best" and "both".
type Reflect struct{}

func (Reflect) Name() string      { return Name }
func (Reflect) APIVersion() int   { return plugin.APIVersion }
func (Reflect) Caps() plugin.Caps { return plugin.CanResolve }

func (Reflect) MapResource(resource, _ string) (plugin.Mapping, error) {
	if resource == "" {
		resource = "best"
	}
	a, ok := resources[resource]
	if !ok {
		return plugin.Mapping{}, plugin.ErrUnknownResource
	}
	return plugin.Mapping{ID: int(a)}, nil
}

// LoadConfig takes no options; "both" may answer two addresses of a family.
func (Reflect) LoadConfig(cfg *config.Node, reg plugin.Registrar, _ int) error {
	if cfg.Len() > 0 {
		return cfg.Errorf("reflect: takes no configuration")
	}
	reg.DeclareMaxAddresses(2, 2)
	return nil
}

// ResourceSize allows for either family, since the asker's is not known in
// advance.
func (Reflect) ResourceSize(resource string) (v4, v6 int, err error) {
	if resource == "" {
		resource = "best"
	}
	a, ok := resources[resource]
	switch {
	case !ok:
		return 0, 0, plugin.ErrUnknownResource
	case a == AnswerBoth:
		return 2, 2, nil
	default:
		return 1, 1, nil
	}
}

// Resolve answers the selected address. Reflecting the client subnet makes
// the answer as specific as the subnet the client sent.
func (Reflect) Resolve(_, resID int, _ string, ci *plugin.ClientInfo, out *result.Result) sttl.STTL {
	switch Answer(resID) {
	case AnswerResolver:
		out.Add(ci.Resolver)
	case AnswerECS:
		out.Add(ci.Address())
		if ci.HasECS() {
			out.SetScopeMask(ci.ECSMask)
		}
	default:
		out.Add(ci.Resolver)
		if ci.HasECS() {
			out.Add(ci.ECS)
			out.SetScopeMask(ci.ECSMask)
		}
	}
	return sttl.Up()
}
