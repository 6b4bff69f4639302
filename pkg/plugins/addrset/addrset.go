// Package addrset holds the monitored address groups shared by the
// address-answering resolver plugins.
package addrset

import (
	"fmt"
	"math"
	"net/netip"
	"strings"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
)

// DefaultUpThresh is the fraction of a set that must be up for the set to
// count as up.
const DefaultUpThresh = 0.5

// Addr is one address monitored under zero or more service types.
type Addr struct {
	Name   string
	Addr   netip.Addr
	Weight int

	// IDs are the endpoint ids, one per service type.
	IDs []int
}

// NewAddr registers addr under every service type in types.
func NewAddr(reg plugin.Registrar, types []string, name string, addr netip.Addr) (Addr, error) {
	a := Addr{Name: name, Addr: addr.Unmap(), Weight: 1}
	for _, st := range types {
		id, err := reg.RegisterAddress(st, a.Addr)
		if err != nil {
			return Addr{}, fmt.Errorf("%s: %w", name, err)
		}
		a.IDs = append(a.IDs, id)
	}
	return a, nil
}

// State is the worst state of the address over its service types. An
// address monitored by nothing is always up.
func (a *Addr) State(store *state.Store) sttl.STTL {
	s := sttl.Up()
	for _, id := range a.IDs {
		s = sttl.Min(s, store.Read(id))
	}
	return s
}

// Set is a group of addresses answered together.
type Set struct {
	V4       []Addr
	V6       []Addr
	UpThresh float64
}

// Add files a by family.
func (s *Set) Add(a Addr) {
	if a.Addr.Is4() {
		s.V4 = append(s.V4, a)
	} else {
		s.V6 = append(s.V6, a)
	}
}

// Len returns the number of addresses.
func (s *Set) Len() int {
	return len(s.V4) + len(s.V6)
}

// Need returns how many of n addresses must be up for thresh.
func Need(n int, thresh float64) int {
	need := int(math.Ceil(float64(n) * thresh))
	if need < 1 {
		need = 1
	}
	return need
}

// Resolve answers the up addresses of each family. A family with fewer
// than UpThresh of its addresses up answers all of them and makes the set
// DOWN. The TTL is the smallest over every address.
func (s *Set) Resolve(store *state.Store, out *result.Result) sttl.STTL {
	st := sttl.Up()
	for _, fam := range [][]Addr{s.V4, s.V6} {
		if len(fam) == 0 {
			continue
		}
		st = sttl.Min(st, resolveFamily(fam, s.UpThresh, store, out))
	}
	return st
}

func resolveFamily(addrs []Addr, thresh float64, store *state.Store, out *result.Result) sttl.STTL {
	up := 0
	st := sttl.Up()
	for i := range addrs {
		as := addrs[i].State(store)
		st = sttl.MinTTL(st, as)
		if !as.IsDown() {
			up++
			out.Add(addrs[i].Addr)
		}
	}
	if up >= Need(len(addrs), thresh) {
		return st
	}
	for i := range addrs {
		if addrs[i].State(store).IsDown() {
			out.Add(addrs[i].Addr)
		}
	}
	return st.WithDown(true)
}

// ParseAddr parses an address, rejecting zones and prefixes.
func ParseAddr(n *config.Node) (netip.Addr, error) {
	v, err := n.Value()
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(v))
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, n.Errorf("invalid IP address %q", v)
	}
	return addr.Unmap(), nil
}

// IsAddr reports whether a scalar node holds an IP address.
func IsAddr(n *config.Node) bool {
	v, err := n.Value()
	if err != nil {
		return false
	}
	_, err = netip.ParseAddr(strings.TrimSpace(v))
	return err == nil
}

// ServiceTypes reads the service_types key of n, falling back to def.
// A scalar is accepted as a one-item list.
func ServiceTypes(n *config.Node, def []string) ([]string, error) {
	v, ok := n.Get("service_types")
	if !ok {
		return def, nil
	}
	types, err := v.Strings()
	if err != nil {
		return nil, err
	}
	return types, nil
}

// DefaultServiceTypes is used when neither a resource nor its plugin names
// any service types.
var DefaultServiceTypes = []string{health.ServiceTypeDefault}

// UpThresh reads up_thresh from n as a fraction in (0, 1].
func UpThresh(n *config.Node, def float64) (float64, error) {
	v, err := n.Float("up_thresh", def)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > 1 {
		return 0, n.Errorf("up_thresh must be in (0, 1], got %g", v)
	}
	return v, nil
}

// Parse builds a set from a resource node holding either a list of
// addresses or a hash of name: address entries. Keys in skip are resource
// options rather than addresses.
func Parse(reg plugin.Registrar, n *config.Node, types []string, thresh float64, skip ...string) (*Set, error) {
	set := &Set{UpThresh: thresh}

	add := func(name string, v *config.Node) error {
		addr, err := ParseAddr(v)
		if err != nil {
			return err
		}
		a, err := NewAddr(reg, types, name, addr)
		if err != nil {
			return err
		}
		set.Add(a)
		return nil
	}

	switch n.Kind() {
	case config.KindHash:
	keys:
		for _, k := range n.Keys() {
			for _, s := range skip {
				if k == s {
					continue keys
				}
			}
			v, _ := n.Get(k)
			if err := add(k, v); err != nil {
				return nil, err
			}
		}
	default:
		for i, v := range n.Items() {
			if err := add(fmt.Sprintf("%d", i+1), v); err != nil {
				return nil, err
			}
		}
	}

	if set.Len() == 0 {
		return nil, n.Errorf("no addresses")
	}
	return set, nil
}
