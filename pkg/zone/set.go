package zone

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/miekg/dns"
)

// Mapper binds plugin resources. plugin.Runtime implements it.
type Mapper interface {
	MapResource(pluginName, resource, origin string) (int, error)
}

// Bind maps every dynamic record of the zone. DYNA records are mapped
// without an origin, so a resource that may answer a CNAME is refused for
// them. A record that fails to map stays unbound and answers SERVFAIL; the
// errors are returned joined.
func (z *Zone) Bind(m Mapper) error {
	logger := log.WithComponent("zone")
	var errs []error
	for _, name := range z.dynamicNames() {
		rec := z.Dynamic[name]
		id, err := m.MapResource(rec.Plugin, rec.Resource, rec.Origin)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s:%d: %s %s %s: %w", rec.File, rec.Line, rec.Name, rec.Kind, rec.Token(), err))
			continue
		}
		rec.ID, rec.Bound = id, true
		logger.Debug().
			Str("zone", z.Origin).
			Str("name", rec.Name).
			Str("resource", rec.Token()).
			Int("id", id).
			Msg("dynamic record bound")
	}
	return errors.Join(errs...)
}

func (z *Zone) dynamicNames() []string {
	names := make([]string, 0, len(z.Dynamic))
	for name := range z.Dynamic {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the data held at name. exists is false when the name is
// neither a node with data nor an empty non-terminal.
func (z *Zone) Lookup(name string) (static []dns.RR, dyn *Record, exists bool) {
	name = dns.CanonicalName(name)
	static = z.Static[name]
	dyn = z.Dynamic[name]
	if name == z.Origin || len(static) > 0 || dyn != nil {
		return static, dyn, true
	}
	return nil, nil, z.hasDescendant(name)
}

func (z *Zone) hasDescendant(name string) bool {
	for n := range z.Static {
		if n != name && dns.IsSubDomain(name, n) {
			return true
		}
	}
	for n := range z.Dynamic {
		if n != name && dns.IsSubDomain(name, n) {
			return true
		}
	}
	return false
}

// LoadAll loads and binds every configured zone. Load errors are always
// fatal. Bind errors are logged and only fatal when strict is set, as for
// checkconf.
func LoadAll(zones []config.ZoneConfig, m Mapper, strict bool) ([]*Zone, error) {
	logger := log.WithComponent("zone")
	out := make([]*Zone, 0, len(zones))
	for _, zc := range zones {
		z, err := Load(zc.File, zc.Origin)
		if err != nil {
			metrics.ZoneReloads.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("zone %s: %w", zc.Origin, err)
		}
		if err := z.Bind(m); err != nil {
			if strict {
				metrics.ZoneReloads.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("zone %s: %w", zc.Origin, err)
			}
			logger.Warn().Err(err).Str("zone", z.Origin).Msg("some dynamic records could not be bound")
		}
		logger.Info().
			Str("zone", z.Origin).
			Str("file", z.File).
			Int("static_names", len(z.Static)).
			Int("dynamic_records", len(z.Dynamic)).
			Msg("zone loaded")
		out = append(out, z)
	}
	metrics.ZoneReloads.WithLabelValues("ok").Inc()
	return out, nil
}

// Set is the live collection of zones. Readers never block; Replace swaps
// the whole collection at once.
type Set struct {
	zones atomic.Pointer[[]*Zone]
}

// NewSet creates an empty set.
func NewSet() *Set {
	s := &Set{}
	empty := []*Zone{}
	s.zones.Store(&empty)
	return s
}

// Replace installs zones, most specific origin first.
func (s *Set) Replace(zones []*Zone) {
	sorted := make([]*Zone, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dns.CountLabel(sorted[i].Origin) > dns.CountLabel(sorted[j].Origin)
	})
	s.zones.Store(&sorted)
}

// Zones returns the current zones.
func (s *Set) Zones() []*Zone {
	return *s.zones.Load()
}

// Find returns the most specific zone containing qname, or nil.
func (s *Set) Find(qname string) *Zone {
	qname = dns.CanonicalName(qname)
	for _, z := range *s.zones.Load() {
		if dns.IsSubDomain(z.Origin, qname) {
			return z
		}
	}
	return nil
}
