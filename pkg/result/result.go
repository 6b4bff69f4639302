// Package result provides the per-call accumulator resolution plugins write
// their answers into.
package result

import (
	"net/netip"
)

// Family is an address family.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

// Result collects zero or more IPv4 and IPv6 addresses or a single CNAME
// target, plus the edns-client-subnet scope mask the answer depends on.
//
// A Result is owned by the caller. Its backing arrays are sized once by New
// and reused across calls through Clear, so filling it never allocates.
// Addresses beyond the per-family capacity are dropped and counted.
type Result struct {
	v4      []netip.Addr
	v6      []netip.Addr
	cname   string
	scope   uint8
	dropped int
}

// New allocates a Result able to hold max4 IPv4 and max6 IPv6 addresses.
func New(max4, max6 int) *Result {
	if max4 < 1 {
		max4 = 1
	}
	if max6 < 1 {
		max6 = 1
	}
	return &Result{
		v4: make([]netip.Addr, 0, max4),
		v6: make([]netip.Addr, 0, max6),
	}
}

// Reset empties the result and resizes it for max4 and max6 addresses,
// reallocating only when a capacity grows.
func (r *Result) Reset(max4, max6 int) {
	if max4 < 1 {
		max4 = 1
	}
	if max6 < 1 {
		max6 = 1
	}
	if cap(r.v4) < max4 {
		r.v4 = make([]netip.Addr, 0, max4)
	}
	if cap(r.v6) < max6 {
		r.v6 = make([]netip.Addr, 0, max6)
	}
	r.v4 = r.v4[:0:max4]
	r.v6 = r.v6[:0:max6]
	r.Clear()
}

// Clear empties the result, keeping its capacity.
func (r *Result) Clear() {
	r.v4 = r.v4[:0]
	r.v6 = r.v6[:0]
	r.cname = ""
	r.scope = 0
	r.dropped = 0
}

// Add appends an address to the list matching its family. It returns false
// if the address is invalid or the family is full.
func (r *Result) Add(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if addr.Is4() {
		if len(r.v4) == cap(r.v4) {
			r.dropped++
			return false
		}
		r.v4 = append(r.v4, addr)
		return true
	}
	if len(r.v6) == cap(r.v6) {
		r.dropped++
		return false
	}
	r.v6 = append(r.v6, addr)
	return true
}

// AddAddress appends raw address bytes of the given family: 4 bytes for
// IPv4, 16 for IPv6.
func (r *Result) AddAddress(fam Family, b []byte) bool {
	switch {
	case fam == IPv4 && len(b) == 4:
		return r.Add(netip.AddrFrom4([4]byte(b)))
	case fam == IPv6 && len(b) == 16:
		return r.Add(netip.AddrFrom16([16]byte(b)))
	default:
		return false
	}
}

// SetCNAME sets the CNAME target. Any addresses already added are kept; the
// calling context decides which one is answered.
func (r *Result) SetCNAME(name string) {
	r.cname = name
}

// SetScopeMask records how many bits of the client subnet the answer used.
func (r *Result) SetScopeMask(n uint8) {
	r.scope = n
}

// NarrowScope raises the scope mask to n if n is more specific.
func (r *Result) NarrowScope(n uint8) {
	if n > r.scope {
		r.scope = n
	}
}

// V4 returns the IPv4 addresses. The slice is only valid until the next
// Clear.
func (r *Result) V4() []netip.Addr { return r.v4 }

// V6 returns the IPv6 addresses. The slice is only valid until the next
// Clear.
func (r *Result) V6() []netip.Addr { return r.v6 }

// CNAME returns the CNAME target, or "" if none was set.
func (r *Result) CNAME() string { return r.cname }

// HasCNAME reports whether a CNAME target was set.
func (r *Result) HasCNAME() bool { return r.cname != "" }

// ScopeMask returns the edns-client-subnet scope mask.
func (r *Result) ScopeMask() uint8 { return r.scope }

// Len returns the total number of addresses held.
func (r *Result) Len() int { return len(r.v4) + len(r.v6) }

// Empty reports whether there is neither an address nor a CNAME.
func (r *Result) Empty() bool { return r.Len() == 0 && r.cname == "" }

// Dropped returns how many addresses did not fit since the last Clear.
func (r *Result) Dropped() int { return r.dropped }

// Cap returns the per-family capacities.
func (r *Result) Cap() (v4, v6 int) { return cap(r.v4), cap(r.v6) }

// Append merges src's addresses into r and narrows r's scope to src's.
// A CNAME in src is only taken if r has no data yet.
func (r *Result) Append(src *Result) {
	if src.cname != "" {
		if r.Empty() {
			r.cname = src.cname
		}
	} else {
		for _, a := range src.v4 {
			r.Add(a)
		}
		for _, a := range src.v6 {
			r.Add(a)
		}
	}
	r.NarrowScope(src.scope)
}

// CopyFrom replaces r's contents with src's.
func (r *Result) CopyFrom(src *Result) {
	r.Clear()
	r.Append(src)
	r.scope = src.scope
}
