package dns

import (
	"net"
	"net/netip"

	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/cuemby/dynadns/pkg/zone"
	"github.com/miekg/dns"
)

// Runtime is the part of plugin.Runtime the server needs.
type Runtime interface {
	Resolve(thread, id int, origin string, ci *plugin.ClientInfo, out *result.Result) sttl.STTL
	NewResult() *result.Result
	IOThreadInit(thread int) error
	MarkRunning() error
}

// Resolver builds authoritative answers from the zone set, asking the
// plugin runtime for DYNA and DYNC names.
type Resolver struct {
	zones  *zone.Set
	rt     Runtime
	minTTL uint32
	maxTTL uint32
}

// NewResolver creates a resolver. Dynamic TTLs are clamped to
// [minTTL, maxTTL]; static TTLs are only capped at maxTTL.
func NewResolver(zones *zone.Set, rt Runtime, minTTL, maxTTL uint32) *Resolver {
	if maxTTL == 0 {
		maxTTL = sttl.MaxTTL
	}
	if minTTL > maxTTL {
		minTTL = maxTTL
	}
	return &Resolver{zones: zones, rt: rt, minTTL: minTTL, maxTTL: maxTTL}
}

// Worker answers queries on one I/O thread. A worker is not safe for
// concurrent use; its result buffer is reused for every query.
type Worker struct {
	thread int
	r      *Resolver
	out    *result.Result
}

// NewWorker creates the per-thread answering state for thread.
func (r *Resolver) NewWorker(thread int) *Worker {
	return &Worker{thread: thread, r: r, out: r.rt.NewResult()}
}

// Answer builds the response to req, received from client.
func (w *Worker) Answer(req *dns.Msg, client netip.Addr) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Compress = true

	if req.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		return m
	}
	if len(req.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		return m
	}

	ci := &plugin.ClientInfo{Resolver: client.Unmap()}
	ecs := parseECS(req, ci)
	if opt := req.IsEdns0(); opt != nil {
		m.SetEdns0(opt.UDPSize(), false)
	}

	q := req.Question[0]
	if q.Qclass != dns.ClassINET && q.Qclass != dns.ClassANY {
		m.Rcode = dns.RcodeRefused
		return m
	}

	z := w.r.zones.Find(q.Name)
	if z == nil {
		m.Rcode = dns.RcodeRefused
		return m
	}
	m.Authoritative = true

	static, dyn, exists := z.Lookup(q.Name)
	if !exists {
		m.Rcode = dns.RcodeNameError
		w.addSOA(m, z)
		return m
	}

	if dyn != nil {
		if !dyn.Bound {
			m.Rcode = dns.RcodeServerFailure
			m.Authoritative = false
			return m
		}
		if dyn.Kind == zone.KindDYNC || wantsAddress(q.Qtype) {
			w.answerDynamic(m, q, dyn, ci)
			if ecs != nil {
				ecs.SourceScope = w.out.ScopeMask()
			}
		}
	}

	if len(m.Answer) == 0 || !hasCNAME(m.Answer) {
		w.answerStatic(m, q, static)
	}
	if ecs != nil {
		if opt := m.IsEdns0(); opt != nil {
			opt.Option = append(opt.Option, ecs)
		}
	}
	if len(m.Answer) == 0 {
		w.addSOA(m, z)
	}
	return m
}

func (w *Worker) answerDynamic(m *dns.Msg, q dns.Question, rec *zone.Record, ci *plugin.ClientInfo) {
	out := w.out
	out.Clear()
	s := w.r.rt.Resolve(w.thread, rec.ID, rec.Origin, ci, out)
	ttl := w.r.dynamicTTL(rec.TTL, s)

	if out.HasCNAME() {
		m.Answer = append(m.Answer, &dns.CNAME{
			Hdr:    dns.RR_Header{Name: q.Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl},
			Target: out.CNAME(),
		})
		return
	}
	if q.Qtype == dns.TypeA || q.Qtype == dns.TypeANY {
		for _, a := range out.V4() {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
				A:   net.IP(a.AsSlice()),
			})
		}
	}
	if q.Qtype == dns.TypeAAAA || q.Qtype == dns.TypeANY {
		for _, a := range out.V6() {
			m.Answer = append(m.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
				AAAA: net.IP(a.AsSlice()),
			})
		}
	}
}

// answerStatic copies matching zone data. A CNAME answers every type but
// its own, and is not chased.
func (w *Worker) answerStatic(m *dns.Msg, q dns.Question, rrs []dns.RR) {
	for _, rr := range rrs {
		t := rr.Header().Rrtype
		if t != q.Qtype && q.Qtype != dns.TypeANY && t != dns.TypeCNAME {
			continue
		}
		if t == dns.TypeCNAME && q.Qtype != dns.TypeCNAME && q.Qtype != dns.TypeANY {
			m.Answer = append(m.Answer, w.r.rename(rr, q.Name))
			return
		}
		if t == q.Qtype || q.Qtype == dns.TypeANY {
			m.Answer = append(m.Answer, w.r.rename(rr, q.Name))
		}
	}
}

// addSOA puts the zone SOA in the authority section with the negative
// caching TTL.
func (w *Worker) addSOA(m *dns.Msg, z *zone.Zone) {
	soa := dns.Copy(z.SOA).(*dns.SOA)
	if soa.Minttl < soa.Hdr.Ttl {
		soa.Hdr.Ttl = soa.Minttl
	}
	if soa.Hdr.Ttl > w.r.maxTTL {
		soa.Hdr.Ttl = w.r.maxTTL
	}
	m.Ns = append(m.Ns, soa)
}

// rename copies rr under the query's spelling of the owner name, capping
// its TTL.
func (r *Resolver) rename(rr dns.RR, name string) dns.RR {
	c := dns.Copy(rr)
	c.Header().Name = name
	if c.Header().Ttl > r.maxTTL {
		c.Header().Ttl = r.maxTTL
	}
	return c
}

// dynamicTTL is the smaller of the record TTL and the resolved TTL,
// clamped to the configured bounds.
func (r *Resolver) dynamicTTL(recordTTL uint32, s sttl.STTL) uint32 {
	ttl := recordTTL
	if t := s.TTL(); t < ttl {
		ttl = t
	}
	if ttl < r.minTTL {
		ttl = r.minTTL
	}
	if ttl > r.maxTTL {
		ttl = r.maxTTL
	}
	return ttl
}

// parseECS fills ci from an edns-client-subnet option and returns the
// option to echo, or nil. A zero source prefix is echoed but not used.
func parseECS(req *dns.Msg, ci *plugin.ClientInfo) *dns.EDNS0_SUBNET {
	opt := req.IsEdns0()
	if opt == nil {
		return nil
	}
	for _, o := range opt.Option {
		sub, ok := o.(*dns.EDNS0_SUBNET)
		if !ok {
			continue
		}
		echo := &dns.EDNS0_SUBNET{
			Code:          dns.EDNS0SUBNET,
			Family:        sub.Family,
			SourceNetmask: sub.SourceNetmask,
			Address:       sub.Address,
		}
		addr, ok := netip.AddrFromSlice(sub.Address)
		if !ok || sub.SourceNetmask == 0 {
			return echo
		}
		addr = addr.Unmap()
		bits := int(sub.SourceNetmask)
		if bits > addr.BitLen() {
			return echo
		}
		if p, err := addr.Prefix(bits); err == nil {
			ci.ECS = p.Addr()
			ci.ECSMask = sub.SourceNetmask
		}
		return echo
	}
	return nil
}

func wantsAddress(qtype uint16) bool {
	return qtype == dns.TypeA || qtype == dns.TypeAAAA || qtype == dns.TypeANY
}

func hasCNAME(rrs []dns.RR) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeCNAME {
			return true
		}
	}
	return false
}
