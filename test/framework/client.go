package framework

import (
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/miekg/dns"
)

// Answer is the part of a DNS response the tests look at
type Answer struct {
	Rcode int
	TTLs  []uint32

	// Data holds the A/AAAA addresses and CNAME targets, sorted
	Data []string

	// Scope is the ECS scope prefix length, or -1 without ECS
	Scope int
}

// Query sends one UDP query to addr
func Query(addr, qname string, qtype uint16) (*Answer, error) {
	return QueryECS(addr, qname, qtype, "", 0)
}

// QueryECS sends one UDP query carrying an edns-client-subnet option for
// subnet/mask when subnet is not empty
func QueryECS(addr, qname string, qtype uint16, subnet string, mask uint8) (*Answer, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(qname), qtype)
	if subnet != "" {
		req.SetEdns0(1232, false)
		opt := req.IsEdns0()
		ecs := &dns.EDNS0_SUBNET{Code: dns.EDNS0SUBNET, SourceNetmask: mask}
		ecs.Address = net.ParseIP(subnet)
		ecs.Family = 1
		if ecs.Address.To4() == nil {
			ecs.Family = 2
		}
		opt.Option = append(opt.Option, ecs)
	}

	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	resp, _, err := c.Exchange(req, addr)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", qname, err)
	}

	ans := &Answer{Rcode: resp.Rcode, Scope: -1}
	for _, rr := range resp.Answer {
		ans.TTLs = append(ans.TTLs, rr.Header().Ttl)
		switch v := rr.(type) {
		case *dns.A:
			ans.Data = append(ans.Data, v.A.String())
		case *dns.AAAA:
			ans.Data = append(ans.Data, v.AAAA.String())
		case *dns.CNAME:
			ans.Data = append(ans.Data, v.Target)
		}
	}
	slices.Sort(ans.Data)

	if opt := resp.IsEdns0(); opt != nil {
		for _, o := range opt.Option {
			if e, ok := o.(*dns.EDNS0_SUBNET); ok {
				ans.Scope = int(e.SourceScope)
			}
		}
	}
	return ans, nil
}
