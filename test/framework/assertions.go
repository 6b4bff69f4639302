package framework

import (
	"slices"

	"github.com/miekg/dns"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// Answers asserts that qname resolves with NOERROR to exactly want
func (a *Assertions) Answers(d *Daemon, qname string, qtype uint16, want ...string) *Answer {
	a.t.Helper()

	ans, err := Query(d.DNSAddr(), qname, qtype)
	if err != nil {
		a.t.Fatalf("%v", err)
		return nil
	}
	if ans.Rcode != dns.RcodeSuccess {
		a.t.Fatalf("%s: expected NOERROR, got %s", qname, dns.RcodeToString[ans.Rcode])
	}
	want = slices.Clone(want)
	slices.Sort(want)
	if !slices.Equal(ans.Data, want) {
		a.t.Fatalf("%s: expected %v, got %v", qname, want, ans.Data)
	}
	return ans
}

// Rcode asserts the response code of a query
func (a *Assertions) Rcode(d *Daemon, qname string, qtype uint16, want int) {
	a.t.Helper()

	ans, err := Query(d.DNSAddr(), qname, qtype)
	if err != nil {
		a.t.Fatalf("%v", err)
		return
	}
	if ans.Rcode != want {
		a.t.Fatalf("%s: expected %s, got %s", qname, dns.RcodeToString[want], dns.RcodeToString[ans.Rcode])
	}
}

// TTLAtMost asserts that every answer TTL is at most max
func (a *Assertions) TTLAtMost(ans *Answer, max uint32) {
	a.t.Helper()

	for _, ttl := range ans.TTLs {
		if ttl > max {
			a.t.Errorf("TTL %d exceeds %d", ttl, max)
		}
	}
}
