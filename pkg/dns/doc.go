/*
Package dns is the authoritative DNS server for dynadns zones.

Zones are loaded by package zone. Ordinary records are served as written;
DYNA and DYNC records are answered at query time by the plugin runtime,
whose health-aware result decides both the addresses and the TTL.

# Architecture

	     UDP / TCP listeners (miekg/dns)
	                 │
	                 ▼
	        Server.ServeDNS ── job queue
	                 │
	   ┌─────────────┼─────────────┐
	   ▼             ▼             ▼
	Worker 0     Worker 1  ...  Worker N-1     one I/O thread each
	   │
	   ▼
	zone.Set.Find → Zone.Lookup → plugin.Runtime.Resolve

Each worker calls Runtime.IOThreadInit with its index before it takes a
query, and keeps a single result buffer for its whole life. The runtime is
marked running once every worker is ready, then the listeners open.

# Answers

  - Names outside every loaded zone get REFUSED.
  - Missing names get NXDOMAIN with the zone SOA; existing names with no
    data of the asked type (including empty non-terminals) get NODATA.
  - A DYNA name answers A, AAAA and ANY from the plugin. Other types fall
    through to static data at the same name.
  - A DYNC name may answer a CNAME for any query type.
  - A dynamic record whose resource could not be bound gets SERVFAIL.

The TTL of a dynamic answer is the smaller of the record TTL and the TTL
returned by the plugin, raised to min_ttl and capped at max_ttl. Static
TTLs are only capped.

# Client subnet

An edns-client-subnet option is parsed into plugin.ClientInfo with the
address masked to its source prefix. The option is echoed with the scope
the plugin reported, so caches know how widely the answer applies.

# Usage

	resolver := dns.NewResolver(zones, runtime, opts.MinTTL, opts.MaxTTL)
	server := dns.NewServer(resolver, dns.Config{
		Listen:   opts.Listen,
		Networks: opts.DNSNetwork,
		Workers:  opts.IOThreads,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop(context.Background())
*/
package dns
