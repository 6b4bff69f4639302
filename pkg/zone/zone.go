// Package zone loads zone files holding DYNA and DYNC records next to
// ordinary resource records, and binds the dynamic records to plugin
// resources.
package zone

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// DefaultTTL applies to records before any $TTL directive.
const DefaultTTL = 86400

var (
	ErrBadToken = errors.New("expected plugin!resource")
	ErrSyntax   = errors.New("zone syntax error")
)

// Kind is the type of a dynamic record.
type Kind int

const (
	// KindDYNA answers A and AAAA queries only.
	KindDYNA Kind = iota
	// KindDYNC may also answer with a CNAME.
	KindDYNC
)

func (k Kind) String() string {
	if k == KindDYNC {
		return "DYNC"
	}
	return "DYNA"
}

// Record is one DYNA or DYNC record.
type Record struct {
	Name     string
	Kind     Kind
	TTL      uint32
	Plugin   string
	Resource string

	// Origin completes relative CNAME targets. It is the $ORIGIN in
	// effect where the record appears, and is empty for DYNA.
	Origin string

	File string
	Line int

	// ID is the runtime binding, valid once Bound is set.
	ID    int
	Bound bool
}

// Token renders the record's plugin!resource reference.
func (r *Record) Token() string {
	return r.Plugin + "!" + r.Resource
}

// Zone is the loaded content of one zone file.
type Zone struct {
	Origin  string
	File    string
	SOA     *dns.SOA
	Static  map[string][]dns.RR
	Dynamic map[string]*Record
}

// ParseToken splits "plugin!resource". The resource may be empty for
// plugins that take none.
func ParseToken(tok string) (pluginName, resource string, err error) {
	pluginName, resource, _ = strings.Cut(tok, "!")
	if pluginName == "" || strings.ContainsAny(pluginName, " \t") {
		return "", "", fmt.Errorf("%w: %q", ErrBadToken, tok)
	}
	return strings.ToLower(pluginName), resource, nil
}

// Load reads a zone file.
func Load(path, origin string) (*Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zone file: %w", err)
	}
	defer f.Close()
	return Parse(f, origin, path)
}

// Parse reads a zone from r. file is used in error messages only.
func Parse(r io.Reader, origin, file string) (*Zone, error) {
	origin = dns.CanonicalName(origin)
	z := &Zone{
		Origin:  origin,
		File:    file,
		Static:  make(map[string][]dns.RR),
		Dynamic: make(map[string]*Record),
	}

	rest, dyn, err := prescan(r, origin, file)
	if err != nil {
		return nil, err
	}

	zp := dns.NewZoneParser(bytes.NewReader(rest), origin, file)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		name := dns.CanonicalName(rr.Header().Name)
		if !dns.IsSubDomain(origin, name) {
			return nil, fmt.Errorf("%w: %s: %s is outside the zone %s", ErrSyntax, file, name, origin)
		}
		if soa, isSOA := rr.(*dns.SOA); isSOA {
			if name != origin {
				return nil, fmt.Errorf("%w: %s: SOA must be at the zone apex", ErrSyntax, file)
			}
			z.SOA = soa
			continue
		}
		z.Static[name] = append(z.Static[name], rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if z.SOA == nil {
		return nil, fmt.Errorf("%w: %s: zone %s has no SOA record", ErrSyntax, file, origin)
	}

	for _, rec := range dyn {
		if _, dup := z.Dynamic[rec.Name]; dup {
			return nil, fmt.Errorf("%w: %s:%d: %s has more than one dynamic record", ErrSyntax, file, rec.Line, rec.Name)
		}
		if rrs := z.Static[rec.Name]; len(rrs) > 0 && rec.Kind == KindDYNC {
			return nil, fmt.Errorf("%w: %s:%d: DYNC at %s cannot coexist with other data", ErrSyntax, file, rec.Line, rec.Name)
		}
		if rec.Kind == KindDYNC && rec.Name == origin {
			return nil, fmt.Errorf("%w: %s:%d: DYNC cannot be at the zone apex", ErrSyntax, file, rec.Line)
		}
		if !dns.IsSubDomain(origin, rec.Name) {
			return nil, fmt.Errorf("%w: %s:%d: %s is outside the zone %s", ErrSyntax, file, rec.Line, rec.Name, origin)
		}
		z.Dynamic[rec.Name] = rec
	}
	return z, nil
}

// prescan removes DYNA and DYNC lines from the zone text and returns them
// as records. Removed lines are blanked so ZoneParser line numbers still
// match the file. Only single-line dynamic records are recognized.
func prescan(r io.Reader, origin, file string) ([]byte, []*Record, error) {
	var (
		out   bytes.Buffer
		recs  []*Record
		owner = origin
		cur   = origin
		ttl   = uint32(DefaultTTL)
		depth int
		line  int

		// pending is set once a dynamic record with an explicit owner has
		// been removed: later blank-owner lines belong to that owner, which
		// ZoneParser never saw.
		pending string
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line++
		text := sc.Text()
		body := stripComment(text)

		if depth > 0 {
			depth += strings.Count(body, "(") - strings.Count(body, ")")
			out.WriteString(text)
			out.WriteByte('\n')
			continue
		}

		fields := strings.Fields(body)
		if len(fields) == 0 {
			out.WriteString(text)
			out.WriteByte('\n')
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "$ORIGIN":
			if len(fields) < 2 {
				return nil, nil, fmt.Errorf("%w: %s:%d: $ORIGIN needs a name", ErrSyntax, file, line)
			}
			cur = absolute(fields[1], cur)
			out.WriteString(text)
			out.WriteByte('\n')
			continue
		case "$TTL":
			if len(fields) < 2 {
				return nil, nil, fmt.Errorf("%w: %s:%d: $TTL needs a value", ErrSyntax, file, line)
			}
			v, ok := parseTTL(fields[1])
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s:%d: bad $TTL %q", ErrSyntax, file, line, fields[1])
			}
			ttl = v
			out.WriteString(text)
			out.WriteByte('\n')
			continue
		}

		startsBlank := text != "" && (text[0] == ' ' || text[0] == '\t')
		rest := fields
		if !startsBlank && !strings.HasPrefix(fields[0], "$") {
			owner = absolute(fields[0], cur)
			rest = fields[1:]
			pending = ""
		}

		rec, isDyn, err := parseDynamic(rest, ttl)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s:%d: %v", ErrSyntax, file, line, err)
		}
		if !isDyn {
			depth += strings.Count(body, "(") - strings.Count(body, ")")
			if startsBlank && pending != "" {
				out.WriteString(pending)
			}
			out.WriteString(text)
			out.WriteByte('\n')
			continue
		}
		if !startsBlank {
			pending = owner
		}

		rec.Name = owner
		rec.File = file
		rec.Line = line
		if rec.Kind == KindDYNC {
			rec.Origin = cur
		}
		recs = append(recs, rec)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return out.Bytes(), recs, nil
}

// parseDynamic looks for "[ttl] [class] DYNA|DYNC token" in the fields after
// the owner.
func parseDynamic(fields []string, defTTL uint32) (*Record, bool, error) {
	rec := &Record{TTL: defTTL}
	for i, f := range fields {
		switch up := strings.ToUpper(f); up {
		case "IN":
			continue
		case "DYNA", "DYNC":
			if up == "DYNC" {
				rec.Kind = KindDYNC
			}
			if len(fields) != i+2 {
				return nil, true, fmt.Errorf("%s needs exactly one plugin!resource argument", up)
			}
			var err error
			if rec.Plugin, rec.Resource, err = ParseToken(fields[i+1]); err != nil {
				return nil, true, err
			}
			return rec, true, nil
		default:
			v, ok := parseTTL(f)
			if !ok {
				return nil, false, nil
			}
			rec.TTL = v
		}
	}
	return nil, false, nil
}

func stripComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return s[:i]
			}
		}
	}
	return s
}

func absolute(name, origin string) string {
	if name == "@" {
		return origin
	}
	if dns.IsFqdn(name) {
		return dns.CanonicalName(name)
	}
	if origin == "." {
		return dns.CanonicalName(name + ".")
	}
	return dns.CanonicalName(name + "." + origin)
}

// parseTTL accepts plain seconds or BIND-style unit suffixes (1h30m, 2d).
func parseTTL(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), true
	}
	var total, num uint64
	seen := false
	for _, c := range strings.ToLower(s) {
		if c >= '0' && c <= '9' {
			num = num*10 + uint64(c-'0')
			seen = true
			continue
		}
		if !seen {
			return 0, false
		}
		switch c {
		case 's':
		case 'm':
			num *= 60
		case 'h':
			num *= 3600
		case 'd':
			num *= 86400
		case 'w':
			num *= 7 * 86400
		default:
			return 0, false
		}
		total += num
		num, seen = 0, false
	}
	if seen || total > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(total), true
}
