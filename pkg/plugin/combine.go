package plugin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/sttl"
)

// PolicyKind selects how child answers are aggregated.
type PolicyKind int

const (
	// All answers every child and is DOWN if any child is DOWN.
	All PolicyKind = iota
	// AtLeast answers the up children and is DOWN if fewer than N are up.
	AtLeast
	// FirstUp answers the first up child in priority order.
	FirstUp
)

// Policy is an aggregation rule for meta plugins.
type Policy struct {
	Kind PolicyKind
	N    int
}

var (
	PolicyAll     = Policy{Kind: All}
	PolicyFirstUp = Policy{Kind: FirstUp}
)

// PolicyAtLeast builds an N-of-M policy.
func PolicyAtLeast(n int) Policy {
	if n < 1 {
		n = 1
	}
	return Policy{Kind: AtLeast, N: n}
}

// ParsePolicy accepts "all", "first_up" or "at_least:N".
func ParsePolicy(s string) (Policy, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); {
	case s == "all":
		return PolicyAll, nil
	case s == "first_up" || s == "failover":
		return PolicyFirstUp, nil
	case strings.HasPrefix(s, "at_least:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "at_least:"))
		if err != nil || n < 1 {
			return Policy{}, fmt.Errorf("%w: bad policy %q: N must be a positive integer", config.ErrInvalid, s)
		}
		return PolicyAtLeast(n), nil
	default:
		return Policy{}, fmt.Errorf("%w: unknown policy %q", config.ErrInvalid, s)
	}
}

func (p Policy) String() string {
	switch p.Kind {
	case All:
		return "all"
	case FirstUp:
		return "first_up"
	default:
		return "at_least:" + strconv.Itoa(p.N)
	}
}

// Child is one already-resolved input to Combine.
type Child struct {
	State  sttl.STTL
	Result *result.Result
}

// Combine aggregates children into out according to p and returns the
// combined state. The TTL is never larger than that of any child consulted.
// The scope mask is the most specific among the children whose data is
// answered.
//
// When FirstUp finds no child up, the first child's data is answered DOWN.
// AtLeast answers the up children and is DOWN when fewer than N are up; if
// none is up it answers every child's data.
func Combine(p Policy, children []Child, out *result.Result) sttl.STTL {
	if len(children) == 0 {
		return sttl.Up()
	}

	switch p.Kind {
	case FirstUp:
		s := sttl.Up()
		for i, c := range children {
			s = sttl.MinTTL(s, c.State)
			if !c.State.IsDown() {
				mergeInto(out, children[i].Result)
				return s
			}
		}
		mergeInto(out, children[0].Result)
		return s.WithDown(true)

	case AtLeast:
		s := sttl.Up()
		up := 0
		for _, c := range children {
			s = sttl.MinTTL(s, c.State)
			if !c.State.IsDown() {
				up++
			}
		}
		for _, c := range children {
			if up == 0 || !c.State.IsDown() {
				mergeInto(out, c.Result)
			}
		}
		return s.WithDown(up < p.N)

	default:
		s := sttl.Up()
		for _, c := range children {
			s = sttl.Min(s, c.State)
			mergeInto(out, c.Result)
		}
		return s
	}
}

func mergeInto(out, src *result.Result) {
	if src != nil {
		out.Append(src)
	}
}
