// Package state holds the process-wide table of monitored endpoints and
// their published health.
//
// The monitor engine is the only writer of check results; resolution plugins
// read from any number of DNS workers at once. Every endpoint keeps its
// whole mutable state in one atomic 64-bit word, so a reader always sees a
// consistent classification, TTL and streak set without taking a lock.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/sttl"
)

var (
	// ErrUnknownEndpoint is returned for a description or id with no endpoint
	ErrUnknownEndpoint = errors.New("unknown monitored endpoint")

	// ErrForcedNotAllowed is returned when forcing the state of a virtual endpoint
	ErrForcedNotAllowed = errors.New("state of virtual endpoints cannot be forced")
)

// Endpoint is one monitored address or CNAME under one service type.
type Endpoint struct {
	ID          int
	Desc        string
	ServiceType *health.ServiceType
	Target      string
	CNAME       bool

	word   atomic.Uint64
	forced atomic.Uint32
}

// Snapshot is a point-in-time copy of an endpoint's state.
type Snapshot struct {
	ID            int    `json:"id"`
	Desc          string `json:"desc"`
	ServiceType   string `json:"service_type"`
	Target        string `json:"target"`
	CNAME         bool   `json:"cname,omitempty"`
	State         string `json:"state"`
	Down          bool   `json:"down"`
	TTL           uint32 `json:"ttl"`
	Forced        bool   `json:"forced,omitempty"`
	RealState     string `json:"real_state,omitempty"`
	Checked       bool   `json:"checked"`
	LastOK        bool   `json:"last_ok"`
	SuccessStreak int    `json:"success_streak"`
	FailureStreak int    `json:"failure_streak"`
	OKSinceDown   int    `json:"ok_since_down,omitempty"`
}

// Change describes the effect of one committed check result.
type Change struct {
	Endpoint *Endpoint
	Old      sttl.STTL
	New      sttl.STTL
}

// Transitioned reports whether the classification flipped.
func (c Change) Transitioned() bool {
	return c.Old.IsDown() != c.New.IsDown()
}

// TransitionFunc observes published classification changes. It runs on the
// goroutine that caused the change and must not block.
type TransitionFunc func(ep *Endpoint, prev, cur sttl.STTL)

// Store is the health state table.
type Store struct {
	mu        sync.Mutex
	endpoints atomic.Pointer[[]*Endpoint]
	byDesc    map[string]*Endpoint
	hooks     []TransitionFunc
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{byDesc: make(map[string]*Endpoint)}
	empty := make([]*Endpoint, 0)
	s.endpoints.Store(&empty)
	return s
}

// Describe builds the canonical description of an endpoint.
func Describe(serviceType, target string) string {
	return serviceType + "/" + target
}

// Register adds an endpoint, or returns the id of the existing endpoint with
// the same service type and target. Registration happens while the
// configuration is loaded, before checks or queries run.
func (s *Store) Register(st *health.ServiceType, target string, cname bool) (int, error) {
	if st == nil {
		return 0, fmt.Errorf("register %q: nil service type", target)
	}
	desc := Describe(st.Name, target)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ep, ok := s.byDesc[desc]; ok {
		if ep.CNAME != cname {
			return 0, fmt.Errorf("endpoint %s registered both as address and CNAME", desc)
		}
		return ep.ID, nil
	}

	old := *s.endpoints.Load()
	ep := &Endpoint{
		ID:          len(old),
		Desc:        desc,
		ServiceType: st,
		Target:      target,
		CNAME:       cname,
	}
	ep.word.Store(initialWord(st))

	next := make([]*Endpoint, len(old), len(old)+1)
	copy(next, old)
	next = append(next, ep)
	s.endpoints.Store(&next)
	s.byDesc[desc] = ep

	return ep.ID, nil
}

// OnTransition adds a hook called after every classification change.
// Hooks must be added before monitoring starts.
func (s *Store) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Len returns the number of endpoints.
func (s *Store) Len() int {
	return len(*s.endpoints.Load())
}

// Endpoint returns the endpoint with the given id, or nil.
func (s *Store) Endpoint(id int) *Endpoint {
	eps := *s.endpoints.Load()
	if id < 0 || id >= len(eps) {
		return nil
	}
	return eps[id]
}

// Endpoints returns all endpoints in id order.
func (s *Store) Endpoints() []*Endpoint {
	return *s.endpoints.Load()
}

// Lookup finds an endpoint by description.
func (s *Store) Lookup(desc string) (*Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.byDesc[desc]
	return ep, ok
}

// Read returns the published state of an endpoint. It never blocks. An
// unknown id reads as DOWN with a zero TTL.
func (s *Store) Read(id int) sttl.STTL {
	ep := s.Endpoint(id)
	if ep == nil {
		return sttl.New(true, 0)
	}
	return ep.State()
}

// State returns the endpoint's published state: the admin-forced state if
// one is set, otherwise the monitored one.
func (ep *Endpoint) State() sttl.STTL {
	if f := ep.forced.Load(); f != 0 {
		return sttl.STTL(f)
	}
	return wordSTTL(ep.word.Load())
}

// RealState returns the monitored state, ignoring any admin override.
func (ep *Endpoint) RealState() sttl.STTL {
	return wordSTTL(ep.word.Load())
}

// Commit applies one check result with anti-flap hysteresis and publishes
// the new state. Only the monitor engine calls it, from one goroutine.
func (s *Store) Commit(id int, ok bool) (Change, error) {
	ep := s.Endpoint(id)
	if ep == nil {
		return Change{}, fmt.Errorf("%w: id %d", ErrUnknownEndpoint, id)
	}

	oldPublished := ep.State()
	w := ep.word.Load()
	nw := applyResult(w, ok, ep.ServiceType)
	ep.word.Store(nw)

	c := Change{Endpoint: ep, Old: wordSTTL(w), New: wordSTTL(nw)}
	if ep.forced.Load() == 0 && oldPublished.IsDown() != c.New.IsDown() {
		s.notify(ep, oldPublished, c.New)
	}
	return c, nil
}

// Force pins an endpoint's published state. The TTL of the pinned state is
// capped at the service type's interval so the override is noticed quickly
// once removed.
func (s *Store) Force(desc string, state sttl.STTL) error {
	ep, ok := s.Lookup(desc)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, desc)
	}
	if ep.ServiceType.Virtual() {
		return fmt.Errorf("%w: %s", ErrForcedNotAllowed, desc)
	}

	old := ep.State()
	ttl := state.TTL()
	if iv := secs(ep.ServiceType.Interval); ttl > iv {
		ttl = iv
	}
	pinned := state.WithTTL(ttl) | sttl.Forced
	ep.forced.Store(uint32(pinned))

	if old.IsDown() != pinned.IsDown() {
		s.notify(ep, old, pinned)
	}
	return nil
}

// Unforce removes an admin override.
func (s *Store) Unforce(desc string) error {
	ep, ok := s.Lookup(desc)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, desc)
	}
	old := ep.State()
	ep.forced.Store(0)
	if cur := ep.State(); old.IsDown() != cur.IsDown() {
		s.notify(ep, old, cur)
	}
	return nil
}

func (s *Store) notify(ep *Endpoint, prev, cur sttl.STTL) {
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ep, prev, cur)
	}
}

// Snapshot copies an endpoint's state for display.
func (ep *Endpoint) Snapshot() Snapshot {
	w := ep.word.Load()
	pub := ep.State()
	snap := Snapshot{
		ID:          ep.ID,
		Desc:        ep.Desc,
		ServiceType: ep.ServiceType.Name,
		Target:      ep.Target,
		CNAME:       ep.CNAME,
		State:       pub.String(),
		Down:        pub.IsDown(),
		TTL:         pub.TTL(),
		Forced:      pub.IsForced(),
		Checked:     w&checkedBit != 0,
		LastOK:      w&lastOKBit != 0,
	}
	c := wordCounters(w)
	snap.SuccessStreak, snap.FailureStreak = c.succ, c.fail
	if wordSTTL(w).IsDown() {
		snap.OKSinceDown = c.seen
	}
	if snap.Forced {
		snap.RealState = wordSTTL(w).String()
	}
	return snap
}

// Snapshots copies every endpoint's state, sorted by description.
func (s *Store) Snapshots() []Snapshot {
	eps := s.Endpoints()
	out := make([]Snapshot, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Desc < out[j].Desc })
	return out
}

func secs(d time.Duration) uint32 {
	s := d / time.Second
	if s < 1 {
		return 1
	}
	if uint64(s) > uint64(sttl.MaxTTL) {
		return sttl.MaxTTL
	}
	return uint32(s)
}
