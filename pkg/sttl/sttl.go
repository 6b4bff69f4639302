// Package sttl implements the combined state+TTL word that flows from health
// monitoring through resolution plugins up to the DNS response.
package sttl

import (
	"fmt"
	"strconv"
	"strings"
)

// STTL packs an up/down flag, an admin-forced flag and a TTL in seconds into
// a single 32-bit value so it can be published and read atomically.
type STTL uint32

const (
	// Down marks the state as DOWN. A zero Down bit means UP.
	Down STTL = 1 << 31

	// Forced marks a state pinned by an administrator rather than computed
	// from monitoring. It is dropped whenever two states are combined.
	Forced STTL = 1 << 30

	// TTLMask selects the TTL bits.
	TTLMask STTL = 0x0FFFFFFF

	// MaxTTL is the largest TTL the word can carry.
	MaxTTL uint32 = uint32(TTLMask)
)

// New builds a state word, clamping ttl to MaxTTL.
func New(down bool, ttl uint32) STTL {
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	s := STTL(ttl)
	if down {
		s |= Down
	}
	return s
}

// Up is an UP state with the maximum TTL, the identity element for Min.
func Up() STTL {
	return New(false, MaxTTL)
}

// TTL returns the TTL in seconds.
func (s STTL) TTL() uint32 {
	return uint32(s & TTLMask)
}

// IsDown reports whether the state is DOWN.
func (s STTL) IsDown() bool {
	return s&Down != 0
}

// IsForced reports whether the state was pinned by an administrator.
func (s STTL) IsForced() bool {
	return s&Forced != 0
}

// WithTTL returns s with its TTL replaced.
func (s STTL) WithTTL(ttl uint32) STTL {
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	return (s &^ TTLMask) | STTL(ttl)
}

// WithDown returns s with the DOWN flag set or cleared.
func (s STTL) WithDown(down bool) STTL {
	if down {
		return s | Down
	}
	return s &^ Down
}

// ClampTTL caps the TTL at max.
func (s STTL) ClampTTL(max uint32) STTL {
	if s.TTL() > max {
		return s.WithTTL(max)
	}
	return s
}

// Min combines two states: the result carries the smaller TTL and is DOWN if
// either input is DOWN.
func Min(a, b STTL) STTL {
	ttl := a.TTL()
	if b.TTL() < ttl {
		ttl = b.TTL()
	}
	return New(a.IsDown() || b.IsDown(), ttl)
}

// MinTTL combines two states taking the smaller TTL but keeping a's health.
// Meta plugins use it when a child's state influenced how long an answer is
// valid without deciding its health.
func MinTTL(a, b STTL) STTL {
	if b.TTL() < a.TTL() {
		return a.WithTTL(b.TTL()) &^ Forced
	}
	return a &^ Forced
}

// String renders the state as UP/<ttl> or DOWN/<ttl>, with a trailing
// "(forced)" for admin-pinned states.
func (s STTL) String() string {
	var b strings.Builder
	if s.IsDown() {
		b.WriteString("DOWN/")
	} else {
		b.WriteString("UP/")
	}
	b.WriteString(strconv.FormatUint(uint64(s.TTL()), 10))
	if s.IsForced() {
		b.WriteString(" (forced)")
	}
	return b.String()
}

// Parse accepts "UP", "DOWN", "UP/<ttl>" or "DOWN/<ttl>" (case-insensitive).
// A missing TTL means MaxTTL.
func Parse(text string) (STTL, error) {
	text = strings.TrimSpace(text)
	word, ttlText, hasTTL := strings.Cut(text, "/")

	var down bool
	switch strings.ToUpper(word) {
	case "UP":
	case "DOWN":
		down = true
	default:
		return 0, fmt.Errorf("invalid state %q: must be UP or DOWN", text)
	}

	ttl := MaxTTL
	if hasTTL {
		v, err := strconv.ParseUint(ttlText, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid TTL in state %q: %w", text, err)
		}
		if v > uint64(MaxTTL) {
			return 0, fmt.Errorf("TTL in state %q exceeds maximum %d", text, MaxTTL)
		}
		ttl = uint32(v)
	}
	return New(down, ttl), nil
}
