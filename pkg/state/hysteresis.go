package state

import (
	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/sttl"
)

// Layout of an endpoint's state word:
//
//	bits  0-31  published sttl
//	bits 32-41  consecutive successes (saturating)
//	bits 42-51  consecutive failures (saturating)
//	bits 52-61  ok results since the endpoint last went DOWN (saturating)
//	bit  62     last raw result was ok
//	bit  63     at least one check has been committed
//
// Counters saturate at streakMask, which is above health.MaxThresh.
const (
	succShift  = 32
	failShift  = 42
	seenShift  = 52
	streakMask = 0x3FF
	lastOKBit  = uint64(1) << 62
	checkedBit = uint64(1) << 63
)

type counters struct {
	succ, fail, seen int
}

func wordSTTL(w uint64) sttl.STTL {
	return sttl.STTL(uint32(w))
}

func wordCounters(w uint64) counters {
	return counters{
		succ: int((w >> succShift) & streakMask),
		fail: int((w >> failShift) & streakMask),
		seen: int((w >> seenShift) & streakMask),
	}
}

func packWord(s sttl.STTL, c counters, lastOK, checked bool) uint64 {
	w := uint64(uint32(s))
	w |= uint64(c.succ&streakMask) << succShift
	w |= uint64(c.fail&streakMask) << failShift
	w |= uint64(c.seen&streakMask) << seenShift
	if lastOK {
		w |= lastOKBit
	}
	if checked {
		w |= checkedBit
	}
	return w
}

func initialWord(st *health.ServiceType) uint64 {
	if st.Virtual() {
		return packWord(sttl.New(st.InitiallyDown(), sttl.MaxTTL), counters{}, !st.InitiallyDown(), true)
	}
	return packWord(stateTTL(st, false, counters{}), counters{}, false, false)
}

func incr(n int) int {
	if n < streakMask {
		return n + 1
	}
	return n
}

// applyResult is the anti-flap state machine:
//
//   - the first committed result sets the classification directly, so the
//     warm-up check at startup yields a real state;
//   - any success clears the failure streak and any failure clears the
//     success streak;
//   - UP goes DOWN once the failure streak reaches down_thresh;
//   - DOWN goes UP once the success streak reaches up_thresh and at least
//     ok_thresh ok results were seen since the endpoint went DOWN.
func applyResult(w uint64, ok bool, st *health.ServiceType) uint64 {
	if st.Virtual() {
		return w
	}

	down := wordSTTL(w).IsDown()
	c := wordCounters(w)

	if w&checkedBit == 0 {
		down = !ok
		c = counters{}
		if ok {
			c.succ = 1
		} else {
			c.fail = 1
		}
		return packWord(stateTTL(st, down, c), c, ok, true)
	}

	if ok {
		c.succ = incr(c.succ)
		c.fail = 0
		if down {
			c.seen = incr(c.seen)
			if c.succ >= st.UpThresh && c.seen >= st.OKThresh {
				down = false
				c.seen = 0
			}
		}
	} else {
		c.succ = 0
		c.fail = incr(c.fail)
		if !down && c.fail >= st.DownThresh {
			down = true
			c.seen = 0
		}
	}

	return packWord(stateTTL(st, down, c), c, ok, true)
}

// stateTTL is the shortest time, in seconds, before the classification
// could change: the checks still needed to flip it times the interval.
func stateTTL(st *health.ServiceType, down bool, c counters) sttl.STTL {
	var remaining int
	if down {
		remaining = max(st.UpThresh-c.succ, st.OKThresh-c.seen)
	} else {
		remaining = st.DownThresh - c.fail
	}
	if remaining < 1 {
		remaining = 1
	}
	ttl := uint64(remaining) * uint64(secs(st.Interval))
	if ttl > uint64(sttl.MaxTTL) {
		ttl = uint64(sttl.MaxTTL)
	}
	return sttl.New(down, uint32(ttl))
}
