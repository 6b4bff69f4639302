package plugin

import (
	"fmt"
	"sync/atomic"
)

// Phase is a plugin's lifecycle position. Phases only move forward.
type Phase int32

const (
	PhaseUnloaded Phase = iota
	PhaseConfigured
	PhaseWired
	PhaseMapped
	PhaseIOThreadReady
	PhaseRunning
	PhaseExited
)

var phaseNames = [...]string{
	PhaseUnloaded:      "unloaded",
	PhaseConfigured:    "configured",
	PhaseWired:         "wired",
	PhaseMapped:        "mapped",
	PhaseIOThreadReady: "io_thread_ready",
	PhaseRunning:       "running",
	PhaseExited:        "exited",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int32(p))
	}
	return phaseNames[p]
}

type phaseVar struct {
	v atomic.Int32
}

func (pv *phaseVar) Load() Phase {
	return Phase(pv.v.Load())
}

// advance moves the phase to `to` provided the current phase lies in
// [from, to]. Staying in `to` is allowed, going backwards never is.
func (pv *phaseVar) advance(from, to Phase) error {
	for {
		cur := pv.v.Load()
		if Phase(cur) < from || Phase(cur) > to {
			return fmt.Errorf("%w: %s, need %s..%s", ErrBadPhase, Phase(cur), from, to)
		}
		if Phase(cur) == to || pv.v.CompareAndSwap(cur, int32(to)) {
			return nil
		}
	}
}

// require checks the phase lies in [from, to] without changing it.
func (pv *phaseVar) require(from, to Phase) error {
	cur := pv.Load()
	if cur < from || cur > to {
		return fmt.Errorf("%w: %s, need %s..%s", ErrBadPhase, cur, from, to)
	}
	return nil
}
