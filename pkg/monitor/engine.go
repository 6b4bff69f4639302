// Package monitor runs health checks for every monitored endpoint on a
// single reactor goroutine and commits their results to the state store.
package monitor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStarted is returned when adding targets after monitoring has begun.
var ErrStarted = errors.New("monitor engine already started")

// Engine schedules checks and is the only writer of check results into the
// state store.
//
// Checks run concurrently, each on its own short-lived goroutine bounded by
// the service type timeout, but every result is funnelled back to one
// goroutine that commits it. A slow, hung or panicking checker therefore
// delays nothing but its own endpoint.
type Engine struct {
	id     string
	store  *state.Store
	logger zerolog.Logger

	mu      sync.Mutex
	targets []*target
	started bool

	results chan checkResult
	stopCh  chan struct{}
	doneCh  chan struct{}
	rnd     *rand.Rand
}

// target is one endpoint's schedule entry. Only the reactor goroutine
// touches next, inflight and index once Start has been called.
type target struct {
	id       int
	desc     string
	st       *health.ServiceType
	checker  health.Checker
	next     time.Time
	inflight bool
	index    int
}

type checkResult struct {
	t        *target
	result   health.Result
	checkID  string
	timedOut bool
}

// NewEngine creates an engine committing into store.
func NewEngine(store *state.Store) *Engine {
	id := uuid.NewString()
	return &Engine{
		id:     id,
		store:  store,
		logger: log.WithComponent("monitor").With().Str("engine_id", id).Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add registers the checker for endpoint id.
func (e *Engine) Add(id int, st *health.ServiceType, checker health.Checker) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrStarted
	}
	ep := e.store.Endpoint(id)
	if ep == nil {
		return fmt.Errorf("%w: id %d", state.ErrUnknownEndpoint, id)
	}
	if st.Virtual() {
		return fmt.Errorf("service type %s is never checked", st.Name)
	}
	e.targets = append(e.targets, &target{id: id, desc: ep.Desc, st: st, checker: checker})
	return nil
}

// Len returns the number of checked endpoints.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.targets)
}

// Init runs exactly one check per endpoint and waits for all of them, so
// every endpoint has a real classification before queries are served.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	targets := e.targets
	e.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}

	e.logger.Info().Int("endpoints", len(targets)).Msg("running initial health checks")
	start := time.Now()

	results := make(chan checkResult, len(targets))
	for _, t := range targets {
		go e.runCheck(ctx, t, results)
	}

	for n := 0; n < len(targets); n++ {
		select {
		case r := <-results:
			e.commit(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.logger.Info().
		Int("endpoints", len(targets)).
		Dur("duration", time.Since(start)).
		Msg("initial health checks complete")
	return nil
}

// Start schedules recurring checks for every endpoint and returns
// immediately. The first recurring check of each endpoint is staggered
// randomly across one interval.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	targets := e.targets
	e.mu.Unlock()

	e.results = make(chan checkResult, len(targets)+1)

	now := time.Now()
	q := make(schedule, 0, len(targets))
	for _, t := range targets {
		t.next = now.Add(time.Duration(e.rnd.Int63n(int64(t.st.Interval) + 1)))
		q = append(q, t)
	}
	heap.Init(&q)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(e.doneCh)
		defer cancel()
		e.loop(ctx, &q)
	}()

	e.logger.Info().Int("endpoints", len(targets)).Msg("health monitoring started")
	return nil
}

// Stop ends monitoring and waits for the reactor to exit. In-flight checks
// are cancelled and their results discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	select {
	case <-e.stopCh:
		return
	default:
		close(e.stopCh)
	}
	if started {
		<-e.doneCh
	}
}

func (e *Engine) loop(ctx context.Context, q *schedule) {
	if q.Len() == 0 {
		select {
		case <-ctx.Done():
		case <-e.stopCh:
		}
		return
	}

	timer := time.NewTimer(time.Until((*q)[0].next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return

		case r := <-e.results:
			r.t.inflight = false
			e.commit(r)

		case now := <-timer.C:
			for q.Len() > 0 && !(*q)[0].next.After(now) {
				t := (*q)[0]
				if t.inflight {
					e.logger.Warn().
						Str("endpoint", t.desc).
						Msg("previous check still running, skipping")
				} else {
					t.inflight = true
					go e.runCheck(ctx, t, e.results)
				}
				t.next = t.next.Add(t.st.Interval)
				if t.next.Before(now) {
					t.next = now.Add(t.st.Interval)
				}
				heap.Fix(q, 0)
			}
			timer.Reset(time.Until((*q)[0].next))
		}
	}
}

// runCheck performs one check under the service type timeout. If the
// checker has not returned by the deadline a failure is reported on its
// behalf and its eventual result is dropped.
func (e *Engine) runCheck(ctx context.Context, t *target, out chan<- checkResult) {
	checkID := uuid.NewString()
	checkCtx, cancel := context.WithTimeout(ctx, t.st.Timeout)
	defer cancel()

	done := make(chan health.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- health.Result{
					Healthy:   false,
					Message:   fmt.Sprintf("checker panicked: %v", r),
					CheckedAt: time.Now(),
				}
			}
		}()
		done <- t.checker.Check(checkCtx)
	}()

	var res checkResult
	select {
	case r := <-done:
		res = checkResult{t: t, result: r, checkID: checkID}
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			return
		}
		res = checkResult{
			t: t,
			result: health.Result{
				Healthy:   false,
				Message:   fmt.Sprintf("check timed out after %s", t.st.Timeout),
				CheckedAt: time.Now(),
				Duration:  t.st.Timeout,
			},
			checkID:  checkID,
			timedOut: true,
		}
	}

	select {
	case out <- res:
	case <-ctx.Done():
	}
}

func (e *Engine) commit(r checkResult) {
	t := r.t
	resultLabel := "ok"
	if !r.result.Healthy {
		resultLabel = "fail"
	}
	metrics.ChecksTotal.WithLabelValues(t.st.Name, resultLabel).Inc()
	metrics.CheckDuration.WithLabelValues(t.st.Name).Observe(r.result.Duration.Seconds())
	if r.timedOut {
		metrics.CheckTimeouts.WithLabelValues(t.st.Name).Inc()
	}

	change, err := e.store.Commit(t.id, r.result.Healthy)
	if err != nil {
		e.logger.Error().Err(err).Str("endpoint", t.desc).Msg("failed to commit check result")
		return
	}

	e.logger.Debug().
		Str("endpoint", t.desc).
		Str("check_id", r.checkID).
		Bool("healthy", r.result.Healthy).
		Str("message", r.result.Message).
		Dur("duration", r.result.Duration).
		Str("state", change.New.String()).
		Msg("health check complete")

	if change.Transitioned() {
		stateLabel := "up"
		if change.New.IsDown() {
			stateLabel = "down"
		}
		metrics.StateTransitions.WithLabelValues(t.st.Name, stateLabel).Inc()

		e.logger.Info().
			Str("endpoint", t.desc).
			Str("from", change.Old.String()).
			Str("to", change.New.String()).
			Str("message", r.result.Message).
			Msg("endpoint state changed")
	}
}

// schedule is a min-heap of targets ordered by next check time.
type schedule []*target

func (s schedule) Len() int           { return len(s) }
func (s schedule) Less(i, j int) bool { return s[i].next.Before(s[j].next) }
func (s schedule) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].index = i
	s[j].index = j
}

func (s *schedule) Push(x any) {
	t := x.(*target)
	t.index = len(*s)
	*s = append(*s, t)
}

func (s *schedule) Pop() any {
	old := *s
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return t
}
