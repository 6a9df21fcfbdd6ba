// Package animation plays a planned transition path as a sequence of timed
// visual-state updates.
package animation

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/clock"
	"github.com/dokzlo13/lockd/internal/lock"
)

// StepFunc receives every visual update of a run.
type StepFunc func(state lock.State, phase lock.Phase)

// Dispatcher marshals a timer callback onto the goroutine that owns the
// scheduler. Nil runs callbacks inline on the timer goroutine.
type Dispatcher func(fn func())

// Scheduler plays at most one run at a time. It is not safe for concurrent
// use: Play, Cancel and dispatched callbacks must share one goroutine.
type Scheduler struct {
	clock    clock.Clock
	dispatch Dispatcher

	generation uint64
	active     bool
	timers     []clock.Timer
}

// New creates a scheduler driven by c.
func New(c clock.Clock, dispatch Dispatcher) *Scheduler {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	return &Scheduler{
		clock:    c,
		dispatch: dispatch,
	}
}

// Handle identifies one run.
type Handle struct {
	s   *Scheduler
	gen uint64
}

// Cancel stops the run if it is still the scheduler's current one. No callback
// of the run fires afterwards.
func (h Handle) Cancel() {
	if h.s != nil && h.s.generation == h.gen {
		h.s.Cancel()
	}
}

// Active reports whether the run still has callbacks pending.
func (h Handle) Active() bool {
	return h.s != nil && h.s.active && h.s.generation == h.gen
}

// Play starts a run over path, cancelling any run in flight. The total duration
// is split evenly across the path: step i is emitted at i*step (step 0 before
// Play returns), every step but the last with PhaseTransitioning and the last
// with PhaseComplete. One step later the last state is emitted again with
// PhaseIdle and onDone is called. An empty path is a no-op.
func (s *Scheduler) Play(path lock.Path, total time.Duration, onStep StepFunc, onDone func()) Handle {
	s.Cancel()

	if len(path) == 0 {
		return Handle{}
	}

	s.generation++
	gen := s.generation
	s.active = true

	steps := append(lock.Path(nil), path...)
	step := total / time.Duration(len(steps))
	last := len(steps) - 1

	log.Debug().
		Interface("path", steps).
		Dur("step", step).
		Uint64("generation", gen).
		Msg("Animation started")

	phaseAt := func(i int) lock.Phase {
		if i == last {
			return lock.PhaseComplete
		}
		return lock.PhaseTransitioning
	}

	onStep(steps[0], phaseAt(0))

	for i := 1; i <= last; i++ {
		i := i
		s.schedule(gen, time.Duration(i)*step, func() {
			onStep(steps[i], phaseAt(i))
		})
	}

	s.schedule(gen, time.Duration(len(steps))*step, func() {
		s.active = false
		s.timers = nil
		onStep(steps[last], lock.PhaseIdle)
		if onDone != nil {
			onDone()
		}
	})

	return Handle{s: s, gen: gen}
}

// Cancel stops the current run, if any.
func (s *Scheduler) Cancel() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	if s.active {
		log.Debug().Uint64("generation", s.generation).Msg("Animation cancelled")
	}
	s.active = false
	// Bumping the generation turns every callback already handed to the
	// dispatcher into a no-op.
	s.generation++
}

// Active reports whether a run is in flight.
func (s *Scheduler) Active() bool {
	return s.active
}

func (s *Scheduler) schedule(gen uint64, delay time.Duration, fn func()) {
	t := s.clock.AfterFunc(delay, func() {
		s.dispatch(func() {
			if s.generation != gen {
				return
			}
			fn()
		})
	})
	s.timers = append(s.timers, t)
}
