package lifecycle

import (
	"sync"
	"time"

	"github.com/nodiinc/nodi-edge/internal/fsm"
	"github.com/nodiinc/nodi-edge/internal/meter"
)

// StageStat is the per-stage record spec §3 describes: elapsed time of
// the last pass and whether the stage has completed successfully within
// the current CONNECT→EXECUTE cycle.
type StageStat struct {
	ElapsedSeconds float64
	Done           bool
}

// Stats aggregates engine statistics. Stage flags and the meter are
// written on the FSM driver goroutine; the exception counter is also
// bumped by the manage-plane goroutine on a manage error. All access is
// mutex-guarded, so any goroutine may read it.
type Stats struct {
	mu             sync.RWMutex
	stages         map[string]*StageStat
	meter          *meter.Moving
	exceptionCount int
}

// NewStats creates a Stats tracker with the given EXECUTE-duration window.
func NewStats(meterWindow int) *Stats {
	s := &Stats{
		stages: make(map[string]*StageStat),
		meter:  meter.New(meterWindow),
	}
	for _, st := range []string{fsm.Configure, fsm.Connect, fsm.Execute, fsm.Recover, fsm.Disconnect} {
		s.stages[st] = &StageStat{}
	}
	return s
}

func (s *Stats) stage(name string) *StageStat {
	st, ok := s.stages[name]
	if !ok {
		st = &StageStat{}
		s.stages[name] = st
	}
	return st
}

// MarkDone records a successful pass through stage and returns true the
// first time it is called since the last reset (used to gate the
// "stage-entered" log line to exactly once per cycle).
func (s *Stats) MarkDone(stage string, elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stage(stage)
	st.ElapsedSeconds = elapsed.Seconds()
	first := !st.Done
	st.Done = true
	return first
}

// ClearDone resets a single stage's done flag, e.g. on re-entry to
// CONFIGURE from a reconfigure signal, or on DISCONNECT.
func (s *Stats) ClearDone(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(stage).Done = false
}

// IsDone reports whether stage completed successfully in the current
// cycle.
func (s *Stats) IsDone(stage string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage(stage).Done
}

// RecordExecuteDuration feeds one EXECUTE tick's elapsed time into the
// moving-average meter.
func (s *Stats) RecordExecuteDuration(d time.Duration) {
	s.meter.Record(d.Seconds())
}

// MeanExecuteDuration returns the moving average of EXECUTE tick
// durations, in seconds.
func (s *Stats) MeanExecuteDuration() float64 {
	return s.meter.Mean()
}

// IncrementExceptions bumps the running exception counter.
func (s *Stats) IncrementExceptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptionCount++
	return s.exceptionCount
}

// ResetExceptions zeroes the exception counter — called on the first
// successful EXECUTE iteration ("success is the bottom of the well").
func (s *Stats) ResetExceptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptionCount = 0
}

// ExceptionCount returns the current exception count.
func (s *Stats) ExceptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exceptionCount
}
