// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gptimer

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// simPhase is the state of a SimTimer from a start instant.
// A phase is never modified once published; changes swap in a new phase
// starting at the instant of the change.
type simPhase struct {
	base       uint64 // Counter value at start
	start      int64  // Nanoseconds since the timer epoch
	paused     bool
	divider    int
	dir        Direction
	autoReload bool
	reload     uint64
	alarm      uint64
	alarmEn    bool
}

// distance returns the counts from v to the alarm in the count direction,
// or 0 if the alarm is not ahead of v.
func (p *simPhase) distance(v uint64) uint64 {
	if p.dir == CountUp {
		if p.alarm > v {
			return p.alarm - v
		}
	} else if p.alarm < v {
		return v - p.alarm
	}
	return 0
}

// wraps reports whether the counter reloads on each alarm match.
func (p *simPhase) wraps() bool {
	return p.alarmEn && p.autoReload && p.distance(p.reload) > 0
}

func (p *simPhase) step(v, n uint64) uint64 {
	if p.dir == CountUp {
		return v + n
	}
	return v - n
}

// counts returns the number of counts from start to now.
func (p *simPhase) counts(now int64, sourceHz uint64) uint64 {
	if p.paused || now <= p.start {
		return 0
	}
	return durationToCounts(time.Duration(now-p.start), sourceHz, p.divider)
}

// value returns the counter value at now.
func (p *simPhase) value(now int64, sourceHz uint64) uint64 {
	n := p.counts(now, sourceHz)
	first := p.distance(p.base)
	if !p.wraps() || n < first {
		return p.step(p.base, n)
	}
	return p.step(p.reload, (n-first)%p.distance(p.reload))
}

// matchAt returns the instant of alarm match k, counting from 0.
// An alarm that is not ahead of the counter matches at the start.
func (p *simPhase) matchAt(k uint64, sourceHz uint64) (int64, bool) {
	if p.paused || !p.alarmEn || p.divider <= 0 {
		return 0, false
	}
	n := p.distance(p.base)
	if k > 0 {
		if !p.wraps() {
			return 0, false
		}
		n += k * p.distance(p.reload)
	}
	d := countsToDuration(n, sourceHz, p.divider)
	if d > time.Duration(1<<62) {
		return 0, false
	}
	return p.start + int64(d), true
}

// matchesBy returns the number of alarm matches up to and including now.
func (p *simPhase) matchesBy(now int64, sourceHz uint64) uint64 {
	if p.paused || !p.alarmEn {
		return 0
	}
	n := p.counts(now, sourceHz)
	first := p.distance(p.base)
	if n < first {
		return 0
	}
	if !p.wraps() {
		return 1
	}
	return 1 + (n-first)/p.distance(p.reload)
}

// SimTimer is a software model of one timer unit.
// The counter is derived from the host monotonic clock. Alarms are raised
// from a dedicated goroutine, which runs the callback as the interrupt
// context. Matches missed while the goroutine was delayed raise a single
// interrupt, as a level interrupt would.
type SimTimer struct {
	sourceHz uint64
	epoch    time.Time

	phase atomic.Pointer[simPhase]
	cb    atomic.Pointer[Callback]
	rearm chan struct{}

	mu      sync.Mutex // Serialises phase changes from software
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSimTimer creates a paused, unconfigured timer fed by a clock of sourceHz.
func NewSimTimer(sourceHz uint64) *SimTimer {
	s := &SimTimer{
		sourceHz: sourceHz,
		epoch:    time.Now(),
		rearm:    make(chan struct{}, 1),
	}
	s.phase.Store(&simPhase{paused: true, dir: CountUp})
	return s
}

// Configure sets the divider, count direction and auto-reload.
func (s *SimTimer) Configure(divider int, dir Direction, autoReload bool) error {
	if divider < minDivider || divider > maxDivider {
		return fmt.Errorf("divider %d: %w", divider, ErrConfig)
	}
	if dir != CountUp && dir != CountDown {
		return fmt.Errorf("%v: %w", dir, ErrConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("timer running: %w", ErrConfig)
	}
	np := s.rebase()
	np.divider = divider
	np.dir = dir
	np.autoReload = autoReload
	s.phase.Store(np)
	return nil
}

// SetCounter loads the counter, and sets the value loaded on auto-reload.
func (s *SimTimer) SetCounter(v uint64) {
	s.update(func(p *simPhase) {
		p.base = v
		p.reload = v
	})
}

// Counter returns the current counter value.
func (s *SimTimer) Counter() uint64 {
	return s.phase.Load().value(s.now(), s.sourceHz)
}

// ElapsedSeconds returns the counter value converted to seconds.
func (s *SimTimer) ElapsedSeconds() float64 {
	p := s.phase.Load()
	return counterSeconds(p.value(s.now(), s.sourceHz), s.sourceHz, p.divider)
}

// SetAlarm sets the alarm value.
func (s *SimTimer) SetAlarm(v uint64) {
	s.update(func(p *simPhase) {
		p.alarm = v
	})
}

// EnableAlarm arms the alarm. Without auto-reload the alarm disarms
// itself after firing once.
func (s *SimTimer) EnableAlarm() {
	s.update(func(p *simPhase) {
		p.alarmEn = true
	})
}

// RegisterCallback installs the interrupt callback.
func (s *SimTimer) RegisterCallback(f Callback) error {
	if f == nil {
		return fmt.Errorf("nil callback: %w", ErrRegistration)
	}
	if !s.cb.CompareAndSwap(nil, &f) {
		return ErrRegistration
	}
	return nil
}

// Start resumes counting from the current counter value.
func (s *SimTimer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	np := s.rebase()
	np.paused = false
	s.phase.Store(np)
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.hardware(s.stop, s.done)
}

// Stop pauses counting, holding the counter value.
func (s *SimTimer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false
	np := s.rebase()
	np.paused = true
	s.phase.Store(np)
}

// Close stops the timer.
func (s *SimTimer) Close() {
	s.Stop()
}

// Trigger raises the alarm interrupt now without a counter match.
// The callback runs on the calling goroutine.
func (s *SimTimer) Trigger() {
	s.interrupt(s.phase.Load().alarm)
}

// update applies f to a copy of the current phase and publishes it.
func (s *SimTimer) update(f func(*simPhase)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	np := s.rebase()
	f(np)
	s.phase.Store(np)
	s.nudge()
}

// rebase returns a copy of the current phase starting now.
func (s *SimTimer) rebase() *simPhase {
	now := s.now()
	p := s.phase.Load()
	np := *p
	np.base = p.value(now, s.sourceHz)
	np.start = now
	return &np
}

// hardware raises alarms until stopped.
func (s *SimTimer) hardware(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTimer(time.Hour)
	t.Stop()
	var cur *simPhase
	var k uint64 // Next match of cur
	for {
		p := s.phase.Load()
		if p != cur {
			cur, k = p, 0
		}
		var tc <-chan time.Time
		if at, ok := p.matchAt(k, s.sourceHz); ok {
			t.Reset(time.Until(s.epoch.Add(time.Duration(at))))
			tc = t.C
		}
		select {
		case <-stop:
			t.Stop()
			return
		case <-s.rearm:
			t.Stop()
		case <-tc:
			if !s.match(p) {
				continue
			}
			k = p.matchesBy(s.now(), s.sourceHz)
		}
	}
}

// match raises the interrupt for a match of phase p. Without auto-reload
// the alarm is disarmed first. It returns false if the phase was replaced.
func (s *SimTimer) match(p *simPhase) bool {
	if !p.wraps() {
		np := *p
		np.alarmEn = false
		if !s.phase.CompareAndSwap(p, &np) {
			return false
		}
	} else if s.phase.Load() != p {
		return false
	}
	s.interrupt(p.alarm)
	return true
}

// interrupt runs the callback to completion, yielding afterwards if asked.
func (s *SimTimer) interrupt(alarm uint64) {
	f := s.cb.Load()
	if f == nil {
		return
	}
	if (*f)(AlarmEvent{Alarm: alarm}) {
		runtime.Gosched()
	}
}

func (s *SimTimer) nudge() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

func (s *SimTimer) now() int64 {
	return int64(time.Since(s.epoch))
}
