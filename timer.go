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
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"
)

var (
	// ErrConfig is returned when the hardware cannot support a configuration.
	ErrConfig = errors.New("gptimer: unsupported configuration")

	// ErrRegistration is returned when an interrupt callback is already installed.
	ErrRegistration = errors.New("gptimer: callback already registered")

	// ErrState is returned when a timer operation is not valid in the current state.
	ErrState = errors.New("gptimer: invalid timer state")
)

// AlarmEvent describes one alarm match, as seen by the interrupt callback.
type AlarmEvent struct {
	Unit  int    // Timer unit within the group
	Alarm uint64 // Alarm value that was matched
}

// Callback is invoked in interrupt context on each alarm match.
// It must not block or allocate. The return value requests a yield on return
// from the interrupt, because a higher priority task was made runnable.
type Callback func(AlarmEvent) bool

// Reader is the read side of a timer. Reads are not synchronised with
// the hardware; the value returned is a snapshot that may already be
// stale, and two reads in a row may observe a reload in between.
type Reader interface {
	Counter() uint64
	ElapsedSeconds() float64
}

// Driver is the register interface to one hardware timer.
type Driver interface {
	Reader
	Configure(divider int, dir Direction, autoReload bool) error
	SetCounter(v uint64)
	SetAlarm(v uint64)
	EnableAlarm()
	RegisterCallback(f Callback) error
	Start()
	Stop()
}

// Snapshot is a pair of back to back reads of a timer.
// Counter and Elapsed are read separately and may disagree.
type Snapshot struct {
	Counter uint64
	Elapsed float64
}

// Sample reads the elapsed time and then the counter.
func Sample(r Reader) Snapshot {
	var s Snapshot
	s.Elapsed = r.ElapsedSeconds()
	s.Counter = r.Counter()
	return s
}

// State is the lifecycle state of a Timer.
//
//	Unconfigured -> Configured   [Configure()]
//	Configured   -> Armed        [Arm()]
//	Armed        -> Running      [Start()]
//	Running      -> Stopped      [Stop()]
//
// An alarm match with auto-reload does not leave Running.
type State int

const (
	Unconfigured State = iota
	Configured
	Armed
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Timer sequences the setup of a Driver through its lifecycle states.
type Timer struct {
	drv Driver

	mu    sync.Mutex
	state State
	cfg   Config
}

// NewTimer creates an unconfigured Timer for the driver.
func NewTimer(d Driver) *Timer {
	return &Timer{drv: d}
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Configure applies the counting parameters and the initial counter value.
func (t *Timer) Configure(c *Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Unconfigured {
		return fmt.Errorf("configure in state %v: %w", t.state, ErrState)
	}
	if err := t.drv.Configure(c.divider, c.dir, c.autoReload); err != nil {
		return err
	}
	t.drv.SetCounter(c.initial)
	t.cfg = *c
	t.state = Configured
	return nil
}

// Arm sets and enables the alarm, and installs the interrupt callback.
func (t *Timer) Arm(f Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Configured {
		return fmt.Errorf("arm in state %v: %w", t.state, ErrState)
	}
	if t.cfg.autoReload && !t.cfg.alarmAhead() {
		return fmt.Errorf("alarm value %d not reachable from reload value %d: %w", t.cfg.alarm, t.cfg.initial, ErrConfig)
	}
	if err := t.drv.RegisterCallback(f); err != nil {
		return err
	}
	t.drv.SetAlarm(t.cfg.alarm)
	t.drv.EnableAlarm()
	t.state = Armed
	return nil
}

// Start begins counting.
func (t *Timer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Armed {
		return fmt.Errorf("start in state %v: %w", t.state, ErrState)
	}
	t.drv.Start()
	t.state = Running
	return nil
}

// Stop pauses counting. The counter holds its value.
func (t *Timer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return fmt.Errorf("stop in state %v: %w", t.state, ErrState)
	}
	t.drv.Stop()
	t.state = Stopped
	return nil
}

// Counter reads the driver counter. The state lock is not taken.
func (t *Timer) Counter() uint64 {
	return t.drv.Counter()
}

// ElapsedSeconds reads the driver elapsed time. The state lock is not taken.
func (t *Timer) ElapsedSeconds() float64 {
	return t.drv.ElapsedSeconds()
}

// countsToDuration converts counter counts to a duration at the divided rate,
// rounding up so that the counter has reached n after the duration.
func countsToDuration(n, sourceHz uint64, divider int) time.Duration {
	if sourceHz == 0 || divider <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(n, uint64(time.Second)*uint64(divider))
	if hi >= sourceHz {
		return math.MaxInt64
	}
	ns, rem := bits.Div64(hi, lo, sourceHz)
	if rem != 0 {
		ns++
	}
	if ns > math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

// durationToCounts converts a duration to the number of counts at the divided rate.
func durationToCounts(d time.Duration, sourceHz uint64, divider int) uint64 {
	if d <= 0 || divider <= 0 {
		return 0
	}
	div := uint64(time.Second) * uint64(divider)
	hi, lo := bits.Mul64(uint64(d), sourceHz)
	if hi >= div {
		return math.MaxUint64
	}
	n, _ := bits.Div64(hi, lo, div)
	return n
}

// counterSeconds converts a counter value to seconds at the divided rate.
func counterSeconds(v, sourceHz uint64, divider int) float64 {
	if sourceHz == 0 {
		return 0
	}
	return float64(v) * float64(divider) / float64(sourceHz)
}
