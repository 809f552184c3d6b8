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
	"time"
)

const (
	minDivider = 2
	maxDivider = 65536

	// NotifyBit is the notification bit posted on each alarm.
	NotifyBit = 0x01
)

// Direction selects whether the counter increments or decrements.
type Direction int

const (
	CountDown Direction = iota
	CountUp
)

func (d Direction) String() string {
	switch d {
	case CountUp:
		return "up"
	case CountDown:
		return "down"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Config contains the timer and task settings.
// A configuration is built through the config methods on this structure e.g:
//
//	c := NewConfig()
//	c.Divider(16).Alarm(10000000).AutoReload(true)
//	sys, err := gptimer.New(c, drv, out)
type Config struct {
	divider    int
	dir        Direction
	autoReload bool
	initial    uint64
	alarm      uint64
	sourceHz   uint64
	tickHz     int
	sample     time.Duration
	bit        uint32
}

// DefaultConfig returns the standard configuration:
// an 80 MHz source clock divided by 16 (5 MHz counter), counting up from 0,
// an alarm every 10000000 counts (2 seconds) with auto-reload, a 100 Hz
// scheduler tick and a 1 second sampling period.
func DefaultConfig() *Config {
	return NewConfig().
		Divider(16).
		Direction(CountUp).
		AutoReload(true).
		Initial(0).
		Alarm(5000000 * 2).
		SourceHz(80000000).
		TickHz(100).
		SamplePeriod(time.Second)
}

// NewConfig creates a Config with only the notification bit and
// scheduler tick rate set.
func NewConfig() *Config {
	return &Config{dir: CountUp, tickHz: 100, bit: NotifyBit}
}

// Divider sets the clock prescaler, from 2 to 65536.
func (c *Config) Divider(d int) *Config {
	c.divider = d
	return c
}

// Direction sets the count direction.
func (c *Config) Direction(d Direction) *Config {
	c.dir = d
	return c
}

// AutoReload enables reloading the counter with the initial value on alarm match.
func (c *Config) AutoReload(on bool) *Config {
	c.autoReload = on
	return c
}

// Initial sets the counter value at start, which is also the reload value.
func (c *Config) Initial(v uint64) *Config {
	c.initial = v
	return c
}

// Alarm sets the counter value that raises the interrupt.
func (c *Config) Alarm(v uint64) *Config {
	c.alarm = v
	return c
}

// SourceHz sets the frequency of the clock feeding the divider.
func (c *Config) SourceHz(hz uint64) *Config {
	c.sourceHz = hz
	return c
}

// TickHz sets the scheduler tick rate.
func (c *Config) TickHz(hz int) *Config {
	c.tickHz = hz
	return c
}

// SamplePeriod sets the period of the sampling loop.
func (c *Config) SamplePeriod(d time.Duration) *Config {
	c.sample = d
	return c
}

// NotifyBit sets the bit posted by the interrupt handler.
func (c *Config) NotifyBit(b uint32) *Config {
	c.bit = b
	return c
}

// Validate checks that the configuration can be applied to the hardware.
func (c *Config) Validate() error {
	if c.divider < minDivider || c.divider > maxDivider {
		return fmt.Errorf("divider %d out of range %d..%d: %w", c.divider, minDivider, maxDivider, ErrConfig)
	}
	if c.dir != CountUp && c.dir != CountDown {
		return fmt.Errorf("%v: %w", c.dir, ErrConfig)
	}
	if c.sourceHz == 0 {
		return fmt.Errorf("no source clock frequency: %w", ErrConfig)
	}
	if c.autoReload && !c.alarmAhead() {
		return fmt.Errorf("alarm value %d not reachable counting %v from %d: %w", c.alarm, c.dir, c.initial, ErrConfig)
	}
	if c.tickHz <= 0 || c.tickHz > int(time.Second) {
		return fmt.Errorf("scheduler tick rate %d Hz: %w", c.tickHz, ErrConfig)
	}
	if c.sample <= 0 {
		return fmt.Errorf("sampling period %v: %w", c.sample, ErrConfig)
	}
	if c.bit == 0 {
		return fmt.Errorf("empty notification bit: %w", ErrConfig)
	}
	return nil
}

// Rate returns the counter rate in counts per second.
func (c *Config) Rate() float64 {
	return float64(c.sourceHz) / float64(c.divider)
}

// AlarmPeriod returns the time between alarms when auto-reload is enabled.
// It is 0 if the alarm is not ahead of the initial value.
func (c *Config) AlarmPeriod() time.Duration {
	if !c.alarmAhead() {
		return 0
	}
	var n uint64
	if c.dir == CountUp {
		n = c.alarm - c.initial
	} else {
		n = c.initial - c.alarm
	}
	return countsToDuration(n, c.sourceHz, c.divider)
}

// alarmAhead reports whether the alarm lies ahead of the initial value in
// the count direction.
func (c *Config) alarmAhead() bool {
	if c.dir == CountUp {
		return c.alarm > c.initial
	}
	return c.alarm < c.initial
}
