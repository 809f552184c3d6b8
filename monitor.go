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
	"context"
)

// Monitor is the task woken by the alarm interrupt.
// Each wake reads the counter and reports it with the scheduler tick.
type Monitor struct {
	n     *Notifier
	timer Reader
	ticks *TickClock
	out   Reporter
}

// NewMonitor creates a Monitor consuming n.
func NewMonitor(n *Notifier, timer Reader, ticks *TickClock, out Reporter) *Monitor {
	return &Monitor{n: n, timer: timer, ticks: ticks, out: out}
}

// Run waits for notifications until ctx is done.
// The counter keeps running between the alarm and the read, so the
// value reported is a little past the reload value.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		bits, err := m.n.Wait(ctx)
		if err != nil {
			return err
		}
		m.out.Alarm(AlarmReport{
			Tick:    m.ticks.Now(),
			Counter: m.timer.Counter(),
			Bits:    bits,
		})
	}
}
