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
	"time"
)

// Sampler polls a timer at a fixed period and reports what it reads.
// It does not synchronise with the alarm interrupt or the Monitor.
type Sampler struct {
	timer  Reader
	ticks  *TickClock
	period uint64 // In scheduler ticks
	out    Reporter
}

// NewSampler creates a Sampler reading timer every period.
// The period is rounded down to whole scheduler ticks, with a minimum of one.
func NewSampler(timer Reader, ticks *TickClock, period time.Duration, out Reporter) *Sampler {
	p := ticks.FromDuration(period)
	if p == 0 {
		p = 1
	}
	return &Sampler{timer: timer, ticks: ticks, period: p, out: out}
}

// Run samples until ctx is done. Each wake is scheduled one period after
// the previous wake, so reporting time does not accumulate as drift.
func (s *Sampler) Run(ctx context.Context) error {
	wake := s.ticks.Now()
	for {
		snap := Sample(s.timer)
		s.out.Sample(SampleReport{
			Tick:    wake,
			Counter: snap.Counter,
			Elapsed: snap.Elapsed,
		})
		if _, err := s.ticks.DelayUntil(ctx, &wake, s.period); err != nil {
			return err
		}
	}
}
