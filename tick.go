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

// TickClock is the scheduler timebase. Ticks count from the creation
// of the clock at a fixed rate.
type TickClock struct {
	start  time.Time
	period time.Duration
}

// NewTickClock creates a clock ticking at hz ticks per second.
// The rate is clamped to between 1 Hz and 1 GHz.
func NewTickClock(hz int) *TickClock {
	if hz <= 0 {
		hz = 1
	} else if hz > int(time.Second) {
		hz = int(time.Second)
	}
	return &TickClock{start: time.Now(), period: time.Second / time.Duration(hz)}
}

// Now returns the number of ticks since the clock was created.
func (c *TickClock) Now() uint64 {
	return uint64(time.Since(c.start) / c.period)
}

// Period returns the duration of one tick.
func (c *TickClock) Period() time.Duration {
	return c.period
}

// FromDuration converts a duration to ticks, rounding down.
func (c *TickClock) FromDuration(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / c.period)
}

// Duration converts ticks to a duration.
func (c *TickClock) Duration(ticks uint64) time.Duration {
	return time.Duration(ticks) * c.period
}

// DelayUntil blocks until tick *prev + incr, and advances *prev to it.
// Wake times are derived from the previous wake time rather than the
// time of the call, so the period does not drift with the work done
// between calls. If the wake time has already passed, it returns
// immediately with false.
func (c *TickClock) DelayUntil(ctx context.Context, prev *uint64, incr uint64) (bool, error) {
	*prev += incr
	wait := time.Until(c.start.Add(c.Duration(*prev)))
	if wait <= 0 {
		return false, ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
