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
	"errors"
	"sync/atomic"
	"time"
)

// ErrBusy is returned when a second task waits on a Notifier.
var ErrBusy = errors.New("gptimer: notifier already has a waiting task")

// Notifier hands signal bits from interrupt context to a single waiting task.
// Bits posted before the task waits are merged, so several posts
// result in one wake carrying the union of the bits.
type Notifier struct {
	pending atomic.Uint32
	waiting atomic.Bool
	owner   atomic.Bool
	wake    chan struct{}
}

// NewNotifier creates a Notifier. All the state used by PostFromISR is
// allocated here.
func NewNotifier() *Notifier {
	return &Notifier{wake: make(chan struct{}, 1)}
}

// PostFromISR merges bits into the pending value and wakes the waiting task.
// It never blocks. The result reports whether the task was blocked
// in Wait and has been made runnable.
func (n *Notifier) PostFromISR(bits uint32) bool {
	n.pending.Or(bits)
	select {
	case n.wake <- struct{}{}:
	default:
		// A wake is already queued.
	}
	return n.waiting.Load()
}

// Pending returns the bits posted but not yet consumed, without clearing them.
func (n *Notifier) Pending() uint32 {
	return n.pending.Load()
}

// Wait blocks until at least one bit is pending, then returns the pending
// bits and clears them. It returns early only if ctx is done.
func (n *Notifier) Wait(ctx context.Context) (uint32, error) {
	if !n.owner.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer n.owner.Store(false)
	for {
		if v := n.pending.Swap(0); v != 0 {
			return v, nil
		}
		n.waiting.Store(true)
		// Re-check after advertising the wait, so a post that saw
		// waiting == false is not missed.
		if v := n.pending.Swap(0); v != 0 {
			n.waiting.Store(false)
			return v, nil
		}
		select {
		case <-n.wake:
			n.waiting.Store(false)
			// The wake may be stale from bits already consumed; loop and re-check.
		case <-ctx.Done():
			n.waiting.Store(false)
			return 0, ctx.Err()
		}
	}
}

// WaitForever blocks until at least one bit is pending, then returns and
// clears the pending bits.
func (n *Notifier) WaitForever() uint32 {
	v, err := n.Wait(context.Background())
	if err != nil {
		// Without a deadline only ErrBusy is possible, which breaks
		// the single waiter contract.
		panic(err)
	}
	return v
}

// WaitTimeout waits for pending bits, returning if the timeout expires e.g
//
//	v, ok, err := n.WaitTimeout(time.Second)
//	if ok {
//		// Bits received
//	} else {
//		// Timed out
//	}
func (n *Notifier) WaitTimeout(tout time.Duration) (uint32, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tout)
	defer cancel()
	v, err := n.Wait(ctx)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, context.DeadlineExceeded):
		return 0, false, nil
	}
	return 0, false, err
}
