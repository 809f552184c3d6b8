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
	"testing"
	"time"
)

// rampReader is a Reader whose counter advances on each read.
type rampReader struct {
	v atomic.Uint64
}

func (r *rampReader) Counter() uint64 {
	return r.v.Add(10)
}

func (r *rampReader) ElapsedSeconds() float64 {
	return float64(r.v.Load()) / 1000
}

func TestMonitor(t *testing.T) {
	n := NewNotifier()
	rec := &recorder{}
	m := NewMonitor(n, &rampReader{}, NewTickClock(1000), rec)
	// Two posts before the first wake coalesce.
	n.PostFromISR(0x01)
	n.PostFromISR(0x02)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		errc <- m.Run(ctx)
	}()
	for i := 0; i < 3; i++ {
		if i > 0 {
			n.PostFromISR(NotifyBit)
		}
		deadline := time.Now().Add(time.Second)
		for {
			a, _ := rec.snapshot()
			if len(a) == i+1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("Monitor did not report wake %d", i)
			}
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected canceled, got %v", err)
	}
	a, s := rec.snapshot()
	if len(a) != 3 || len(s) != 0 {
		t.Fatalf("Expected 3 alarm reports, got %d alarms, %d samples", len(a), len(s))
	}
	if a[0].Bits != 0x03 {
		t.Errorf("Expected coalesced bits 0x03, got %#x", a[0].Bits)
	}
	for i, r := range a {
		if i > 0 && r.Bits != NotifyBit {
			t.Errorf("Report %d: expected bits %#x, got %#x", i, NotifyBit, r.Bits)
		}
		if r.Counter != uint64(i+1)*10 {
			t.Errorf("Report %d: expected counter %d, got %d", i, (i+1)*10, r.Counter)
		}
	}
}

func TestSampler(t *testing.T) {
	rec := &recorder{}
	ticks := NewTickClock(1000)
	s := NewSampler(&rampReader{}, ticks, 10*time.Millisecond, rec)
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	_, samples := rec.snapshot()
	// Samples at 0, 10, 20, 30, 40 and 50ms.
	if len(samples) < 3 || len(samples) > 6 {
		t.Fatalf("Expected up to 6 samples, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if d := samples[i].Tick - samples[i-1].Tick; d != 10 {
			t.Errorf("Sample %d: expected 10 ticks after the previous one, got %d", i, d)
		}
		if samples[i].Counter <= samples[i-1].Counter {
			t.Errorf("Sample %d: counter did not advance", i)
		}
	}
}

func TestSamplerMinimumPeriod(t *testing.T) {
	s := NewSampler(&rampReader{}, NewTickClock(100), time.Millisecond, &recorder{})
	if s.period != 1 {
		t.Errorf("Expected period of 1 tick, got %d", s.period)
	}
}
